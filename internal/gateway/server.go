// Package gateway exposes the orchestrator over HTTP and NATS. Both
// transports serialize requests per conversation identity before touching
// the stores.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
)

// Runner runs one orchestration. Satisfied by *orchestrator.Service.
type Runner interface {
	Run(ctx context.Context, conversationID, query string, opts orchestrator.Options) (*orchestrator.Result, error)
}

// Server provides the HTTP surface.
type Server struct {
	echo   *echo.Echo
	runner Runner
	memory *memory.Store
	pad    *scratchpad.Pad
	locks  *KeyedMutex
	logger *logging.Logger
	cfg    config.ServerConfig
}

// NewServer builds the HTTP surface. locks must be shared with every other
// transport serving the same stores.
func NewServer(runner Runner, mem *memory.Store, pad *scratchpad.Pad, locks *KeyedMutex, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if locks == nil {
		locks = NewKeyedMutex()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		runner: runner,
		memory: mem,
		pad:    pad,
		locks:  locks,
		logger: logger.Named("http"),
		cfg:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/orchestrate", s.handleOrchestrate)
	v1.GET("/memory/:id/stats", s.handleMemoryStats)
	v1.POST("/memory/:id/clear", s.handleMemoryClear)
	v1.GET("/scratchpad/:id", s.handleScratchpad)
}

// OrchestrateRequest is the request body for POST /api/v1/orchestrate.
type OrchestrateRequest struct {
	// ConversationID identifies the conversation; a fresh one is generated
	// when absent.
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	SideContext    string `json:"side_context,omitempty"`
	Simple         bool   `json:"simple,omitempty"`
}

// OrchestrateResponse is the response body for POST /api/v1/orchestrate.
type OrchestrateResponse struct {
	ConversationID string               `json:"conversation_id"`
	Result         *orchestrator.Result `json:"result"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleOrchestrate runs a query to completion. HTTP has no approval
// channel back to the caller, so approval-required commands are denied.
func (s *Server) handleOrchestrate(c echo.Context) error {
	var req OrchestrateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	ctx := logging.WithConversationID(c.Request().Context(), req.ConversationID)

	s.locks.Lock(req.ConversationID)
	defer s.locks.Unlock(req.ConversationID)

	result, err := s.runner.Run(ctx, req.ConversationID, req.Query, orchestrator.Options{
		SideContext: req.SideContext,
		Simple:      req.Simple,
	})
	if err != nil {
		s.logger.Error(ctx, "orchestration failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "orchestration failed")
	}

	return c.JSON(http.StatusOK, OrchestrateResponse{
		ConversationID: req.ConversationID,
		Result:         result,
	})
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	id := c.Param("id")
	stats, err := s.memory.Stats(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load memory stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleMemoryClear(c echo.Context) error {
	id := c.Param("id")

	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if err := s.memory.Clear(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear memory")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleScratchpad(c echo.Context) error {
	id := c.Param("id")
	doc, err := s.pad.Document(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load scratchpad")
	}
	return c.String(http.StatusOK, doc)
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
