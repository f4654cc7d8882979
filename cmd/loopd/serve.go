package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/docstore"
	"github.com/fyrsmithlabs/loopd/internal/gateway"
	"github.com/fyrsmithlabs/loopd/internal/llm"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/plan"
	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
	"github.com/fyrsmithlabs/loopd/internal/shell"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the loopd daemon",
	RunE:  runServe,
}

// services holds everything the daemon wires together at startup.
type services struct {
	logger       *logging.Logger
	orchestrator *orchestrator.Service
	memory       *memory.Store
	pad          *scratchpad.Pad
}

func buildServices(cfg *config.Config) (*services, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	docs, err := docstore.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	reasoner := llm.NewReasoner(client, logger)
	summarizer := llm.NewSummarizer(client)

	mem := memory.NewStore(docs, summarizer, logger, cfg.Memory)
	pad := scratchpad.NewPad(docs, logger)
	tracker := plan.NewTracker(pad, nil, logger)
	executor := shell.NewExecutor(logger)

	svc := orchestrator.NewService(reasoner, executor, mem, pad, tracker, logger, cfg.Orchestrator)

	return &services{
		logger:       logger,
		orchestrator: svc,
		memory:       mem,
		pad:          pad,
	}, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deps, err := buildServices(cfg)
	if err != nil {
		return err
	}
	logger := deps.logger
	defer logger.Sync()

	// One lock set across transports keeps each conversation to a single
	// in-flight run no matter which gateway the request came through.
	locks := gateway.NewKeyedMutex()

	server, err := gateway.NewServer(deps.orchestrator, deps.memory, deps.pad, locks, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	var natsGW *gateway.NATSGateway
	if cfg.NATS.Enabled {
		natsGW, err = gateway.NewNATSGateway(deps.orchestrator, locks, logger, cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats gateway: %w", err)
		}
		if err := natsGW.Start(); err != nil {
			return fmt.Errorf("start nats gateway: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx := context.Background()
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error(ctx, "http server failed", zap.Error(err))
		if natsGW != nil {
			natsGW.Shutdown()
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if natsGW != nil {
		natsGW.Shutdown()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logger.Info(ctx, "shutdown complete")
	return nil
}
