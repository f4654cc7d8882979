package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

// NATSGateway serves orchestration queries over NATS request-reply. Unlike
// HTTP, this transport supports interactive approval: each approval-required
// command is published to a per-conversation subject and a subscriber there
// answers, with a timeout counting as denial.
type NATSGateway struct {
	conn   *nats.Conn
	runner Runner
	locks  *KeyedMutex
	logger *logging.Logger
	cfg    config.NATSConfig
	sub    *nats.Subscription
}

// ApprovalRequest is published on the per-conversation approval subject.
type ApprovalRequest struct {
	Command   string `json:"command"`
	Rationale string `json:"rationale,omitempty"`
}

// ApprovalReply answers an ApprovalRequest.
type ApprovalReply struct {
	Approved bool `json:"approved"`
}

// ErrorResponse carries a failed orchestration back to the requester.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewNATSGateway connects to the broker. locks must be shared with every
// other transport serving the same stores.
func NewNATSGateway(runner Runner, locks *KeyedMutex, logger *logging.Logger, cfg config.NATSConfig) (*NATSGateway, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if locks == nil {
		locks = NewKeyedMutex()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSGateway{
		conn:   conn,
		runner: runner,
		locks:  locks,
		logger: logger.Named("nats"),
		cfg:    cfg,
	}, nil
}

// Start subscribes to the query subject. Each message is handled on its own
// goroutine; per-conversation ordering comes from the keyed lock.
func (g *NATSGateway) Start() error {
	sub, err := g.conn.Subscribe(g.cfg.QuerySubject, func(msg *nats.Msg) {
		go g.handleQuery(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", g.cfg.QuerySubject, err)
	}
	g.sub = sub
	g.logger.Info(context.Background(), "nats gateway listening",
		zap.String("subject", g.cfg.QuerySubject))
	return nil
}

func (g *NATSGateway) handleQuery(msg *nats.Msg) {
	ctx := context.Background()

	var req OrchestrateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		g.reply(ctx, msg, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Query == "" || req.ConversationID == "" {
		g.reply(ctx, msg, ErrorResponse{Error: "conversation_id and query fields are required"})
		return
	}

	ctx = logging.WithConversationID(ctx, req.ConversationID)

	g.locks.Lock(req.ConversationID)
	defer g.locks.Unlock(req.ConversationID)

	result, err := g.runner.Run(ctx, req.ConversationID, req.Query, orchestrator.Options{
		SideContext: req.SideContext,
		Simple:      req.Simple,
		Approver:    g.approver(req.ConversationID),
	})
	if err != nil {
		g.logger.Error(ctx, "orchestration failed", zap.Error(err))
		g.reply(ctx, msg, ErrorResponse{Error: "orchestration failed"})
		return
	}

	g.reply(ctx, msg, OrchestrateResponse{
		ConversationID: req.ConversationID,
		Result:         result,
	})
}

// approver asks the conversation's approval subject and treats any failure
// (no responder, timeout, malformed reply) as denial.
func (g *NATSGateway) approver(conversationID string) orchestrator.Approver {
	subject := g.approvalSubject(conversationID)
	return func(ctx context.Context, command, rationale string) bool {
		payload, err := json.Marshal(ApprovalRequest{Command: command, Rationale: rationale})
		if err != nil {
			return false
		}

		ctx, cancel := context.WithTimeout(ctx, g.cfg.ApprovalTimeout.Duration())
		defer cancel()

		msg, err := g.conn.RequestWithContext(ctx, subject, payload)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrNoResponders) {
				g.logger.Info(ctx, "approval request unanswered, denying",
					zap.String("subject", subject))
			} else {
				g.logger.Warn(ctx, "approval request failed, denying", zap.Error(err))
			}
			return false
		}

		var reply ApprovalReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			g.logger.Warn(ctx, "malformed approval reply, denying", zap.Error(err))
			return false
		}
		return reply.Approved
	}
}

func (g *NATSGateway) approvalSubject(conversationID string) string {
	// Conversation identities are caller-supplied; keep them token-safe.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, conversationID)
	return g.cfg.ApprovalSubjectPrefix + safe
}

func (g *NATSGateway) reply(ctx context.Context, msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		g.logger.Error(ctx, "failed to marshal reply", zap.Error(err))
		return
	}
	if err := msg.Respond(payload); err != nil {
		g.logger.Warn(ctx, "failed to send reply", zap.Error(err))
	}
}

// Shutdown drains the subscription and closes the connection.
func (g *NATSGateway) Shutdown() {
	if g.sub != nil {
		if err := g.sub.Drain(); err != nil {
			g.logger.Warn(context.Background(), "failed to drain subscription", zap.Error(err))
		}
	}
	g.conn.Close()
}
