package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/plan"
	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
)

// Service runs orchestrations. Callers must serialize invocations per
// conversation; the service itself holds no cross-call state.
type Service struct {
	reasoner Reasoner
	executor Executor
	memory   *memory.Store
	pad      *scratchpad.Pad
	tracker  *plan.Tracker
	logger   *logging.Logger
	cfg      config.OrchestratorConfig
}

func NewService(
	reasoner Reasoner,
	executor Executor,
	mem *memory.Store,
	pad *scratchpad.Pad,
	tracker *plan.Tracker,
	logger *logging.Logger,
	cfg config.OrchestratorConfig,
) *Service {
	return &Service{
		reasoner: reasoner,
		executor: executor,
		memory:   mem,
		pad:      pad,
		tracker:  tracker,
		logger:   logger.Named("orchestrator"),
		cfg:      cfg,
	}
}

// denialState tracks consecutive declines of the same command within one
// Run invocation. It is never persisted.
type denialState struct {
	lastCommand string
	consecutive int
}

// record notes a decline and reports whether the breaker fired.
func (d *denialState) record(command string, limit int) bool {
	if command == d.lastCommand {
		d.consecutive++
	} else {
		d.lastCommand = command
		d.consecutive = 1
	}
	return d.consecutive >= limit
}

func (d *denialState) reset() {
	d.lastCommand = ""
	d.consecutive = 0
}

// Run orchestrates a single query for a conversation: optional analysis,
// optional planning, then bounded reasoning iterations with side-effect
// dispatch. Soft conditions (declines, missing context) are recorded and
// absorbed; hard failures are recorded as blockers and returned.
func (s *Service) Run(ctx context.Context, conversationID, query string, opts Options) (*Result, error) {
	ctx = logging.WithConversationID(ctx, conversationID)
	result := &Result{}

	if !opts.Simple && looksComplex(query) {
		analysis, err := s.analyze(ctx, conversationID, query)
		if err != nil {
			return nil, err
		}
		result.Analysis = analysis

		if analysis.Priority == PriorityHigh || analysis.Priority == PriorityCritical {
			planResult, err := s.plan(ctx, conversationID, query, analysis)
			if err != nil {
				return nil, err
			}
			result.Plan = planResult
		}
	}

	var (
		denials     denialState
		forceStop   bool
		priorTurn   string
		priorOutput string
	)

	for iteration := 1; iteration <= s.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration
		if opts.OnIteration != nil {
			opts.OnIteration(iteration)
		}

		payload, err := s.buildPayload(ctx, conversationID, result, priorTurn, priorOutput, opts.SideContext, iteration)
		if err != nil {
			return nil, s.hardFailure(ctx, conversationID, fmt.Errorf("build context payload: %w", err))
		}

		resp, err := s.reasoner.Turn(ctx, query, payload)
		if err != nil {
			return nil, s.hardFailure(ctx, conversationID, fmt.Errorf("reasoning turn %d: %w", iteration, err))
		}
		if err := validateTurn(resp); err != nil {
			return nil, s.hardFailure(ctx, conversationID, err)
		}

		branch := "responded"
		priorOutput = ""

		switch resp.Kind {
		case KindPlainResponse:
			// No side effect beyond recording.

		case KindCodeGeneration:
			branch = "generated"
			note := fmt.Sprintf("generated %s code: %s", resp.Code.Language, firstLine(resp.Code.Explanation))
			if err := s.pad.AddCompleted(ctx, conversationID, note); err != nil {
				return nil, s.hardFailure(ctx, conversationID, err)
			}
			if _, err := s.tracker.MatchAndComplete(ctx, conversationID, resp.Code.Code, resp.Code.Explanation); err != nil {
				return nil, s.hardFailure(ctx, conversationID, err)
			}

		case KindTerminalCommand:
			cmd := resp.Command
			approved := true
			if cmd.RequiresApproval {
				approved = opts.Approver != nil && opts.Approver(ctx, cmd.Command, cmd.Rationale)
			}
			if !approved {
				branch = "declined"
				telemetry.CommandDenials.Inc()
				s.logger.Info(ctx, "command declined",
					zap.String("command", cmd.Command),
					zap.Int("iteration", iteration))
				if err := s.pad.AddBlocker(ctx, conversationID, "command declined: "+cmd.Command); err != nil {
					return nil, s.hardFailure(ctx, conversationID, err)
				}
				if denials.record(cmd.Command, s.cfg.DenialLimit) {
					telemetry.BreakerTrips.Inc()
					s.logger.Warn(ctx, "denial breaker tripped, stopping",
						zap.String("command", cmd.Command))
					if err := s.pad.AddBlocker(ctx, conversationID, "too many denials of the same command, stopping"); err != nil {
						return nil, s.hardFailure(ctx, conversationID, err)
					}
					forceStop = true
				}
			} else {
				branch = "executed"
				execResult, err := s.executor.Execute(ctx, cmd.Command)
				if err != nil {
					return nil, s.hardFailure(ctx, conversationID, fmt.Errorf("execute command: %w", err))
				}
				priorOutput = fmt.Sprintf("exit code %d\n%s", execResult.ExitCode, execResult.Output)
				if err := s.pad.AddCompleted(ctx, conversationID, "ran command: "+cmd.Command); err != nil {
					return nil, s.hardFailure(ctx, conversationID, err)
				}
				if _, err := s.tracker.MatchAndComplete(ctx, conversationID, cmd.Command, cmd.Rationale); err != nil {
					return nil, s.hardFailure(ctx, conversationID, err)
				}
				denials.reset()
			}
		}

		for _, item := range resp.MissingContext {
			if err := s.pad.AddBlocker(ctx, conversationID, "missing context: "+item); err != nil {
				return nil, s.hardFailure(ctx, conversationID, err)
			}
		}

		if _, err := s.memory.AddInteraction(ctx, conversationID, memory.AddInput{
			Query:           query,
			Context:         opts.SideContext,
			ResponseKind:    string(resp.Kind),
			ResponseContent: responseContent(resp),
			Branch:          branch,
		}); err != nil {
			return nil, s.hardFailure(ctx, conversationID, fmt.Errorf("record turn: %w", err))
		}
		telemetry.Turns.WithLabelValues(branch).Inc()

		result.Turns = append(result.Turns, resp)
		if opts.OnTurn != nil {
			opts.OnTurn(iteration, resp)
		}

		priorTurn = fmt.Sprintf("%s: %s", resp.Kind, firstLine(responseContent(resp)))

		if forceStop || !resp.Continue {
			break
		}
	}

	telemetry.Orchestrations.WithLabelValues("success").Inc()
	telemetry.Iterations.Observe(float64(result.Iterations))
	s.logger.Info(ctx, "orchestration finished",
		zap.Int("iterations", result.Iterations),
		zap.Int("turns", len(result.Turns)))
	return result, nil
}

func (s *Service) analyze(ctx context.Context, conversationID, query string) (*Analysis, error) {
	memCtx, err := s.memory.ContextString(ctx, conversationID)
	if err != nil {
		return nil, s.hardFailure(ctx, conversationID, err)
	}
	analysis, err := s.reasoner.Analyze(ctx, query, memCtx)
	if err != nil {
		return nil, s.hardFailure(ctx, conversationID, fmt.Errorf("analysis: %w", err))
	}
	s.logger.Debug(ctx, "query analyzed",
		zap.String("priority", string(analysis.Priority)),
		zap.Bool("urgent", analysis.Urgent))
	return analysis, nil
}

func (s *Service) plan(ctx context.Context, conversationID, query string, analysis *Analysis) (*PlanResult, error) {
	memCtx, err := s.memory.ContextString(ctx, conversationID)
	if err != nil {
		return nil, s.hardFailure(ctx, conversationID, err)
	}
	planResult, err := s.reasoner.Plan(ctx, query, memCtx)
	if err != nil {
		return nil, s.hardFailure(ctx, conversationID, fmt.Errorf("planning: %w", err))
	}

	task := fmt.Sprintf("%s (priority: %s)\nApproach: %s", query, analysis.Priority, analysis.Approach)
	if err := s.pad.SetCurrentTask(ctx, conversationID, task); err != nil {
		return nil, s.hardFailure(ctx, conversationID, err)
	}
	descriptions := make([]string, len(planResult.Steps))
	for i, step := range planResult.Steps {
		descriptions[i] = step.Description
	}
	if err := s.pad.SetPlan(ctx, conversationID, descriptions); err != nil {
		return nil, s.hardFailure(ctx, conversationID, err)
	}
	for _, item := range planResult.MissingContext {
		if err := s.pad.AddBlocker(ctx, conversationID, "missing context: "+item); err != nil {
			return nil, s.hardFailure(ctx, conversationID, err)
		}
	}

	s.logger.Debug(ctx, "plan generated", zap.Int("steps", len(planResult.Steps)))
	return planResult, nil
}

// buildPayload concatenates the turn context in a fixed order, omitting
// empty sections.
func (s *Service) buildPayload(ctx context.Context, conversationID string, result *Result, priorTurn, priorOutput, sideContext string, iteration int) (string, error) {
	var sections []string

	memCtx, err := s.memory.ContextString(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if memCtx != "" {
		sections = append(sections, memCtx)
	}

	if result.Analysis != nil {
		sections = append(sections, "Analysis: "+result.Analysis.Summary)
	}

	if result.Plan != nil && len(result.Plan.Steps) > 0 {
		var sb strings.Builder
		sb.WriteString("Plan:\n")
		for i, step := range result.Plan.Steps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step.Description)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	doc, err := s.pad.Document(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(doc) != "" {
		sections = append(sections, "Scratchpad:\n"+doc)
	}

	if priorTurn != "" {
		sections = append(sections, "Previous turn: "+priorTurn)
	}
	if priorOutput != "" {
		sections = append(sections, "Previous command output:\n"+priorOutput)
	}
	if sideContext != "" {
		sections = append(sections, "Additional context:\n"+sideContext)
	}
	sections = append(sections, fmt.Sprintf("Iteration %d of %d.", iteration, s.cfg.MaxIterations))

	return strings.Join(sections, "\n\n"), nil
}

// hardFailure records the error as a scratchpad blocker before returning
// it. The blocker write is best-effort; the original error wins.
func (s *Service) hardFailure(ctx context.Context, conversationID string, err error) error {
	telemetry.Orchestrations.WithLabelValues("error").Inc()
	s.logger.Error(ctx, "orchestration failed", zap.Error(err))
	if blockErr := s.pad.AddBlocker(ctx, conversationID, "orchestration failure: "+err.Error()); blockErr != nil {
		s.logger.Warn(ctx, "failed to record failure blocker", zap.Error(blockErr))
	}
	return err
}

// validateTurn checks the tagged union: exactly the payload matching Kind
// must be present.
func validateTurn(resp *TurnResponse) error {
	if resp == nil {
		return fmt.Errorf("malformed turn response: nil")
	}
	switch resp.Kind {
	case KindPlainResponse:
		if resp.Plain == nil {
			return fmt.Errorf("malformed turn response: %s without payload", resp.Kind)
		}
	case KindCodeGeneration:
		if resp.Code == nil {
			return fmt.Errorf("malformed turn response: %s without payload", resp.Kind)
		}
	case KindTerminalCommand:
		if resp.Command == nil {
			return fmt.Errorf("malformed turn response: %s without payload", resp.Kind)
		}
	default:
		return fmt.Errorf("malformed turn response: unknown kind %q", resp.Kind)
	}
	return nil
}

func responseContent(resp *TurnResponse) string {
	switch resp.Kind {
	case KindPlainResponse:
		return resp.Plain.Text
	case KindCodeGeneration:
		return resp.Code.Explanation + "\n" + resp.Code.Code
	case KindTerminalCommand:
		return resp.Command.Command
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
