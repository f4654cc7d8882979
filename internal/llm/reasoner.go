package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

const analyzeSystemPrompt = `You are a task analyst for an autonomous assistant.

Given a user query and conversation context, assess the request.

Respond with a JSON object containing:
- "summary": one or two sentences describing the situation
- "intent": what the user ultimately wants
- "approach": the suggested way to tackle it
- "priority": one of "low", "medium", "high", "critical"
- "urgent": boolean, true when the request is time-sensitive

Respond ONLY with the JSON object, no additional text.`

const planSystemPrompt = `You are a planner for an autonomous assistant.

Given a user query and conversation context, produce an ordered plan.

Respond with a JSON object containing:
- "steps": an array of {"description": string, "rationale": string}, in
  execution order
- "missing_context": an array of strings naming information you would need
  but do not have (empty array when nothing is missing)

Respond ONLY with the JSON object, no additional text.`

const turnSystemPrompt = `You are an autonomous assistant executing one turn of a task.

Given the user query and accumulated context, decide the single next action.

Respond with a JSON object containing:
- "kind": one of "plain_response", "code_generation", "terminal_command"
- "continue": boolean, true when another turn is needed after this one
- "missing_context": array of strings naming information you lack (optional)
- when kind is "plain_response": "plain": {"text": string,
  "follow_up_questions": [string]}
- when kind is "code_generation": "code": {"language": string,
  "code": string, "explanation": string}
- when kind is "terminal_command": "command": {"command": string,
  "rationale": string, "requires_approval": boolean}

Propose terminal commands with "requires_approval": true unless the command
is read-only. Respond ONLY with the JSON object, no additional text.`

// Reasoner adapts a completion Client to the orchestrator's structured
// contracts. A response that cannot be parsed into the requested shape is
// a permanent failure; the model already had its retries.
type Reasoner struct {
	client Client
	logger *logging.Logger
}

var _ orchestrator.Reasoner = (*Reasoner)(nil)

func NewReasoner(client Client, logger *logging.Logger) *Reasoner {
	return &Reasoner{client: client, logger: logger.Named("llm")}
}

func (r *Reasoner) Analyze(ctx context.Context, query, payload string) (*orchestrator.Analysis, error) {
	text, err := r.complete(ctx, analyzeSystemPrompt, query, payload)
	if err != nil {
		return nil, err
	}
	var analysis orchestrator.Analysis
	if err := unmarshalResult(text, &analysis); err != nil {
		return nil, err
	}
	switch analysis.Priority {
	case orchestrator.PriorityLow, orchestrator.PriorityMedium,
		orchestrator.PriorityHigh, orchestrator.PriorityCritical:
	default:
		return nil, fmt.Errorf("%w: unknown priority %q", ErrReasoningFailed, analysis.Priority)
	}
	return &analysis, nil
}

func (r *Reasoner) Plan(ctx context.Context, query, payload string) (*orchestrator.PlanResult, error) {
	text, err := r.complete(ctx, planSystemPrompt, query, payload)
	if err != nil {
		return nil, err
	}
	var plan orchestrator.PlanResult
	if err := unmarshalResult(text, &plan); err != nil {
		return nil, err
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", ErrReasoningFailed)
	}
	return &plan, nil
}

func (r *Reasoner) Turn(ctx context.Context, query, payload string) (*orchestrator.TurnResponse, error) {
	text, err := r.complete(ctx, turnSystemPrompt, query, payload)
	if err != nil {
		return nil, err
	}
	var turn orchestrator.TurnResponse
	if err := unmarshalResult(text, &turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

func (r *Reasoner) complete(ctx context.Context, system, query, payload string) (string, error) {
	var sb strings.Builder
	if payload != "" {
		sb.WriteString(payload)
		sb.WriteString("\n\n")
	}
	sb.WriteString("User query: ")
	sb.WriteString(query)

	text, err := r.client.Complete(ctx, system, sb.String())
	if err != nil {
		r.logger.Warn(ctx, "completion failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrReasoningFailed, err)
	}
	return text, nil
}

// unmarshalResult parses a model response, tolerating markdown code fences
// around the JSON body.
func unmarshalResult(text string, v any) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w: malformed structured result: %v", ErrReasoningFailed, err)
	}
	return nil
}
