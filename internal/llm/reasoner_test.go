package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
)

// cannedClient returns a fixed completion and records the last prompt.
type cannedClient struct {
	response   string
	err        error
	lastSystem string
	lastPrompt string
}

func (c *cannedClient) Complete(_ context.Context, system, prompt string) (string, error) {
	c.lastSystem = system
	c.lastPrompt = prompt
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func TestAnalyzeParsesResult(t *testing.T) {
	client := &cannedClient{response: `{
		"summary": "user wants a deploy",
		"intent": "ship the release",
		"approach": "run the pipeline",
		"priority": "high",
		"urgent": true
	}`}
	reasoner := NewReasoner(client, logging.Nop())

	analysis, err := reasoner.Analyze(context.Background(), "deploy it", "some context")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.PriorityHigh, analysis.Priority)
	assert.True(t, analysis.Urgent)
	assert.Contains(t, client.lastPrompt, "some context")
	assert.Contains(t, client.lastPrompt, "User query: deploy it")
}

func TestAnalyzeRejectsUnknownPriority(t *testing.T) {
	client := &cannedClient{response: `{"summary": "x", "priority": "urgent-ish"}`}
	reasoner := NewReasoner(client, logging.Nop())

	_, err := reasoner.Analyze(context.Background(), "q", "")
	require.ErrorIs(t, err, ErrReasoningFailed)
}

func TestPlanParsesFencedJSON(t *testing.T) {
	client := &cannedClient{response: "```json\n" + `{
		"steps": [
			{"description": "check logs", "rationale": "find the error"},
			{"description": "restart service"}
		],
		"missing_context": ["cluster name"]
	}` + "\n```"}
	reasoner := NewReasoner(client, logging.Nop())

	plan, err := reasoner.Plan(context.Background(), "fix prod", "")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "check logs", plan.Steps[0].Description)
	assert.Equal(t, []string{"cluster name"}, plan.MissingContext)
}

func TestPlanRejectsEmptySteps(t *testing.T) {
	client := &cannedClient{response: `{"steps": []}`}
	reasoner := NewReasoner(client, logging.Nop())

	_, err := reasoner.Plan(context.Background(), "q", "")
	require.ErrorIs(t, err, ErrReasoningFailed)
}

func TestTurnParsesTaggedUnion(t *testing.T) {
	client := &cannedClient{response: `{
		"kind": "terminal_command",
		"continue": true,
		"command": {
			"command": "kubectl get pods",
			"rationale": "inspect cluster state",
			"requires_approval": false
		}
	}`}
	reasoner := NewReasoner(client, logging.Nop())

	turn, err := reasoner.Turn(context.Background(), "check the cluster", "")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.KindTerminalCommand, turn.Kind)
	assert.True(t, turn.Continue)
	require.NotNil(t, turn.Command)
	assert.Equal(t, "kubectl get pods", turn.Command.Command)
	assert.False(t, turn.Command.RequiresApproval)
}

func TestTurnMalformedJSONIsReasoningFailure(t *testing.T) {
	client := &cannedClient{response: "sorry, I cannot answer in JSON"}
	reasoner := NewReasoner(client, logging.Nop())

	_, err := reasoner.Turn(context.Background(), "q", "")
	require.ErrorIs(t, err, ErrReasoningFailed)
}

func TestCompletionErrorIsReasoningFailure(t *testing.T) {
	client := &cannedClient{err: errors.New("max retries exceeded")}
	reasoner := NewReasoner(client, logging.Nop())

	_, err := reasoner.Turn(context.Background(), "q", "")
	require.ErrorIs(t, err, ErrReasoningFailed)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestSummarizer(t *testing.T) {
	client := &cannedClient{response: "  the user prefers blue  "}
	summarizer := NewSummarizer(client)

	text, err := summarizer.Summarize(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, "the user prefers blue", text)
	assert.Equal(t, "transcript", client.lastPrompt)
}

func TestSummarizerRejectsEmptyResult(t *testing.T) {
	client := &cannedClient{response: "   "}
	summarizer := NewSummarizer(client)

	_, err := summarizer.Summarize(context.Background(), "transcript")
	require.Error(t, err)
}
