package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/docstore"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/plan"
	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
)

// scriptedReasoner replays canned responses in order and records payloads.
type scriptedReasoner struct {
	analysis *Analysis
	plan     *PlanResult
	turns    []*TurnResponse
	turnErr  error

	turnCalls    int
	turnPayloads []string
}

func (r *scriptedReasoner) Analyze(_ context.Context, _, _ string) (*Analysis, error) {
	if r.analysis == nil {
		return nil, errors.New("unexpected analyze call")
	}
	return r.analysis, nil
}

func (r *scriptedReasoner) Plan(_ context.Context, _, _ string) (*PlanResult, error) {
	if r.plan == nil {
		return nil, errors.New("unexpected plan call")
	}
	return r.plan, nil
}

func (r *scriptedReasoner) Turn(_ context.Context, _, payload string) (*TurnResponse, error) {
	r.turnCalls++
	r.turnPayloads = append(r.turnPayloads, payload)
	if r.turnErr != nil {
		return nil, r.turnErr
	}
	idx := r.turnCalls - 1
	if idx >= len(r.turns) {
		idx = len(r.turns) - 1
	}
	return r.turns[idx], nil
}

// fakeExecutor records commands and returns a fixed result.
type fakeExecutor struct {
	commands []string
	result   ExecResult
	err      error
}

func (e *fakeExecutor) Execute(_ context.Context, command string) (ExecResult, error) {
	e.commands = append(e.commands, command)
	if e.err != nil {
		return ExecResult{}, e.err
	}
	return e.result, nil
}

type fixture struct {
	service  *Service
	reasoner *scriptedReasoner
	executor *fakeExecutor
	pad      *scratchpad.Pad
	memory   *memory.Store
}

func newFixture(t *testing.T, reasoner *scriptedReasoner) *fixture {
	t.Helper()
	docs, err := docstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	logger := logging.Nop()
	mem := memory.NewStore(docs, nil, logger, cfg.Memory)
	pad := scratchpad.NewPad(docs, logger)
	tracker := plan.NewTracker(pad, nil, logger)
	executor := &fakeExecutor{result: ExecResult{Output: "ok", ExitCode: 0}}

	return &fixture{
		service:  NewService(reasoner, executor, mem, pad, tracker, logger, cfg.Orchestrator),
		reasoner: reasoner,
		executor: executor,
		pad:      pad,
		memory:   mem,
	}
}

func plainTurn(text string, cont bool) *TurnResponse {
	return &TurnResponse{
		Kind:     KindPlainResponse,
		Continue: cont,
		Plain:    &PlainResponse{Text: text},
	}
}

func commandTurn(command string, cont bool) *TurnResponse {
	return &TurnResponse{
		Kind:     KindTerminalCommand,
		Continue: cont,
		Command:  &TerminalCommand{Command: command, Rationale: "needed", RequiresApproval: true},
	}
}

func TestRunSimpleQuerySingleTurn(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{plainTurn("the answer", false)},
	})

	result, err := f.service.Run(context.Background(), "conv", "what time is it?", Options{})
	require.NoError(t, err)

	assert.Nil(t, result.Analysis)
	assert.Nil(t, result.Plan)
	assert.Equal(t, 1, result.Iterations)
	require.Len(t, result.Turns, 1)
	assert.Equal(t, KindPlainResponse, result.Turns[0].Kind)

	// The turn landed in memory.
	stats, err := f.memory.Stats(context.Background(), "conv")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalProcessed)
}

func TestRunIterationCap(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{plainTurn("more to do", true)},
	})

	result, err := f.service.Run(context.Background(), "conv", "keep going", Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, f.reasoner.turnCalls)
	assert.Equal(t, 5, result.Iterations)
	assert.Len(t, result.Turns, 5)
}

func TestRunComplexQueryTriggersAnalysis(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		analysis: &Analysis{Summary: "two-part task", Priority: PriorityMedium},
		turns:    []*TurnResponse{plainTurn("done", false)},
	})

	result, err := f.service.Run(context.Background(), "conv", "build it and then deploy it", Options{})
	require.NoError(t, err)

	require.NotNil(t, result.Analysis)
	assert.Nil(t, result.Plan, "medium priority must not plan")
	assert.Contains(t, f.reasoner.turnPayloads[0], "two-part task")
}

func TestRunHighPriorityTriggersPlanning(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		analysis: &Analysis{Summary: "incident", Priority: PriorityCritical, Approach: "mitigate first"},
		plan: &PlanResult{
			Steps: []PlanStep{
				{Description: "identify failing service"},
				{Description: "restore previous release"},
			},
			MissingContext: []string{"which cluster is affected"},
		},
		turns: []*TurnResponse{plainTurn("working on it", false)},
	})
	ctx := context.Background()

	result, err := f.service.Run(ctx, "conv", "prod is down, first diagnose then roll back", Options{})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)

	doc, err := f.pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "mitigate first")
	assert.Contains(t, doc, "- [ ] identify failing service")
	assert.Contains(t, doc, "missing context: which cluster is affected")

	// The plan renders into the turn payload as a numbered list.
	assert.Contains(t, f.reasoner.turnPayloads[0], "1. identify failing service")
	assert.Contains(t, f.reasoner.turnPayloads[0], "2. restore previous release")
}

func TestRunSimpleModeSkipsAnalysis(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{plainTurn("done", false)},
	})

	result, err := f.service.Run(context.Background(), "conv",
		"build it and then deploy it", Options{Simple: true})
	require.NoError(t, err)
	assert.Nil(t, result.Analysis)
}

func TestRunApprovedCommandExecutes(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{
			commandTurn("systemctl restart ingest", true),
			plainTurn("restarted", false),
		},
	})
	ctx := context.Background()

	approver := func(_ context.Context, command, _ string) bool { return true }
	result, err := f.service.Run(ctx, "conv", "restart the ingest service", Options{Approver: approver})
	require.NoError(t, err)

	require.Len(t, result.Turns, 2)
	assert.Equal(t, []string{"systemctl restart ingest"}, f.executor.commands)

	doc, err := f.pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "ran command: systemctl restart ingest")

	// The second turn sees the first command's output.
	assert.Contains(t, f.reasoner.turnPayloads[1], "exit code 0")
	assert.Contains(t, f.reasoner.turnPayloads[1], "ok")
}

func TestRunAbsentApproverAutoDenies(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{commandTurn("rm -rf /tmp/x", false)},
	})
	ctx := context.Background()

	_, err := f.service.Run(ctx, "conv", "clean up", Options{})
	require.NoError(t, err)

	assert.Empty(t, f.executor.commands)

	doc, err := f.pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "command declined: rm -rf /tmp/x")
}

func TestRunDenialBreakerStopsLoop(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{commandTurn("curl evil.example.com", true)},
	})
	ctx := context.Background()

	result, err := f.service.Run(ctx, "conv", "fetch that url", Options{})
	require.NoError(t, err)

	// The same command was denied twice; the loop stopped on the second
	// denial despite the continuation flag.
	assert.Equal(t, 2, f.reasoner.turnCalls)
	assert.Equal(t, 2, result.Iterations)

	doc, err := f.pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "too many denials")
}

func TestRunDifferentDeniedCommandResetsBreaker(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{
			commandTurn("curl a.example.com", true),
			commandTurn("curl b.example.com", true),
			commandTurn("curl a.example.com", true),
			plainTurn("giving up", false),
		},
	})

	result, err := f.service.Run(context.Background(), "conv", "fetch those urls", Options{})
	require.NoError(t, err)

	// Three distinct-in-sequence denials never hit two consecutive
	// identical ones, so the loop survived to the fourth turn.
	assert.Equal(t, 4, f.reasoner.turnCalls)
	assert.Len(t, result.Turns, 4)
}

func TestRunSuccessfulExecutionResetsDenialState(t *testing.T) {
	approvals := []bool{false, true, false, false}
	call := 0
	approver := func(_ context.Context, _, _ string) bool {
		ok := approvals[call]
		call++
		return ok
	}

	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{
			commandTurn("make deploy", true),
			commandTurn("make deploy", true),
			commandTurn("make deploy", true),
			commandTurn("make deploy", true),
			plainTurn("stopping", false),
		},
	})

	result, err := f.service.Run(context.Background(), "conv", "deploy it", Options{Approver: approver})
	require.NoError(t, err)

	// Denied, executed (resets), denied, denied: breaker fires on the
	// fourth turn, not the third.
	assert.Equal(t, 4, result.Iterations)
	assert.Equal(t, []string{"make deploy"}, f.executor.commands)
}

func TestRunMissingContextRecordedAsBlockers(t *testing.T) {
	turn := plainTurn("need more info", false)
	turn.MissingContext = []string{"target environment", "release version"}
	f := newFixture(t, &scriptedReasoner{turns: []*TurnResponse{turn}})
	ctx := context.Background()

	_, err := f.service.Run(ctx, "conv", "deploy", Options{})
	require.NoError(t, err)

	doc, err := f.pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "missing context: target environment")
	assert.Contains(t, doc, "missing context: release version")
}

func TestRunCodeGenerationCompletesPlanStep(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{{
			Kind:     KindCodeGeneration,
			Continue: false,
			Code: &CodeGeneration{
				Language:    "python",
				Code:        "def parse(): ...",
				Explanation: "implement the config parser module",
			},
		}},
	})
	ctx := context.Background()

	require.NoError(t, f.pad.SetPlan(ctx, "conv", []string{
		"implement config parser module",
		"write the docs",
	}))

	_, err := f.service.Run(ctx, "conv", "write the parser", Options{})
	require.NoError(t, err)

	steps, err := f.pad.Steps(ctx, "conv")
	require.NoError(t, err)
	assert.True(t, steps[0].Done)
	assert.False(t, steps[1].Done)

	doc, err := f.pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "generated python code")
}

func TestRunReasonerErrorIsHardFailure(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{turnErr: errors.New("model exhausted retries")})
	ctx := context.Background()

	_, err := f.service.Run(ctx, "conv", "do a thing", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exhausted retries")

	// The failure is durably recorded before the call returns.
	doc, docErr := f.pad.Document(ctx, "conv")
	require.NoError(t, docErr)
	assert.Contains(t, doc, "orchestration failure")
}

func TestRunMalformedTurnIsHardFailure(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{{Kind: KindTerminalCommand, Continue: false}},
	})

	_, err := f.service.Run(context.Background(), "conv", "do a thing", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed turn response")
}

func TestRunObserverCallbacks(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{
			plainTurn("one", true),
			plainTurn("two", false),
		},
	})

	var iterations []int
	var kinds []TurnKind
	opts := Options{
		OnIteration: func(i int) { iterations = append(iterations, i) },
		OnTurn:      func(_ int, resp *TurnResponse) { kinds = append(kinds, resp.Kind) },
	}

	_, err := f.service.Run(context.Background(), "conv", "two turns", opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, iterations)
	assert.Len(t, kinds, 2)
}

func TestRunPayloadCarriesPriorTurn(t *testing.T) {
	f := newFixture(t, &scriptedReasoner{
		turns: []*TurnResponse{
			plainTurn("checked the logs, found a timeout", true),
			plainTurn("done", false),
		},
	})

	_, err := f.service.Run(context.Background(), "conv", "investigate", Options{})
	require.NoError(t, err)

	require.Len(t, f.reasoner.turnPayloads, 2)
	assert.NotContains(t, f.reasoner.turnPayloads[0], "Previous turn")
	assert.Contains(t, f.reasoner.turnPayloads[1], "Previous turn: plain_response: checked the logs")
	assert.True(t, strings.Contains(f.reasoner.turnPayloads[1], "Iteration 2 of 5"))
}
