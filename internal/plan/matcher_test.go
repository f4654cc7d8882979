package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/docstore"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
)

func TestKeywordMatcherRequiresTwoSharedTokens(t *testing.T) {
	steps := []scratchpad.Step{
		{Description: "configure database connection pooling"},
		{Description: "write integration tests"},
	}

	tests := []struct {
		name   string
		action string
		want   int
	}{
		{"two shared tokens", "updated the database connection settings", 1},
		{"one shared token is not enough", "checked the database logs", 0},
		{"case insensitive", "DATABASE CONNECTION tuned", 1},
		{"matches second step", "added some integration tests for the api", 2},
		{"short words ignored", "the a an it of and or", 0},
		{"empty action", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeywordMatcher{}.Match(tt.action, steps))
		})
	}
}

func TestKeywordMatcherSkipsCompletedSteps(t *testing.T) {
	steps := []scratchpad.Step{
		{Description: "configure database connection pooling", Done: true},
		{Description: "verify database connection failover"},
	}

	// Step 1 would match but is already done; the first uncompleted match wins.
	got := KeywordMatcher{}.Match("tested database connection recovery", steps)
	assert.Equal(t, 2, got)
}

func TestKeywordMatcherFirstMatchWinsOverStrongerLaterMatch(t *testing.T) {
	steps := []scratchpad.Step{
		{Description: "document deployment rollback procedure"},
		{Description: "rehearse deployment rollback procedure under load"},
	}

	// Both match; original order decides, not overlap size.
	got := KeywordMatcher{}.Match("rehearsed the deployment rollback procedure under production load", steps)
	assert.Equal(t, 1, got)
}

func newTestTracker(t *testing.T) (*Tracker, *scratchpad.Pad) {
	t.Helper()
	docs, err := docstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	pad := scratchpad.NewPad(docs, logging.Nop())
	return NewTracker(pad, nil, logging.Nop()), pad
}

func TestTrackerCompletesMatchedStep(t *testing.T) {
	tracker, pad := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, pad.SetPlan(ctx, "conv", []string{
		"inspect service logs",
		"restart the ingest worker",
		"confirm queue drains",
	}))

	ordinal, err := tracker.MatchAndComplete(ctx, "conv", "restarted the ingest worker process", "")
	require.NoError(t, err)
	assert.Equal(t, 2, ordinal)

	steps, err := pad.Steps(ctx, "conv")
	require.NoError(t, err)
	assert.False(t, steps[0].Done)
	assert.True(t, steps[1].Done)
	assert.False(t, steps[2].Done)

	// The completion leaves an audit trail.
	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "auto-completed plan step 2")
}

func TestTrackerNoOpWhenStepAlreadyDone(t *testing.T) {
	tracker, pad := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"restart the ingest worker"}))

	ordinal, err := tracker.MatchAndComplete(ctx, "conv", "restarted the ingest worker", "")
	require.NoError(t, err)
	assert.Equal(t, 1, ordinal)

	ordinal, err = tracker.MatchAndComplete(ctx, "conv", "restarted the ingest worker again", "")
	require.NoError(t, err)
	assert.Zero(t, ordinal)
}

func TestTrackerUsesRationale(t *testing.T) {
	tracker, pad := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"rotate expired certificates"}))

	ordinal, err := tracker.MatchAndComplete(ctx, "conv", "ran the renewal job",
		"rotate the expired certificates before the deadline")
	require.NoError(t, err)
	assert.Equal(t, 1, ordinal)
}

func TestTrackerNoPlan(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ordinal, err := tracker.MatchAndComplete(context.Background(), "conv", "did something", "")
	require.NoError(t, err)
	assert.Zero(t, ordinal)
}
