package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
)

// Tracker keeps the scratchpad's plan checklist approximately in sync with
// what the agent actually did, without an extra reasoning call per action.
type Tracker struct {
	pad     *scratchpad.Pad
	matcher Matcher
	logger  *logging.Logger
}

func NewTracker(pad *scratchpad.Pad, matcher Matcher, logger *logging.Logger) *Tracker {
	if matcher == nil {
		matcher = KeywordMatcher{}
	}
	return &Tracker{
		pad:     pad,
		matcher: matcher,
		logger:  logger.Named("plan"),
	}
}

// MatchAndComplete matches the action (plus its rationale, when present)
// against the uncompleted plan steps and marks at most one step done. It
// returns the 1-based ordinal of the completed step, or 0 when nothing
// matched.
func (t *Tracker) MatchAndComplete(ctx context.Context, conversationID, action, rationale string) (int, error) {
	steps, err := t.pad.Steps(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("load plan steps: %w", err)
	}
	if len(steps) == 0 {
		return 0, nil
	}

	text := action
	if rationale != "" {
		text += " " + rationale
	}
	ordinal := t.matcher.Match(text, steps)
	if ordinal == 0 {
		return 0, nil
	}

	changed, err := t.pad.CompleteStep(ctx, conversationID, ordinal)
	if err != nil {
		return 0, fmt.Errorf("complete step %d: %w", ordinal, err)
	}
	if !changed {
		return 0, nil
	}

	note := fmt.Sprintf("auto-completed plan step %d: %s", ordinal, steps[ordinal-1].Description)
	if err := t.pad.AddContext(ctx, conversationID, note); err != nil {
		return ordinal, fmt.Errorf("record completion: %w", err)
	}

	t.logger.Debug(ctx, "plan step auto-completed",
		zap.String("conversation_id", conversationID),
		zap.Int("ordinal", ordinal))
	return ordinal, nil
}
