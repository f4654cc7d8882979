package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/docstore"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
)

// Summarizer condenses a rendered block of interactions into summary text.
// Implementations carry their own retry policy; an error here never blocks
// eviction.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Store persists one rolling memory aggregate per conversation identity.
// All operations take the conversation identity explicitly; the store keeps
// no ambient per-conversation state.
type Store struct {
	docs       docstore.DocumentStore
	summarizer Summarizer
	logger     *logging.Logger
	cfg        config.MemoryConfig

	now func() time.Time
}

// NewStore creates a rolling memory store. summarizer may be nil, in which
// case evicted interactions are dropped without a summary block.
func NewStore(docs docstore.DocumentStore, summarizer Summarizer, logger *logging.Logger, cfg config.MemoryConfig) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		docs:       docs,
		summarizer: summarizer,
		logger:     logger.Named("memory"),
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *Store) key(conversationID string) string {
	return conversationID + ".memory.json"
}

// load reads the aggregate for a conversation, defaulting to empty state.
func (s *Store) load(ctx context.Context, conversationID string) (*State, error) {
	content, found, err := s.docs.Load(ctx, s.key(conversationID))
	if err != nil {
		return nil, err
	}
	if !found {
		return &State{}, nil
	}

	var state State
	if err := json.Unmarshal([]byte(content), &state); err != nil {
		return nil, fmt.Errorf("memory: corrupt state for %q: %w", conversationID, err)
	}
	return &state, nil
}

func (s *Store) persist(ctx context.Context, conversationID string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: failed to encode state: %w", err)
	}
	return s.docs.Save(ctx, s.key(conversationID), string(data))
}

// AddInteraction appends a completed turn with the next sequence ID. If the
// active log exceeds the window, the overflow is summarized and the oldest
// record evicted before the aggregate is persisted. Persistence failures
// propagate to the caller.
func (s *Store) AddInteraction(ctx context.Context, conversationID string, in AddInput) (Interaction, error) {
	state, err := s.load(ctx, conversationID)
	if err != nil {
		return Interaction{}, err
	}

	record := Interaction{
		ID:              state.TotalProcessed + 1,
		Timestamp:       s.now().UTC(),
		Query:           in.Query,
		Context:         in.Context,
		ResponseKind:    in.ResponseKind,
		ResponseContent: in.ResponseContent,
		Branch:          in.Branch,
	}
	state.Active = append(state.Active, record)
	state.TotalProcessed = record.ID

	if len(state.Active) > s.cfg.Window {
		s.summarizeAndEvict(ctx, conversationID, state)
	}

	if err := s.persist(ctx, conversationID, state); err != nil {
		return Interaction{}, err
	}
	return record, nil
}

// summarizeAndEvict condenses everything except the oldest active record
// into a summary block, then evicts that oldest record. Summarization is
// best-effort: a collaborator failure is logged and eviction proceeds, so
// window bounds never depend on an external call succeeding.
func (s *Store) summarizeAndEvict(ctx context.Context, conversationID string, state *State) {
	kept := state.Active[1:]

	if s.summarizer == nil {
		s.logger.Warn(ctx, "no summarizer configured, evicting without summary",
			zap.String("conversation_id", conversationID))
	} else {
		text, err := s.summarizer.Summarize(ctx, s.renderInteractions(kept))
		if err != nil {
			telemetry.Summarizations.WithLabelValues("error").Inc()
			s.logger.Warn(ctx, "summarization failed, evicting anyway",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
		} else {
			telemetry.Summarizations.WithLabelValues("success").Inc()
			state.Summaries = append(state.Summaries, Summary{
				StartID:   kept[0].ID,
				EndID:     kept[len(kept)-1].ID,
				StartTime: kept[0].Timestamp,
				EndTime:   kept[len(kept)-1].Timestamp,
				Text:      text,
				CreatedAt: s.now().UTC(),
			})
			if len(state.Summaries) > s.cfg.SummaryLimit {
				state.Summaries = state.Summaries[len(state.Summaries)-s.cfg.SummaryLimit:]
			}
		}
	}

	state.Active = kept
}

// ContextString renders summaries (oldest first) followed by active
// interactions (oldest first) into a single text block for the reasoning
// step. Individual fields are capped so one oversized turn cannot dominate
// the payload. Pure read; no mutation.
func (s *Store) ContextString(ctx context.Context, conversationID string) (string, error) {
	state, err := s.load(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if len(state.Summaries) == 0 && len(state.Active) == 0 {
		return "", nil
	}

	var sb strings.Builder
	if len(state.Summaries) > 0 {
		sb.WriteString("Earlier conversation summaries:\n")
		for _, sum := range state.Summaries {
			fmt.Fprintf(&sb, "- [interactions %d-%d, %s to %s] %s\n",
				sum.StartID, sum.EndID,
				sum.StartTime.Format(time.RFC3339), sum.EndTime.Format(time.RFC3339),
				truncate(sum.Text, s.cfg.SummaryPreviewChars))
		}
		sb.WriteString("\n")
	}

	if len(state.Active) > 0 {
		sb.WriteString("Recent interactions:\n")
		sb.WriteString(s.renderInteractions(state.Active))
	}

	return sb.String(), nil
}

// renderInteractions renders records oldest-first with per-field caps.
func (s *Store) renderInteractions(records []Interaction) string {
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "#%d [%s] user: %s\n", r.ID, r.Timestamp.Format(time.RFC3339),
			truncate(r.Query, s.cfg.QueryPreviewChars))
		fmt.Fprintf(&sb, "  assistant (%s): %s\n", r.ResponseKind,
			truncate(r.ResponseContent, s.cfg.ResponsePreviewChars))
	}
	return sb.String()
}

// Stats returns a snapshot of the conversation's memory bounds.
func (s *Store) Stats(ctx context.Context, conversationID string) (Stats, error) {
	state, err := s.load(ctx, conversationID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalProcessed: state.TotalProcessed,
		ActiveCount:    len(state.Active),
		SummaryCount:   len(state.Summaries),
	}
	if len(state.Active) > 0 {
		stats.OldestActive = state.Active[0].Timestamp
		stats.NewestActive = state.Active[len(state.Active)-1].Timestamp
	}
	if len(state.Summaries) > 0 {
		stats.OldestSummaryStart = state.Summaries[0].StartID
		stats.NewestSummaryEnd = state.Summaries[len(state.Summaries)-1].EndID
	}
	return stats, nil
}

// Clear resets the conversation to empty state and persists immediately.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	return s.persist(ctx, conversationID, &State{})
}

// truncationMarker is appended to any field cut by a preview cap.
const truncationMarker = "... (truncated)"

// truncate caps s at limit runes, appending the truncation marker when cut.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncationMarker
}
