// Package memory implements the rolling conversation memory: a bounded,
// ordered log of completed turns plus a bounded set of historical summaries.
//
// Each conversation identity owns one memory aggregate, persisted as a whole
// on every mutation. When the active log exceeds its window, the overflow is
// condensed into a summary block; summarization is best-effort while
// eviction is mandatory, so the log can never grow without bound.
package memory

import "time"

// Interaction is one completed turn. Records are created when a turn
// finishes, owned by the store, and removed only by window eviction.
type Interaction struct {
	// ID is strictly increasing within a conversation and never reused.
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Request payload.
	Query   string `json:"query"`
	Context string `json:"context,omitempty"`

	// Response payload. Kind is the turn response discriminant; Content is
	// the branch's primary text.
	ResponseKind    string `json:"response_kind"`
	ResponseContent string `json:"response_content"`

	// Branch records which dispatch branch fired (responded, executed,
	// declined, ...).
	Branch string `json:"branch,omitempty"`
}

// Summary is a compressed history block covering a contiguous ID range.
// Summaries are never mutated after creation.
type Summary struct {
	StartID   int64     `json:"start_id"`
	EndID     int64     `json:"end_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Text      string    `json:"text"`
	Rationale string    `json:"rationale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// State is the persisted memory aggregate for one conversation identity.
type State struct {
	Active         []Interaction `json:"active"`
	Summaries      []Summary     `json:"summaries"`
	TotalProcessed int64         `json:"total_processed"`
}

// Stats is a read-only snapshot of a conversation's memory bounds.
type Stats struct {
	TotalProcessed     int64     `json:"total_processed"`
	ActiveCount        int       `json:"active_count"`
	SummaryCount       int       `json:"summary_count"`
	OldestActive       time.Time `json:"oldest_active,omitzero"`
	NewestActive       time.Time `json:"newest_active,omitzero"`
	OldestSummaryStart int64     `json:"oldest_summary_start,omitempty"`
	NewestSummaryEnd   int64     `json:"newest_summary_end,omitempty"`
}

// AddInput carries the fields of a new interaction; the store assigns the
// ID and timestamp.
type AddInput struct {
	Query           string
	Context         string
	ResponseKind    string
	ResponseContent string
	Branch          string
}
