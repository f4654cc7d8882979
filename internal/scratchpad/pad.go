// Package scratchpad maintains a per-conversation markdown working document
// the agent reads and writes across turns: the task at hand, a checklist
// plan, accumulated context, completed work, and blockers.
package scratchpad

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/docstore"
	"github.com/fyrsmithlabs/loopd/internal/logging"
)

const (
	checkboxOpen = "- [ ] "
	checkboxDone = "- [x] "
)

// Step is one entry of the Plan section's checklist.
type Step struct {
	Description string
	Done        bool
}

// Pad persists scratchpad documents through a DocumentStore. All mutations
// are section-scoped read-modify-write cycles; callers serialize access per
// conversation.
type Pad struct {
	docs   docstore.DocumentStore
	logger *logging.Logger
	now    func() time.Time
}

func NewPad(docs docstore.DocumentStore, logger *logging.Logger) *Pad {
	return &Pad{
		docs:   docs,
		logger: logger.Named("scratchpad"),
		now:    time.Now,
	}
}

func (p *Pad) key(conversationID string) string {
	return conversationID + ".scratchpad.md"
}

func (p *Pad) load(ctx context.Context, conversationID string) (*document, error) {
	content, found, err := p.docs.Load(ctx, p.key(conversationID))
	if err != nil {
		return nil, fmt.Errorf("load scratchpad: %w", err)
	}
	if !found {
		return emptyDocument(), nil
	}
	return parseDocument(content), nil
}

func (p *Pad) persist(ctx context.Context, conversationID string, doc *document) error {
	if err := p.docs.Save(ctx, p.key(conversationID), doc.render()); err != nil {
		return fmt.Errorf("persist scratchpad: %w", err)
	}
	return nil
}

// Document returns the rendered scratchpad. A conversation that never wrote
// anything gets the blank section skeleton.
func (p *Pad) Document(ctx context.Context, conversationID string) (string, error) {
	doc, err := p.load(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return doc.render(), nil
}

// SetCurrentTask replaces the Current Task section.
func (p *Pad) SetCurrentTask(ctx context.Context, conversationID, task string) error {
	return p.mutate(ctx, conversationID, func(doc *document) {
		doc.setSection(SectionCurrentTask, task)
	})
}

// SetPlan replaces the Plan section with an unchecked checklist, one step
// per line in the given order.
func (p *Pad) SetPlan(ctx context.Context, conversationID string, steps []string) error {
	var sb strings.Builder
	for _, step := range steps {
		sb.WriteString(checkboxOpen)
		sb.WriteString(step)
		sb.WriteString("\n")
	}
	return p.mutate(ctx, conversationID, func(doc *document) {
		doc.setSection(SectionPlan, sb.String())
	})
}

// Steps parses the Plan section's checklist in document order.
func (p *Pad) Steps(ctx context.Context, conversationID string) ([]Step, error) {
	doc, err := p.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return parseSteps(doc.section(SectionPlan)), nil
}

func parseSteps(body string) []Step {
	var steps []Step
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if desc, ok := strings.CutPrefix(line, checkboxOpen); ok {
			steps = append(steps, Step{Description: desc})
		} else if desc, ok := strings.CutPrefix(line, checkboxDone); ok {
			steps = append(steps, Step{Description: desc, Done: true})
		}
	}
	return steps
}

// CompleteStep flips the ordinal-th checklist entry (1-based) to done.
// Out-of-range ordinals and already-done steps are a no-op; the returned
// bool reports whether anything changed.
func (p *Pad) CompleteStep(ctx context.Context, conversationID string, ordinal int) (bool, error) {
	doc, err := p.load(ctx, conversationID)
	if err != nil {
		return false, err
	}

	lines := strings.Split(doc.section(SectionPlan), "\n")
	seen := 0
	flipped := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, checkboxOpen) && !strings.HasPrefix(trimmed, checkboxDone) {
			continue
		}
		seen++
		if seen != ordinal {
			continue
		}
		if strings.HasPrefix(trimmed, checkboxOpen) {
			lines[i] = strings.Replace(line, checkboxOpen, checkboxDone, 1)
			flipped = true
		}
		break
	}
	if !flipped {
		p.logger.Debug(ctx, "complete step was a no-op",
			zap.String("conversation_id", conversationID),
			zap.Int("ordinal", ordinal))
		return false, nil
	}

	doc.setSection(SectionPlan, strings.Join(lines, "\n"))
	if err := p.persist(ctx, conversationID, doc); err != nil {
		return false, err
	}
	return true, nil
}

// AddContext prepends a timestamped note to the Context section.
func (p *Pad) AddContext(ctx context.Context, conversationID, note string) error {
	return p.prepend(ctx, conversationID, SectionContext, note)
}

// AddCompleted prepends a timestamped note to the Completed section.
func (p *Pad) AddCompleted(ctx context.Context, conversationID, note string) error {
	return p.prepend(ctx, conversationID, SectionCompleted, note)
}

// AddBlocker prepends a timestamped note to the Blockers section.
func (p *Pad) AddBlocker(ctx context.Context, conversationID, note string) error {
	return p.prepend(ctx, conversationID, SectionBlockers, note)
}

func (p *Pad) prepend(ctx context.Context, conversationID, section, note string) error {
	line := fmt.Sprintf("- [%s] %s", p.now().UTC().Format(time.RFC3339), note)
	return p.mutate(ctx, conversationID, func(doc *document) {
		doc.prependLine(section, line)
	})
}

func (p *Pad) mutate(ctx context.Context, conversationID string, fn func(*document)) error {
	doc, err := p.load(ctx, conversationID)
	if err != nil {
		return err
	}
	fn(doc)
	return p.persist(ctx, conversationID, doc)
}

// Clear resets the scratchpad to the blank skeleton.
func (p *Pad) Clear(ctx context.Context, conversationID string) error {
	return p.persist(ctx, conversationID, emptyDocument())
}
