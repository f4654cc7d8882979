package scratchpad

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/docstore"
	"github.com/fyrsmithlabs/loopd/internal/logging"
)

func newTestPad(t *testing.T) *Pad {
	t.Helper()
	docs, err := docstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewPad(docs, logging.Nop())
}

func TestFreshDocumentHasAllSections(t *testing.T) {
	pad := newTestPad(t)
	doc, err := pad.Document(context.Background(), "conv")
	require.NoError(t, err)

	for _, section := range defaultSections {
		assert.Contains(t, doc, "## "+section)
	}
}

func TestSetCurrentTaskReplaces(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetCurrentTask(ctx, "conv", "refactor the parser"))
	require.NoError(t, pad.SetCurrentTask(ctx, "conv", "ship the release"))

	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "ship the release")
	assert.NotContains(t, doc, "refactor the parser")
}

func TestSetPlanRendersChecklist(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"write tests", "fix bug"}))

	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "- [ ] write tests")
	assert.Contains(t, doc, "- [ ] fix bug")
}

func TestCompleteStep(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"first", "second", "third"}))

	changed, err := pad.CompleteStep(ctx, "conv", 2)
	require.NoError(t, err)
	assert.True(t, changed)

	steps, err := pad.Steps(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.False(t, steps[0].Done)
	assert.True(t, steps[1].Done)
	assert.False(t, steps[2].Done)

	// Completing an already-done step changes nothing.
	changed, err = pad.CompleteStep(ctx, "conv", 2)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCompleteStepOutOfRange(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"only"}))

	for _, ordinal := range []int{0, -1, 2, 99} {
		changed, err := pad.CompleteStep(ctx, "conv", ordinal)
		require.NoError(t, err)
		assert.False(t, changed, "ordinal %d", ordinal)
	}
}

func TestPrependOrdersNewestFirst(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.AddContext(ctx, "conv", "older note"))
	require.NoError(t, pad.AddContext(ctx, "conv", "newer note"))

	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Less(t, strings.Index(doc, "newer note"), strings.Index(doc, "older note"))
}

func TestSectionsAreIndependent(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetCurrentTask(ctx, "conv", "the task"))
	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"a step"}))
	require.NoError(t, pad.AddContext(ctx, "conv", "a clue"))
	require.NoError(t, pad.AddCompleted(ctx, "conv", "done thing"))
	require.NoError(t, pad.AddBlocker(ctx, "conv", "missing credential"))

	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)

	// Each entry lands under its own heading.
	sections := parseDocument(doc)
	assert.Equal(t, "the task", sections.section(SectionCurrentTask))
	assert.Contains(t, sections.section(SectionPlan), "a step")
	assert.Contains(t, sections.section(SectionContext), "a clue")
	assert.Contains(t, sections.section(SectionCompleted), "done thing")
	assert.Contains(t, sections.section(SectionBlockers), "missing credential")
	assert.NotContains(t, sections.section(SectionContext), "done thing")
}

func TestRenderParseRoundTrip(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetCurrentTask(ctx, "conv", "stabilize CI"))
	require.NoError(t, pad.SetPlan(ctx, "conv", []string{"bisect failure", "pin dependency"}))
	require.NoError(t, pad.AddBlocker(ctx, "conv", "flaky runner"))

	first, err := pad.Document(ctx, "conv")
	require.NoError(t, err)

	reparsed := parseDocument(first).render()
	assert.Equal(t, first, reparsed)
}

func TestUnknownSectionsSurviveMutation(t *testing.T) {
	docs, err := docstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	pad := NewPad(docs, logging.Nop())
	ctx := context.Background()

	require.NoError(t, docs.Save(ctx, "conv.scratchpad.md", "## Notes\n\nhand-written\n"))
	require.NoError(t, pad.SetCurrentTask(ctx, "conv", "new task"))

	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.Contains(t, doc, "## Notes")
	assert.Contains(t, doc, "hand-written")
	assert.Contains(t, doc, "new task")
}

func TestClear(t *testing.T) {
	pad := newTestPad(t)
	ctx := context.Background()

	require.NoError(t, pad.SetCurrentTask(ctx, "conv", "some task"))
	require.NoError(t, pad.Clear(ctx, "conv"))

	doc, err := pad.Document(ctx, "conv")
	require.NoError(t, err)
	assert.NotContains(t, doc, "some task")
	assert.Contains(t, doc, "## "+SectionCurrentTask)
}
