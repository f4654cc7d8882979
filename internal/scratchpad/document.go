package scratchpad

import (
	"strings"
)

// Section names used by the orchestration loop. The document keeps them in
// this order; unknown sections from hand-edited files are preserved after.
const (
	SectionCurrentTask = "Current Task"
	SectionPlan        = "Plan"
	SectionContext     = "Context"
	SectionCompleted   = "Completed"
	SectionBlockers    = "Blockers"
)

var defaultSections = []string{
	SectionCurrentTask,
	SectionPlan,
	SectionContext,
	SectionCompleted,
	SectionBlockers,
}

// document is a parsed markdown scratchpad: level-2 headings delimit
// sections, everything under a heading is that section's body. Content
// before the first heading is dropped on render.
type document struct {
	order  []string
	bodies map[string]string
}

func newDocument() *document {
	return &document{bodies: make(map[string]string)}
}

// parseDocument splits markdown content on "## " headings.
func parseDocument(content string) *document {
	doc := newDocument()
	var current string
	var body strings.Builder

	flush := func() {
		if current == "" {
			return
		}
		doc.order = append(doc.order, current)
		doc.bodies[current] = strings.TrimRight(body.String(), "\n")
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		if name, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			current = strings.TrimSpace(name)
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return doc
}

func (d *document) section(name string) string {
	return strings.TrimSpace(d.bodies[name])
}

// setSection replaces a section's body, appending the heading when absent.
func (d *document) setSection(name, body string) {
	if _, ok := d.bodies[name]; !ok {
		d.order = append(d.order, name)
	}
	d.bodies[name] = strings.TrimSpace(body)
}

// prependLine inserts a line at the top of a section so the newest entry
// reads first.
func (d *document) prependLine(name, line string) {
	existing := d.section(name)
	if existing == "" {
		d.setSection(name, line)
		return
	}
	d.setSection(name, line+"\n"+existing)
}

func (d *document) render() string {
	var sb strings.Builder
	for _, name := range d.order {
		sb.WriteString("## ")
		sb.WriteString(name)
		sb.WriteString("\n\n")
		if body := d.section(name); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// emptyDocument returns a document with all standard sections present and
// blank, so a fresh scratchpad renders a predictable skeleton.
func emptyDocument() *document {
	doc := newDocument()
	for _, name := range defaultSections {
		doc.setSection(name, "")
	}
	return doc
}
