package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/loopd/internal/memory"
)

const summarizeSystemPrompt = `You condense conversation history for an autonomous assistant.

Summarize the transcript below into a short paragraph preserving: stated
facts and preferences, decisions made, commands run and their outcomes, and
anything the user asked to remember. Omit pleasantries. Respond with the
summary text only.`

// Summarizer condenses evicted interaction records into a summary block.
type Summarizer struct {
	client Client
}

var _ memory.Summarizer = (*Summarizer)(nil)

func NewSummarizer(client Client) *Summarizer {
	return &Summarizer{client: client}
}

func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	text, err := s.client.Complete(ctx, summarizeSystemPrompt, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("summarize: empty summary")
	}
	return text, nil
}
