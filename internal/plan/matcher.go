// Package plan tracks checklist progress by matching completed actions
// against plan steps and recording the result on the scratchpad.
package plan

import (
	"strings"

	"github.com/fyrsmithlabs/loopd/internal/scratchpad"
)

// Matcher decides which uncompleted step, if any, an action fulfilled.
// It returns the 1-based ordinal of the matched step, or 0 for no match.
type Matcher interface {
	Match(action string, steps []scratchpad.Step) int
}

// minKeywordOverlap is how many significant tokens an action and a step
// must share before they are considered the same piece of work.
const (
	minKeywordOverlap = 2
	minTokenLength    = 5
)

// KeywordMatcher matches on shared significant tokens: case-insensitive
// words longer than four characters. Short words carry too little signal
// and produce false completions.
type KeywordMatcher struct{}

var _ Matcher = (*KeywordMatcher)(nil)

func (KeywordMatcher) Match(action string, steps []scratchpad.Step) int {
	actionTokens := tokenize(action)
	if len(actionTokens) == 0 {
		return 0
	}

	for i, step := range steps {
		if step.Done {
			continue
		}
		overlap := 0
		for token := range tokenize(step.Description) {
			if actionTokens[token] {
				overlap++
			}
		}
		if overlap >= minKeywordOverlap {
			return i + 1
		}
	}
	return 0
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(word) >= minTokenLength {
			tokens[word] = true
		}
	}
	return tokens
}
