package orchestrator

import (
	"regexp"
	"strings"
)

var (
	numberedListRe = regexp.MustCompile(`\d+\.`)
	stepNumberRe   = regexp.MustCompile(`(?i)\bstep\s+\d+`)
)

// looksComplex decides whether a query warrants the analysis pass. These
// are cheap textual signals of multi-part work; a miss only costs one
// unanalyzed turn, so precision matters more than recall.
func looksComplex(query string) bool {
	lower := strings.ToLower(query)

	if strings.Contains(lower, "and then") {
		return true
	}
	if strings.Contains(lower, "first") && strings.Contains(lower, "then") {
		return true
	}
	if strings.Contains(lower, "multiple") || strings.Contains(lower, "several") {
		return true
	}
	if numberedListRe.MatchString(query) || stepNumberRe.MatchString(query) {
		return true
	}
	return sentenceCount(query) > 3
}

func sentenceCount(s string) int {
	count := 0
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}
