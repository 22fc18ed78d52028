package pipeline

import (
	"regexp"
	"strings"
)

// Lexicon holds a compiled keyword set for repeated scoring. Keywords match
// case-insensitively on whole-word boundaries; multi-word keywords match as
// contiguous phrases under the same boundary rule.
type Lexicon struct {
	patterns []*regexp.Regexp
}

// NewLexicon compiles keywords into boundary-anchored patterns. Empty and
// whitespace-only keywords are dropped; regex metacharacters in keywords are
// treated literally.
func NewLexicon(keywords []string) *Lexicon {
	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, keyword := range keywords {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(trimmed)+`\b`))
	}
	return &Lexicon{patterns: patterns}
}

// Score counts how many of the lexicon's keywords occur in text at least
// once. A keyword found several times still counts once.
func (l *Lexicon) Score(text string) int {
	if l == nil || text == "" {
		return 0
	}
	score := 0
	for _, pattern := range l.patterns {
		if pattern.MatchString(text) {
			score++
		}
	}
	return score
}

// Score is the one-shot form: it compiles keywords and scores text in one
// call. Prefer a shared Lexicon when scoring repeatedly against the same set.
func Score(text string, keywords []string) int {
	return NewLexicon(keywords).Score(text)
}
