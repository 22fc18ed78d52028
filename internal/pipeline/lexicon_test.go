package pipeline

import "testing"

func TestScoreWholeWordBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		keywords []string
		want     int
	}{
		{
			name:     "simple hit",
			text:     "please fix the build",
			keywords: []string{"fix"},
			want:     1,
		},
		{
			name:     "no substring match inside larger word",
			text:     "the prefix matters",
			keywords: []string{"fix"},
			want:     0,
		},
		{
			name:     "keyword inside another word does not count",
			text:     "replanning session",
			keywords: []string{"plan"},
			want:     0,
		},
		{
			name:     "case insensitive",
			text:     "PLEASE Analyze THIS",
			keywords: []string{"analyze"},
			want:     1,
		},
		{
			name:     "phrase matches contiguously",
			text:     "weigh the pros and cons here",
			keywords: []string{"pros and cons"},
			want:     1,
		},
		{
			name:     "phrase does not match scattered words",
			text:     "pros here and cons there",
			keywords: []string{"pros and cons"},
			want:     0,
		},
		{
			name:     "repeated keyword counts once",
			text:     "fix fix fix",
			keywords: []string{"fix"},
			want:     1,
		},
		{
			name:     "multiple keywords accumulate",
			text:     "plan then implement",
			keywords: []string{"plan", "implement", "deploy"},
			want:     2,
		},
		{
			name:     "regex metacharacters are literal",
			text:     "what about c++ here",
			keywords: []string{"c++"},
			want:     1,
		},
		{
			name:     "metacharacter keyword does not wildcard",
			text:     "cat and dog",
			keywords: []string{"c.t"},
			want:     0,
		},
		{
			name:     "empty text",
			text:     "",
			keywords: []string{"fix"},
			want:     0,
		},
		{
			name:     "empty keywords",
			text:     "anything",
			keywords: nil,
			want:     0,
		},
		{
			name:     "blank keywords are dropped",
			text:     "anything",
			keywords: []string{"", "   "},
			want:     0,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tc.text, tc.keywords); got != tc.want {
				t.Fatalf("Score(%q, %v) = %d, want %d", tc.text, tc.keywords, got, tc.want)
			}
		})
	}
}

func TestLexiconReuse(t *testing.T) {
	t.Parallel()

	lexicon := NewLexicon([]string{"plan", "analyze"})
	if got := lexicon.Score("plan then analyze"); got != 2 {
		t.Fatalf("Score() = %d, want 2", got)
	}
	if got := lexicon.Score("nothing relevant"); got != 0 {
		t.Fatalf("Score() = %d, want 0", got)
	}
	// A second pass over the same lexicon must not be affected by the first.
	if got := lexicon.Score("plan then analyze"); got != 2 {
		t.Fatalf("Score() second pass = %d, want 2", got)
	}
}
