package pipeline

import (
	"strings"

	"thinkgate/internal/llm"
)

// TaskType is the coarse intent label for one conversational turn.
type TaskType string

const (
	TaskReasoning TaskType = "reasoning"
	TaskExecution TaskType = "execution"
	TaskMixed     TaskType = "mixed"
)

// previewLimit caps the diagnostic text preview length in runes.
const previewLimit = 100

// Classification is the detail-reporting projection of one classify call.
// It is read-only diagnostics; control decisions use only Task.
type Classification struct {
	Task           TaskType `json:"task"`
	ReasoningScore int      `json:"reasoning_score"`
	ExecutionScore int      `json:"execution_score"`
	Preview        string   `json:"preview"`
}

// ClassifierOptions extends the built-in keyword sets.
type ClassifierOptions struct {
	ExtraReasoningKeywords []string
	ExtraExecutionKeywords []string
}

// Classifier labels conversation intent by scoring user text against two
// compiled lexicons. Classifiers are immutable after construction and safe
// for concurrent use.
type Classifier struct {
	reasoning *Lexicon
	execution *Lexicon
}

// NewClassifier compiles the default keyword sets plus any extensions.
func NewClassifier(opts ClassifierOptions) *Classifier {
	reasoning := append(append([]string(nil), defaultReasoningKeywords...), opts.ExtraReasoningKeywords...)
	execution := append(append([]string(nil), defaultExecutionKeywords...), opts.ExtraExecutionKeywords...)
	return &Classifier{
		reasoning: NewLexicon(reasoning),
		execution: NewLexicon(execution),
	}
}

// Classify labels the conversation from its user-authored text. Ties,
// including the no-signal 0-0 case, resolve to TaskMixed so ambiguity keeps
// the thinking-friendly path downstream.
func (c *Classifier) Classify(messages []llm.Message) TaskType {
	return c.ClassifyDetail(messages).Task
}

// ClassifyDetail returns the task label together with both raw scores and a
// truncated text preview for diagnostics.
func (c *Classifier) ClassifyDetail(messages []llm.Message) Classification {
	text := userText(messages)
	result := Classification{Task: TaskMixed, Preview: truncatePreview(text)}
	if strings.TrimSpace(text) == "" {
		return result
	}

	result.ReasoningScore = c.reasoning.Score(text)
	result.ExecutionScore = c.execution.Score(text)

	switch {
	case result.ReasoningScore > result.ExecutionScore:
		result.Task = TaskReasoning
	case result.ExecutionScore > result.ReasoningScore:
		result.Task = TaskExecution
	}
	return result
}

// userText concatenates lower-cased text authored by the end user. Only
// text blocks contribute; non-text blocks such as images are skipped.
func userText(messages []llm.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role != llm.RoleUser {
			continue
		}
		for _, block := range msg.Content {
			if block.Type != llm.ContentTypeText || block.Text == "" {
				continue
			}
			parts = append(parts, block.Text)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}
