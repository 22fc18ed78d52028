package pipeline

import (
	"strings"
	"testing"

	"thinkgate/internal/llm"
)

func boolPtr(v bool) *bool { return &v }

func TestTransformRequestEndToEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		prompt       string
		budget       string
		wantTask     TaskType
		wantThinking bool
	}{
		{
			name:         "execution at default budget disables thinking",
			prompt:       "list files in directory",
			budget:       "",
			wantTask:     TaskExecution,
			wantThinking: false,
		},
		{
			name:         "reasoning at default budget enables thinking",
			prompt:       "solve this algorithm problem",
			budget:       "",
			wantTask:     TaskReasoning,
			wantThinking: true,
		},
		{
			name:         "tie resolves to mixed and thinks at default budget",
			prompt:       "analyze and fix the bug",
			budget:       "",
			wantTask:     TaskMixed,
			wantThinking: true,
		},
		{
			name:         "low budget overrides classification",
			prompt:       "solve this algorithm problem",
			budget:       "1024",
			wantTask:     TaskReasoning,
			wantThinking: false,
		},
		{
			name:         "unlimited budget always thinks",
			prompt:       "list files in directory",
			budget:       "unlimited",
			wantTask:     TaskExecution,
			wantThinking: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := New(Options{Budget: tc.budget})
			messages := []llm.Message{llm.NewTextMessage(llm.RoleUser, tc.prompt)}

			out, decision := p.TransformDetail(messages)
			if decision.Task != tc.wantTask {
				t.Fatalf("Task = %q, want %q", decision.Task, tc.wantTask)
			}
			if decision.Thinking != tc.wantThinking {
				t.Fatalf("Thinking = %v, want %v", decision.Thinking, tc.wantThinking)
			}

			// Force-English defaults on: the returned list carries the
			// directive, the caller's list does not.
			if !strings.HasPrefix(out[0].Content[0].Text, EnglishDirective) {
				t.Fatalf("directive missing from outgoing messages: %q", out[0].Content[0].Text)
			}
			if strings.HasPrefix(messages[0].Content[0].Text, EnglishDirective) {
				t.Fatalf("caller's messages mutated")
			}
		})
	}
}

func TestTransformDetailClassifiesPreInjectionText(t *testing.T) {
	t.Parallel()

	// Make the directive's own vocabulary score as reasoning. If scoring ran
	// on the post-injection text, "respond" in the injected directive would
	// tie the scores and flip this prompt from execution to mixed.
	p := New(Options{
		ForceEnglish:           boolPtr(true),
		ExtraReasoningKeywords: []string{"respond"},
	})
	messages := []llm.Message{llm.NewTextMessage(llm.RoleUser, "list files in directory")}

	out, decision := p.TransformDetail(messages)
	if decision.Task != TaskExecution {
		t.Fatalf("Task = %q, want %q (directive polluted scoring)", decision.Task, TaskExecution)
	}
	if !strings.HasPrefix(out[0].Content[0].Text, EnglishDirective) {
		t.Fatalf("directive missing from outgoing messages")
	}
}

func TestTransformRequestForceEnglishOff(t *testing.T) {
	t.Parallel()

	p := New(Options{ForceEnglish: boolPtr(false)})
	messages := []llm.Message{llm.NewTextMessage(llm.RoleUser, "hola")}

	out, _ := p.TransformRequest(messages)
	if out[0].Content[0].Text != "hola" {
		t.Fatalf("messages modified with force-English off: %q", out[0].Content[0].Text)
	}
}

func TestDisabledPipelinePassesThrough(t *testing.T) {
	t.Parallel()

	p := New(Options{Disabled: true})
	messages := []llm.Message{llm.NewTextMessage(llm.RoleUser, "solve this algorithm problem")}

	out, thinking := p.TransformRequest(messages)
	if thinking {
		t.Fatalf("disabled pipeline must not enable thinking")
	}
	if &out[0] != &messages[0] {
		t.Fatalf("disabled pipeline must pass messages through untouched")
	}

	observer := p.NewObserver()
	for i := 0; i < 5; i++ {
		if observer.Observe(thinkingStart()) != nil {
			t.Fatalf("disabled observer emitted a corrective event")
		}
	}
}

func TestApplyToRequestSetsThinkingFlag(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	req := &llm.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "solve this algorithm problem")},
	}

	decision := p.ApplyToRequest(req)
	if !req.Thinking {
		t.Fatalf("request thinking flag not set")
	}
	if decision.Task != TaskReasoning {
		t.Fatalf("Task = %q, want %q", decision.Task, TaskReasoning)
	}
	if !strings.HasPrefix(req.Messages[0].Content[0].Text, EnglishDirective) {
		t.Fatalf("request messages missing directive")
	}
}

func TestObserverEmitsExactlyOneCorrectivePerCrossing(t *testing.T) {
	t.Parallel()

	p := New(Options{LoopThreshold: 3})
	observer := p.NewObserver()

	var correctives []*llm.Event
	for i := 0; i < 3; i++ {
		if ev := observer.Observe(thinkingStart()); ev != nil {
			correctives = append(correctives, ev)
		}
	}
	if len(correctives) != 1 {
		t.Fatalf("corrective count = %d, want exactly 1", len(correctives))
	}
	if observer.Firings() != 1 {
		t.Fatalf("Firings() = %d, want 1", observer.Firings())
	}
}

func TestObserversAreIndependentAcrossStreams(t *testing.T) {
	t.Parallel()

	p := New(Options{LoopThreshold: 3})
	first := p.NewObserver()
	second := p.NewObserver()

	first.Observe(thinkingStart())
	first.Observe(thinkingStart())

	if second.ThinkingRun() != 0 {
		t.Fatalf("observer state shared across streams: %d", second.ThinkingRun())
	}
}

func TestPipelineDefaults(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	if p.budget != DefaultBudget {
		t.Fatalf("budget = %d, want %d", p.budget, DefaultBudget)
	}
	if !p.forceEnglish {
		t.Fatalf("force-English must default on")
	}
	if p.loopThreshold != DefaultLoopThreshold {
		t.Fatalf("loopThreshold = %d, want %d", p.loopThreshold, DefaultLoopThreshold)
	}
}
