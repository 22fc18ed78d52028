package pipeline

import (
	"testing"

	"thinkgate/internal/llm"
)

func thinkingStart() llm.Event {
	return llm.Event{
		Type:              llm.EventContentBlockStart,
		ContentBlockStart: &llm.ContentBlockStart{Type: "thinking", Thinking: "..."},
	}
}

func textStart() llm.Event {
	return llm.Event{
		Type:              llm.EventContentBlockStart,
		ContentBlockStart: &llm.ContentBlockStart{Type: "text"},
	}
}

func toolUseStart() llm.Event {
	return llm.Event{
		Type:              llm.EventContentBlockStart,
		ContentBlockStart: &llm.ContentBlockStart{Type: "tool_use", ID: "toolu_1", Name: "Read"},
	}
}

func TestLoopDetectorFiresAtThreshold(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(3)

	for i := 0; i < 2; i++ {
		if got := detector.Observe(thinkingStart()); got != nil {
			t.Fatalf("corrective event fired early at block %d", i+1)
		}
	}

	corrective := detector.Observe(thinkingStart())
	if corrective == nil {
		t.Fatalf("expected corrective event at threshold")
	}
	if corrective.Type != llm.EventCorrective {
		t.Fatalf("corrective event type = %q, want %q", corrective.Type, llm.EventCorrective)
	}
	if corrective.Message == nil || corrective.Message.Role != llm.RoleSystem {
		t.Fatalf("corrective event must carry a system message: %+v", corrective.Message)
	}
	if corrective.Message.Content[0].Text != CorrectiveText {
		t.Fatalf("corrective text = %q, want %q", corrective.Message.Content[0].Text, CorrectiveText)
	}
}

func TestLoopDetectorNonToolEventDoesNotReset(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(3)
	detector.Observe(thinkingStart())
	detector.Observe(thinkingStart())

	// A text block is neither thinking nor tool use: counter holds, no event.
	if got := detector.Observe(textStart()); got != nil {
		t.Fatalf("text block produced a corrective event")
	}
	if detector.Count() != 2 {
		t.Fatalf("Count() = %d, want 2 after non-tool event", detector.Count())
	}

	// Opaque pass-through events leave the state alone too.
	if got := detector.Observe(llm.Event{Type: llm.EventTextDelta, TextDelta: "hi"}); got != nil {
		t.Fatalf("text delta produced a corrective event")
	}
	if detector.Count() != 2 {
		t.Fatalf("Count() = %d, want 2 after pass-through event", detector.Count())
	}

	if got := detector.Observe(thinkingStart()); got == nil {
		t.Fatalf("third thinking block should fire despite interleaved non-tool events")
	}
}

func TestLoopDetectorToolUseFullyResets(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(3)
	detector.Observe(thinkingStart())
	detector.Observe(thinkingStart())

	detector.Observe(toolUseStart())
	if detector.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after tool_use block", detector.Count())
	}

	// A single tool call clears all accumulated credit: two more thinking
	// blocks stay below threshold.
	detector.Observe(thinkingStart())
	if got := detector.Observe(thinkingStart()); got != nil {
		t.Fatalf("corrective event fired after reset with only 2 thinking blocks")
	}
}

func TestLoopDetectorToolCallEventResets(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(3)
	detector.Observe(thinkingStart())
	detector.Observe(thinkingStart())

	detector.Observe(llm.Event{Type: llm.EventToolCallStart, ToolCall: &llm.ToolCall{ID: "toolu_1", Name: "Bash"}})
	if detector.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after tool_call_start", detector.Count())
	}
}

func TestLoopDetectorRefiresAtEveryMultiple(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(3)

	fired := 0
	for i := 0; i < 9; i++ {
		if detector.Observe(thinkingStart()) != nil {
			fired++
		}
	}
	// No one-shot latch: the detector fires at 3, 6, and 9.
	if fired != 3 {
		t.Fatalf("corrective events = %d, want 3 over 9 uninterrupted thinking blocks", fired)
	}
	if detector.Count() != 9 {
		t.Fatalf("Count() = %d, want 9", detector.Count())
	}
}

func TestLoopDetectorRedactedThinkingCounts(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(2)
	detector.Observe(llm.Event{
		Type:              llm.EventContentBlockStart,
		ContentBlockStart: &llm.ContentBlockStart{Type: "redacted_thinking", Data: "enc"},
	})
	if got := detector.Observe(thinkingStart()); got == nil {
		t.Fatalf("redacted_thinking must count toward the run")
	}
}

func TestLoopDetectorThresholdFallback(t *testing.T) {
	t.Parallel()

	detector := NewLoopDetector(0)
	if detector.Threshold() != DefaultLoopThreshold {
		t.Fatalf("Threshold() = %d, want %d", detector.Threshold(), DefaultLoopThreshold)
	}
}

func TestLoopDetectorInstancesAreIndependent(t *testing.T) {
	t.Parallel()

	first := NewLoopDetector(3)
	second := NewLoopDetector(3)

	first.Observe(thinkingStart())
	first.Observe(thinkingStart())

	if second.Count() != 0 {
		t.Fatalf("detector state leaked between instances: %d", second.Count())
	}
}
