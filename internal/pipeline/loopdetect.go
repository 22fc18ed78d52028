package pipeline

import "thinkgate/internal/llm"

const (
	// DefaultLoopThreshold is the run length of uninterrupted thinking
	// blocks that triggers a corrective event.
	DefaultLoopThreshold = 3

	// CorrectiveText is the fixed directive injected when a planning loop
	// is detected.
	CorrectiveText = "Planning loop detected. Execute action now."
)

// LoopDetector tracks consecutive reasoning blocks within one streaming
// session. One instance per stream, single consumer, no locking; the state
// dies with the stream.
//
// Transition table: a thinking content block increments the run counter and
// fires a corrective event at every exact multiple of the threshold (no
// one-shot latch — a second uninterrupted run fires again). Any tool
// invocation fully resets the counter. Everything else passes through.
type LoopDetector struct {
	threshold           int
	consecutiveThinking int
}

// NewLoopDetector creates a detector; threshold values below 1 fall back to
// DefaultLoopThreshold.
func NewLoopDetector(threshold int) *LoopDetector {
	if threshold < 1 {
		threshold = DefaultLoopThreshold
	}
	return &LoopDetector{threshold: threshold}
}

// Observe consumes one stream event and returns a corrective system event
// when a planning loop is detected, nil otherwise. The observed event is
// never modified or withheld; injection is the caller's job.
func (d *LoopDetector) Observe(ev llm.Event) *llm.Event {
	switch ev.Type {
	case llm.EventContentBlockStart:
		if ev.ContentBlockStart == nil {
			return nil
		}
		switch ev.ContentBlockStart.Type {
		case "thinking", "redacted_thinking":
			d.consecutiveThinking++
			if d.consecutiveThinking%d.threshold == 0 {
				return correctiveEvent()
			}
		case "tool_use", "server_tool_use":
			d.consecutiveThinking = 0
		}
	case llm.EventToolCallStart:
		d.consecutiveThinking = 0
	}
	return nil
}

// Count returns the current uninterrupted thinking-block run length.
func (d *LoopDetector) Count() int {
	return d.consecutiveThinking
}

// Threshold returns the configured firing threshold.
func (d *LoopDetector) Threshold() int {
	return d.threshold
}

func correctiveEvent() *llm.Event {
	msg := llm.NewTextMessage(llm.RoleSystem, CorrectiveText)
	return &llm.Event{
		Type:    llm.EventCorrective,
		Message: &msg,
	}
}
