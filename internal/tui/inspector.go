package tui

import (
	"fmt"
	"sort"
	"strings"

	"thinkgate/internal/llm"
	"thinkgate/internal/pipeline"
)

// InspectorModel renders transparent runtime stats, including the latest
// pipeline decision and loop-detector activity.
type InspectorModel struct {
	State       string
	Turn        int
	Usage       llm.Usage
	Decision    *pipeline.Decision
	Correctives int
	ToolCounts  map[string]int
}

// NewInspectorModel constructs inspector defaults.
func NewInspectorModel() InspectorModel {
	return InspectorModel{
		State:      "idle",
		ToolCounts: make(map[string]int),
	}
}

// SetState updates runtime state label.
func (m *InspectorModel) SetState(state string) {
	trimmed := strings.TrimSpace(state)
	if trimmed == "" {
		trimmed = "idle"
	}
	m.State = trimmed
}

// IncrementTurn updates turn counter.
func (m *InspectorModel) IncrementTurn() {
	m.Turn++
}

// SetUsage stores latest usage snapshot.
func (m *InspectorModel) SetUsage(usage llm.Usage) {
	m.Usage = usage
}

// SetDecision stores the latest pipeline decision snapshot.
func (m *InspectorModel) SetDecision(decision *pipeline.Decision) {
	m.Decision = decision
}

// RecordCorrective counts one loop-detector firing.
func (m *InspectorModel) RecordCorrective() {
	m.Correctives++
}

// RecordToolCall increments tool call count.
func (m *InspectorModel) RecordToolCall(toolName string) {
	name := strings.TrimSpace(toolName)
	if name == "" {
		name = "unknown"
	}
	m.ToolCounts[name]++
}

// Render draws the inspector panel.
func (m InspectorModel) Render(width int, theme Theme) string {
	lines := []string{
		"Status: " + m.State,
		fmt.Sprintf("Turn: %d", m.Turn),
		fmt.Sprintf("Tokens: %d", m.Usage.TokenCount()),
	}

	if m.Decision != nil {
		thinking := "off"
		if m.Decision.Thinking {
			thinking = "on"
		}
		lines = append(lines,
			"Task: "+string(m.Decision.Task),
			"Thinking: "+thinking,
			"Budget: "+m.Decision.Band,
		)
	} else {
		lines = append(lines, "Task: -", "Thinking: -")
	}
	lines = append(lines, fmt.Sprintf("Loop fixes: %d", m.Correctives))

	lines = append(lines, "Tools:")
	if len(m.ToolCounts) == 0 {
		lines = append(lines, "  none")
	} else {
		names := make([]string, 0, len(m.ToolCounts))
		for name := range m.ToolCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("  %s (%d)", name, m.ToolCounts[name]))
		}
	}

	return renderPanel(width, theme.InspectorStyle, strings.Join(lines, "\n"))
}
