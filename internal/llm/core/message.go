package core

import "encoding/json"

// Role identifies the message author in the canonical request format.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason represents the canonical reason a model response stopped.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "tool_use"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// ContentType identifies content block variants.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ContentBlock is a canonical content unit. Non-text blocks keep their
// provider-native payload in Source and pass through untouched.
type ContentBlock struct {
	Type   ContentType     `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
}

// ToolCall represents a model-emitted tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult represents the local execution result for a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is the provider-agnostic conversation record. Content may hold a
// single text block (the plain-string case) or an ordered block sequence.
type Message struct {
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
}

// NewTextMessage builds a message holding one text block.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentTypeText, Text: text}},
	}
}

// CloneMessage returns a structural copy sharing no mutable state with msg.
func CloneMessage(msg Message) Message {
	copied := Message{
		Role:      msg.Role,
		Content:   CloneContentBlocks(msg.Content),
		ToolCalls: cloneToolCalls(msg.ToolCalls),
	}
	if msg.ToolResult != nil {
		result := *msg.ToolResult
		copied.ToolResult = &result
	}
	return copied
}

// CloneMessages returns a deep copy of a message list.
func CloneMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	cloned := make([]Message, 0, len(messages))
	for _, msg := range messages {
		cloned = append(cloned, CloneMessage(msg))
	}
	return cloned
}

// CloneContentBlocks deep-copies a content block sequence, including opaque
// non-text payloads.
func CloneContentBlocks(blocks []ContentBlock) []ContentBlock {
	if len(blocks) == 0 {
		return nil
	}
	cloned := make([]ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		copied := block
		copied.Source = append(json.RawMessage(nil), block.Source...)
		cloned = append(cloned, copied)
	}
	return cloned
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	cloned := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		copied := call
		copied.Arguments = append(json.RawMessage(nil), call.Arguments...)
		cloned = append(cloned, copied)
	}
	return cloned
}

// Usage tracks provider token accounting.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TokenCount returns the total tokens consumed across all usage buckets.
func (u Usage) TokenCount() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Clone returns a copy safe to share as pointer payload.
func (u Usage) Clone() *Usage {
	copied := u
	return &copied
}
