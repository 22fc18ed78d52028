// Package llm re-exports the canonical provider contract so callers depend on
// one import path regardless of which provider implementation is wired in.
package llm

import (
	"thinkgate/internal/llm/core"
	anthropicprovider "thinkgate/internal/llm/providers/anthropic"
	mockprovider "thinkgate/internal/llm/providers/mock"
)

type (
	// Provider is the public streaming provider contract.
	Provider = core.Provider

	// EventType enumerates stream event variants.
	EventType = core.EventType

	// ToolChoice* aliases expose tool-selection primitives.
	ToolChoiceType = core.ToolChoiceType
	ToolChoice     = core.ToolChoice
	ToolSpec       = core.ToolSpec
	RetryPolicy    = core.RetryPolicy

	// Request and Event payload aliases define the public stream protocol.
	Request           = core.Request
	DonePayload       = core.DonePayload
	ContentBlockStart = core.ContentBlockStart
	Event             = core.Event

	// Conversation-model aliases.
	Role        = core.Role
	StopReason  = core.StopReason
	ContentType = core.ContentType

	// Message and usage aliases.
	ContentBlock = core.ContentBlock
	ToolCall     = core.ToolCall
	ToolResult   = core.ToolResult
	Message      = core.Message
	Usage        = core.Usage

	// Anthropic* aliases expose provider-specific configuration and implementation.
	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider

	// MockProvider emits scripted events for tests.
	MockProvider = mockprovider.Provider
)

const (
	EventStart             = core.EventStart
	EventContentBlockStart = core.EventContentBlockStart
	EventTextDelta         = core.EventTextDelta
	EventThinkingDelta     = core.EventThinkingDelta
	EventToolCallStart     = core.EventToolCallStart
	EventToolCallDelta     = core.EventToolCallDelta
	EventToolCallEnd       = core.EventToolCallEnd
	EventToolResult        = core.EventToolResult
	EventCorrective        = core.EventCorrective
	EventUsage             = core.EventUsage
	EventDone              = core.EventDone
	EventError             = core.EventError

	ToolChoiceAuto = core.ToolChoiceAuto
	ToolChoiceAny  = core.ToolChoiceAny
	ToolChoiceNone = core.ToolChoiceNone
	ToolChoiceTool = core.ToolChoiceTool

	RoleSystem    = core.RoleSystem
	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant
	RoleTool      = core.RoleTool

	StopReasonStop    = core.StopReasonStop
	StopReasonLength  = core.StopReasonLength
	StopReasonToolUse = core.StopReasonToolUse
	StopReasonError   = core.StopReasonError
	StopReasonAborted = core.StopReasonAborted

	ContentTypeText  = core.ContentTypeText
	ContentTypeImage = core.ContentTypeImage
)

var (
	// ErrInvalidRequest indicates missing or malformed provider request input.
	ErrInvalidRequest = core.ErrInvalidRequest
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = core.ErrMissingAPIKey
)

// NewAnthropicProvider constructs the Anthropic streaming provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}

// NewTextMessage builds a message holding one text block.
func NewTextMessage(role Role, text string) Message {
	return core.NewTextMessage(role, text)
}

// CloneMessage returns a structural copy sharing no mutable state.
func CloneMessage(msg Message) Message {
	return core.CloneMessage(msg)
}

// CloneMessages returns a deep copy of a message list.
func CloneMessages(messages []Message) []Message {
	return core.CloneMessages(messages)
}

// NewToolSpecFromStruct creates a ToolSpec by reflecting a Go struct into JSON Schema.
func NewToolSpecFromStruct(name, description string, schemaStruct any) (ToolSpec, error) {
	return core.NewToolSpecFromStruct(name, description, schemaStruct)
}
