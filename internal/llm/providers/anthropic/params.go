package anthropicprovider

import (
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"thinkgate/internal/llm/core"
)

const (
	// defaultMaxTokens is used when callers do not provide an explicit token budget.
	defaultMaxTokens = 1024
	// thinkingBudgetTokens is the fixed on-wire reasoning budget. The target
	// API only exposes thinking as a binary switch to callers of this module;
	// the SDK still requires a concrete token count when the switch is on.
	thinkingBudgetTokens = 4096
)

// mapStopReason maps Anthropic stop reasons to canonical provider-agnostic values.
func mapStopReason(reason string) (core.StopReason, error) {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return core.StopReasonStop, nil
	case "max_tokens":
		return core.StopReasonLength, nil
	case "tool_use":
		return core.StopReasonToolUse, nil
	case "refusal", "sensitive":
		return core.StopReasonError, nil
	default:
		return "", fmt.Errorf("unhandled stop reason: %s", reason)
	}
}

// toAnthropicSDKParams validates and converts a canonical request into SDK params.
func toAnthropicSDKParams(req *core.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: request is nil", core.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Model) == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: model is required", core.ErrInvalidRequest)
	}

	system, conversation := splitSystemMessages(req.Messages)
	messages, err := toSDKMessages(conversation)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if req.Thinking && maxTokens <= thinkingBudgetTokens {
		// The API requires max_tokens to exceed the thinking budget.
		maxTokens = thinkingBudgetTokens + defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	if len(system) > 0 {
		params.System = system
	}
	if req.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudgetTokens)
	} else if req.Temperature != nil {
		// Extended thinking rejects a custom temperature.
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := toSDKTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if toolChoice, ok := toSDKToolChoice(req.ToolChoice); ok && !req.Thinking {
		params.ToolChoice = toolChoice
	}
	if userID := strings.TrimSpace(req.Metadata["user_id"]); userID != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(userID)}
	}

	return params, nil
}

// splitSystemMessages lifts system-role messages out of the conversation.
// Their text blocks become SDK system blocks in original order; everything
// else stays in the conversation for role mapping.
func splitSystemMessages(messages []core.Message) ([]anthropic.TextBlockParam, []core.Message) {
	var system []anthropic.TextBlockParam
	conversation := make([]core.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role != core.RoleSystem {
			conversation = append(conversation, msg)
			continue
		}
		for _, block := range msg.Content {
			if block.Type != core.ContentTypeText || block.Text == "" {
				continue
			}
			system = append(system, anthropic.TextBlockParam{Text: block.Text})
		}
	}

	return system, conversation
}

// toSDKMessages converts canonical conversation messages into Anthropic SDK messages.
func toSDKMessages(messages []core.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case core.RoleUser:
			blocks := toSDKTextBlocks(msg.Content)
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case core.RoleAssistant:
			blocks := toSDKAssistantBlocks(msg)
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case core.RoleTool:
			blocks, next, err := collectSDKToolResultBlocks(messages, i)
			if err != nil {
				return nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
			i = next
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", core.ErrInvalidRequest, msg.Role)
		}
	}

	return out, nil
}

// toSDKTextBlocks keeps only non-empty text blocks supported by this integration.
func toSDKTextBlocks(content []core.ContentBlock) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(content))
	for _, item := range content {
		if item.Type != core.ContentTypeText {
			continue
		}
		text := item.Text
		if text == "" {
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	return blocks
}

// toSDKAssistantBlocks builds assistant blocks, including tool_use blocks when present.
func toSDKAssistantBlocks(msg core.Message) []anthropic.ContentBlockParamUnion {
	blocks := toSDKTextBlocks(msg.Content)
	for _, call := range msg.ToolCalls {
		if strings.TrimSpace(call.ID) == "" || strings.TrimSpace(call.Name) == "" {
			continue
		}
		input := core.DecodeJSONObjectOrEmpty(call.Arguments)
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
	}
	return blocks
}

// collectSDKToolResultBlocks groups consecutive tool-result messages into one SDK user message.
func collectSDKToolResultBlocks(messages []core.Message, start int) ([]anthropic.ContentBlockParamUnion, int, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0)
	last := start

	for j := start; j < len(messages); j++ {
		msg := messages[j]
		if msg.Role != core.RoleTool {
			break
		}
		last = j

		if msg.ToolResult == nil {
			continue
		}

		tr := msg.ToolResult
		if strings.TrimSpace(tr.ToolCallID) == "" {
			return nil, 0, fmt.Errorf("%w: tool result missing tool_call_id", core.ErrInvalidRequest)
		}

		blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
	}

	return blocks, last, nil
}

// toSDKTools converts canonical tool specs into Anthropic SDK tool definitions.
func toSDKTools(tools []core.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema, err := core.DecodeToolJSONSchema(tool.Schema)
		if err != nil {
			return nil, fmt.Errorf("decode tool schema for %q: %w", tool.Name, err)
		}
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		}
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: inputSchema,
		}
		if strings.TrimSpace(tool.Description) != "" {
			toolParam.Description = anthropic.String(tool.Description)
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out, nil
}

// toSDKToolChoice maps canonical tool choice behavior to Anthropic SDK union params.
func toSDKToolChoice(choice core.ToolChoice) (anthropic.ToolChoiceUnionParam, bool) {
	switch choice.Type {
	case core.ToolChoiceAuto:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, true
	case core.ToolChoiceAny:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, true
	case core.ToolChoiceNone:
		none := anthropic.NewToolChoiceNoneParam()
		return anthropic.ToolChoiceUnionParam{OfNone: &none}, true
	case core.ToolChoiceTool:
		if strings.TrimSpace(choice.Name) == "" {
			return anthropic.ToolChoiceUnionParam{}, false
		}
		return anthropic.ToolChoiceParamOfTool(choice.Name), true
	default:
		return anthropic.ToolChoiceUnionParam{}, false
	}
}
