package pipeline

import "thinkgate/internal/llm"

// EnglishDirective is the forced-language instruction prepended to the
// conversation's leading system (or first user) message.
const EnglishDirective = "Always respond in English."

// InjectInstruction returns the message list with the language directive
// prepended to the first system message, falling back to the first user
// message. Disabled injection returns the input untouched, same backing
// array. Enabled injection operates on a structural deep copy; the caller's
// list and its nested blocks are never mutated. A conversation with neither
// a system nor a user message is returned cloned but unchanged.
func InjectInstruction(messages []llm.Message, enabled bool) []llm.Message {
	if !enabled {
		return messages
	}

	cloned := llm.CloneMessages(messages)
	for i := range cloned {
		if cloned[i].Role == llm.RoleSystem {
			prependDirective(&cloned[i])
			return cloned
		}
	}
	for i := range cloned {
		if cloned[i].Role == llm.RoleUser {
			prependDirective(&cloned[i])
			return cloned
		}
	}
	return cloned
}

// prependDirective prefixes single-text-block content in place (the plain
// string shape) and inserts a leading directive block otherwise.
func prependDirective(msg *llm.Message) {
	if len(msg.Content) == 1 && msg.Content[0].Type == llm.ContentTypeText {
		msg.Content[0].Text = EnglishDirective + "\n\n" + msg.Content[0].Text
		return
	}

	directive := llm.ContentBlock{Type: llm.ContentTypeText, Text: EnglishDirective}
	msg.Content = append([]llm.ContentBlock{directive}, msg.Content...)
}
