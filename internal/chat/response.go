package chat

import (
	"encoding/json"
	"strings"
)

// Content is the decoded form of an assistant message.
type Content struct {
	// Response is the markdown shown to the user.
	Response string `json:"response"`
	// Prompt is the job description extracted by the assistant. Non-empty means
	// the conversation is ready to be handed off to the matches search.
	Prompt string `json:"prompt"`
}

// HasPrompt reports whether the content carries an extracted job description.
func (c Content) HasPrompt() bool {
	return strings.TrimSpace(c.Prompt) != ""
}

// ParseContent decodes message content. Anything that is not a JSON object
// with a response or prompt field is returned verbatim as Response.
func ParseContent(raw string) Content {
	cleaned := extractJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return Content{Response: raw}
	}

	var envelope struct {
		Response *string `json:"response"`
		Prompt   *string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return Content{Response: raw}
	}
	if envelope.Response == nil && envelope.Prompt == nil {
		return Content{Response: raw}
	}

	var c Content
	if envelope.Response != nil {
		c.Response = *envelope.Response
	}
	if envelope.Prompt != nil {
		c.Prompt = *envelope.Prompt
	}
	return c
}

// LatestPrompt scans msgs newest to oldest and returns the prompt of the first
// assistant message that has one.
func LatestPrompt(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleAssistant {
			continue
		}
		if c := ParseContent(msgs[i].Content); c.HasPrompt() {
			return c.Prompt, true
		}
	}
	return "", false
}

// extractJSON strips markdown code fences the model sometimes wraps envelopes in.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}
