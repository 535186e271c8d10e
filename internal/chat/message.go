package chat

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// roleAI is what profile-scoped endpoints send for assistant turns.
	roleAI = "ai"
)

// Message is a single chat turn. Content is either plain text or a serialized
// envelope, see ParseContent.
type Message struct {
	ID      string `json:"id" mapstructure:"id"`
	Role    Role   `json:"role" mapstructure:"role"`
	Content string `json:"content" mapstructure:"content"`
}

// NewMessage creates a message with a client-generated id.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
	}
}

// NormalizeRole maps the server role vocabulary onto the one used by the message list.
func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case roleAI, string(RoleAssistant):
		return RoleAssistant
	case string(RoleUser):
		return RoleUser
	default:
		return Role(strings.TrimSpace(role))
	}
}

// NormalizeMessages returns a copy of msgs with roles normalized.
func NormalizeMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		m.Role = NormalizeRole(string(m.Role))
		out = append(out, m)
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
