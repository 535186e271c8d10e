package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldChatID is the structured log field key for the conversation id.
	FieldChatID = "chat_id"
	// FieldProfileID is the structured log field key for the candidate profile id.
	FieldProfileID = "profile_id"
	// FieldBackend is the structured log field key for the chat backend name.
	FieldBackend = "backend"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to logger, falling back to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ChatFields describes a conversation. A fresh conversation has no id yet and
// regular conversations have no profile, both are left out then.
func ChatFields(chatID, profileID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldChatID, Value: chatID},
		StringField{Key: FieldProfileID, Value: profileID},
	)
}

// WithChat attaches the conversation fields to logger.
func WithChat(logger *zap.Logger, backend, chatID, profileID string) *zap.Logger {
	fields := StringFields(StringField{Key: FieldBackend, Value: backend})
	fields = append(fields, ChatFields(chatID, profileID)...)
	return WithFields(logger, fields...)
}
