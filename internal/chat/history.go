package chat

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// HistorySource fetches the stored messages of a conversation.
type HistorySource interface {
	History(ctx context.Context, id string) ([]Message, error)
}

// HistorySourceFunc adapts a function to HistorySource.
type HistorySourceFunc func(ctx context.Context, id string) ([]Message, error)

func (f HistorySourceFunc) History(ctx context.Context, id string) ([]Message, error) {
	return f(ctx, id)
}

// Loader loads conversation history. A load started later supersedes every
// earlier one: results of superseded loads are reported as stale. A
// Conversation owns one Loader and loads once; switching to another id is a
// Close followed by a new Open, so there is no in-place reload.
type Loader struct {
	source HistorySource
	logger *zap.Logger
	latest atomic.Uint64
}

func NewLoader(source HistorySource, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, logger: logger}
}

// Load returns the history of id. It never fails: transport and status errors
// degrade to an empty list. The second result is false when a newer Load was
// started before this one finished, in which case the messages must be dropped.
func (l *Loader) Load(ctx context.Context, id string, skip bool) ([]Message, bool) {
	gen := l.latest.Add(1)

	id = strings.TrimSpace(id)
	if skip || id == "" || l.source == nil {
		return []Message{}, true
	}

	msgs, err := l.source.History(ctx, id)
	if l.latest.Load() != gen {
		l.logger.Debug("dropping stale history", zap.String("chat_id", id))
		return nil, false
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		l.logger.Warn("failed to load chat history, starting with empty history",
			zap.String("chat_id", id),
			zap.Error(err),
		)
		return []Message{}, true
	}

	l.logger.Debug("chat history loaded", zap.String("chat_id", id), zap.Int("messages", len(msgs)))

	return NormalizeMessages(msgs), true
}
