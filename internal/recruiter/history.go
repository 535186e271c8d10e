package recruiter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
)

const (
	apiChatHistoryPath    = "/chat/history/%s"
	apiProfileHistoryPath = "/profiles/%s/chat/history"
)

// History returns the stored messages of conversation id.
func (c *Client) History(ctx context.Context, id string) ([]chat.Message, error) {
	path := fmt.Sprintf(apiChatHistoryPath, url.PathEscape(strings.TrimSpace(id)))
	return c.history(ctx, c.APIURL+path)
}

// ProfileHistory returns the stored messages of the conversation scoped to profileID.
func (c *Client) ProfileHistory(ctx context.Context, profileID string) ([]chat.Message, error) {
	path := fmt.Sprintf(apiProfileHistoryPath, url.PathEscape(strings.TrimSpace(profileID)))
	return c.history(ctx, c.APIURL+path)
}

func (c *Client) history(ctx context.Context, endpoint string) ([]chat.Message, error) {
	items, err := c.GetItems(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	msgs, err := decodeMessages(items)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched chat history", zap.String("url", endpoint), zap.Int("messages", len(msgs)))

	return chat.NormalizeMessages(msgs), nil
}

// decodeMessages tolerates numeric ids and missing fields.
func decodeMessages(items []Item) ([]chat.Message, error) {
	var msgs []chat.Message

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &msgs,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	if msgs == nil {
		msgs = []chat.Message{}
	}

	return msgs, nil
}
