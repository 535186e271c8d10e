package recruiter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
)

const (
	apiChatStreamPath    = "/chat/stream"
	apiProfileStreamPath = "/profiles/%s/chat/stream"

	chatIDHeader = "X-Chat-Id"
	doneMarker   = "[DONE]"

	maxLineSize = 1 << 20
)

type streamBody struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Stream opens a streamed reply on the general chat endpoint.
func (c *Client) Stream(ctx context.Context, req chat.StreamRequest) (chat.Reply, error) {
	return c.stream(ctx, c.APIURL+apiChatStreamPath, req)
}

// ProfileStream opens a streamed reply scoped to profileID.
func (c *Client) ProfileStream(ctx context.Context, profileID string, req chat.StreamRequest) (chat.Reply, error) {
	path := fmt.Sprintf(apiProfileStreamPath, url.PathEscape(strings.TrimSpace(profileID)))
	return c.stream(ctx, c.APIURL+path, req)
}

func (c *Client) stream(ctx context.Context, endpoint string, req chat.StreamRequest) (chat.Reply, error) {
	resp, err := c.postStream(ctx, endpoint, streamBody{
		Message: req.Message,
		ID:      chat.WireID(req.ID),
	})
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	r := &sseReply{
		body:    resp.Body,
		scanner: scanner,
		logger:  c.logger,
	}
	r.setChatID(resp.Header.Get(chatIDHeader))

	return r, nil
}

type streamChunk struct {
	Content *string         `json:"content"`
	ChatID  json.RawMessage `json:"chat_id"`
}

// sseReply reads a text/event-stream body. The data lines of an event are
// joined with "\n" and the event carries either a JSON chunk or raw text; a
// "[DONE]" data line ends the reply.
type sseReply struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *zap.Logger

	mu     sync.Mutex
	chatID string
	done   bool
}

func (r *sseReply) ChatID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatID
}

func (r *sseReply) Next() (string, error) {
	var lines []string
	for {
		if r.done {
			if lines != nil {
				return r.dispatch(lines), nil
			}
			return "", io.EOF
		}
		if !r.scanner.Scan() {
			r.done = true
			if err := r.scanner.Err(); err != nil {
				return "", fmt.Errorf("read stream: %w", err)
			}
			continue
		}

		line := r.scanner.Text()
		if line == "" {
			if lines != nil {
				return r.dispatch(lines), nil
			}
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Comments and event names carry no text.
			continue
		}
		data = strings.TrimPrefix(data, " ")

		if strings.TrimSpace(data) == doneMarker {
			r.done = true
			continue
		}
		lines = append(lines, data)
	}
}

// dispatch turns the data lines of one event into a chunk.
func (r *sseReply) dispatch(lines []string) string {
	data := strings.Join(lines, "\n")
	if chunk, ok := r.decode(data); ok {
		return chunk
	}
	return data
}

func (r *sseReply) decode(data string) (string, bool) {
	trimmed := bytes.TrimSpace([]byte(data))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}

	var chunk streamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		r.logger.Debug("treating undecodable stream line as text", zap.Error(err))
		return "", false
	}
	if chunk.Content == nil && len(chunk.ChatID) == 0 {
		return "", false
	}

	r.setChatID(rawID(chunk.ChatID))

	if chunk.Content == nil {
		return "", true
	}
	return *chunk.Content, true
}

func (r *sseReply) setChatID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chatID == "" {
		r.chatID = id
	}
}

func (r *sseReply) Close() error {
	return r.body.Close()
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}

	return ""
}

var _ chat.Backend = (*Client)(nil)
var _ chat.ProfileBackend = (*Client)(nil)
