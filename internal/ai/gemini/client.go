package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "embed"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/recruit-chat/internal/chat"
	"github.com/spigell/recruit-chat/internal/utils"
)

const (
	defaultModel      = "gemini-2.5-pro"
	defaultMaxRetries = 3

	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 30 * time.Second
)

//go:embed prompt.md
var systemPrompt string

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*s`)

// wait is swapped in tests.
var wait = utils.WaitFor

type chatSession interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (g genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	c, err := g.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Options struct {
	APIKey     string
	Model      string
	MaxRetries int
	Logger     *zap.Logger
}

// Backend answers chats locally through Gemini. Conversations live in memory
// and get numeric ids, so it is a drop-in for the remote chat API.
type Backend struct {
	chats      chatCreator
	model      string
	maxRetries int
	logger     *zap.Logger

	lastID atomic.Uint64

	mu       sync.Mutex
	byID     map[string]*conversation
	profiles map[string]*conversation
}

type conversation struct {
	mu        sync.Mutex
	id        string
	profileID string
	messages  []chat.Message
}

// New creates a Backend configured for the Gemini API.
func New(ctx context.Context, opts Options) (*Backend, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newBackend(genaiChats{chats: client.Chats}, opts), nil
}

func newBackend(chats chatCreator, opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	b := &Backend{
		chats:      chats,
		model:      model,
		maxRetries: retries,
		logger:     logger.With(zap.String("model", model)),
		byID:       make(map[string]*conversation),
		profiles:   make(map[string]*conversation),
	}
	b.lastID.Store(uint64(time.Now().Unix()))

	return b
}

func (b *Backend) Model() string {
	return b.model
}

func (b *Backend) History(_ context.Context, id string) ([]chat.Message, error) {
	b.mu.Lock()
	conv, ok := b.byID[strings.TrimSpace(id)]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("conversation %q not found", id)
	}
	return conv.snapshot(), nil
}

func (b *Backend) ProfileHistory(_ context.Context, profileID string) ([]chat.Message, error) {
	b.mu.Lock()
	conv, ok := b.profiles[strings.TrimSpace(profileID)]
	b.mu.Unlock()
	if !ok {
		return []chat.Message{}, nil
	}
	return conv.snapshot(), nil
}

func (b *Backend) Stream(ctx context.Context, req chat.StreamRequest) (chat.Reply, error) {
	return b.stream(ctx, b.conversation(req.ID, ""), req.Message)
}

func (b *Backend) ProfileStream(ctx context.Context, profileID string, req chat.StreamRequest) (chat.Reply, error) {
	return b.stream(ctx, b.conversation(req.ID, strings.TrimSpace(profileID)), req.Message)
}

// conversation returns the conversation for id, creating one with a new id
// when id is unknown or empty.
func (b *Backend) conversation(id, profileID string) *conversation {
	id = chat.WireID(id)

	b.mu.Lock()
	defer b.mu.Unlock()

	if conv, ok := b.byID[id]; ok && id != "" {
		return conv
	}
	if profileID != "" && id == "" {
		if conv, ok := b.profiles[profileID]; ok {
			return conv
		}
	}

	if id == "" {
		id = strconv.FormatUint(b.lastID.Add(1), 10)
	}
	conv := &conversation{id: id, profileID: profileID}
	b.byID[id] = conv
	if profileID != "" {
		b.profiles[profileID] = conv
	}

	b.logger.Debug("created conversation", zap.String("chat_id", id), zap.String("profile_id", profileID))

	return conv
}

func (b *Backend) stream(ctx context.Context, conv *conversation, message string) (chat.Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, chat.ErrEmptyMessage
	}

	history := conv.contents()
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction(conv.profileID), genai.RoleUser),
	}

	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		session, err := b.chats.Create(ctx, b.model, config, history)
		if err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}

		next, stop := iter.Pull2(session.SendMessageStream(ctx, genai.Part{Text: message}))
		resp, err, ok := next()
		if err == nil {
			r := &reply{conv: conv, user: message, next: next, stop: stop, logger: b.logger}
			if ok {
				r.pending = responseText(resp)
				r.hasPending = true
			} else {
				r.finished = true
				conv.record(message, "")
			}
			return r, nil
		}
		stop()

		lastErr = err
		delay, retry := retryDelay(err, attempt)
		if !retry || attempt == b.maxRetries {
			break
		}

		b.logger.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("gemini stream: %w", lastErr)
}

func instruction(profileID string) string {
	if profileID == "" {
		return systemPrompt
	}
	return systemPrompt + "\nThis conversation is about the candidate profile " + profileID + ".\n"
}

// reply adapts a pulled Gemini stream. The exchange is recorded in the
// conversation only when the stream completes.
type reply struct {
	conv   *conversation
	user   string
	logger *zap.Logger

	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	pending    string
	hasPending bool
	finished   bool
	text       strings.Builder
}

func (r *reply) ChatID() string {
	return r.conv.id
}

func (r *reply) Next() (string, error) {
	if r.hasPending {
		r.hasPending = false
		r.text.WriteString(r.pending)
		return r.pending, nil
	}
	if r.finished {
		return "", io.EOF
	}

	resp, err, ok := r.next()
	if err != nil {
		r.finished = true
		return "", err
	}
	if !ok {
		r.finished = true
		r.conv.record(r.user, r.text.String())
		return "", io.EOF
	}

	chunk := responseText(resp)
	r.text.WriteString(chunk)
	return chunk, nil
}

func (r *reply) Close() error {
	r.stop()
	return nil
}

func (c *conversation) snapshot() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *conversation) contents() []*genai.Content {
	c.mu.Lock()
	defer c.mu.Unlock()

	contents := make([]*genai.Content, 0, len(c.messages))
	for _, m := range c.messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func (c *conversation) record(user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, chat.NewMessage(chat.RoleUser, user))
	if assistant != "" {
		c.messages = append(c.messages, chat.NewMessage(chat.RoleAssistant, assistant))
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			builder.WriteString(part.Text)
		}
		// Only the first candidate is shown.
		break
	}
	return builder.String()
}

// retryDelay reports whether err is worth another attempt and how long to
// wait first. Quota errors asking for a longer pause than maxRetryDelay are
// returned as is.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return 0, false
		}
		apiErr = *apiErrPtr
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
	default:
		return 0, false
	}

	delay := baseRetryDelay * time.Duration(1<<(attempt-1))
	if m := retryAfterPattern.FindStringSubmatch(apiErr.Message); m != nil {
		seconds, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			delay = time.Duration(seconds * float64(time.Second))
		}
	}

	if delay > maxRetryDelay {
		return 0, false
	}
	return delay, true
}
