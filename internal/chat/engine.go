package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/spigell/recruit-chat/internal/utils"
)

const (
	defaultSendTimeout  = 60 * time.Second
	defaultMaxLogLength = 200
)

// State is the exchange state of an Engine.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StreamRequest is a single user turn sent to the streaming endpoint.
type StreamRequest struct {
	Message string
	// ID is the wire form of the conversation id, see WireID.
	ID string
}

// Reply is an open streamed response.
type Reply interface {
	// ChatID returns the server assigned conversation id once the response
	// has carried one, "" before that.
	ChatID() string
	// Next returns the next text chunk, or io.EOF when the reply is complete.
	Next() (string, error)
	Close() error
}

// Streamer opens streamed replies.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest) (Reply, error)
}

// Expirer tears the authenticated session down after a 401.
type Expirer interface {
	Expire()
}

// Update is delivered to observers after every state change and chunk.
type Update struct {
	State    State
	Messages []Message
	Err      error
}

// Observer receives engine updates in order. Observers must not call Submit,
// Append or Reset synchronously.
type Observer func(Update)

type EngineConfig struct {
	Streamer Streamer
	Identity *Identity
	Expirer  Expirer
	Logger   *zap.Logger
	// SendTimeout bounds the time spent in the sending state. Zero means the default,
	// negative disables the bound.
	SendTimeout  time.Duration
	MaxLogLength int
}

// Engine owns the live message list and runs one exchange at a time against
// the streaming endpoint.
type Engine struct {
	streamer  Streamer
	identity  *Identity
	expirer   Expirer
	logger    *zap.Logger
	timeout   time.Duration
	maxLogLen int

	base       context.Context
	cancelBase context.CancelFunc

	mu             sync.Mutex
	notifyMu       sync.Mutex
	gate           *semaphore.Weighted
	gen            uint64
	closed         bool
	state          State
	err            error
	messages       []Message
	cancelExchange context.CancelFunc
	observers      map[int]Observer
	nextObserver   int
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.SendTimeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	identity := cfg.Identity
	if identity == nil {
		identity = NewIdentity(nil, "", logger)
	}

	base, cancel := context.WithCancel(context.Background())

	return &Engine{
		streamer:   cfg.Streamer,
		identity:   identity,
		expirer:    cfg.Expirer,
		logger:     logger,
		timeout:    timeout,
		maxLogLen:  maxLogLen,
		base:       base,
		cancelBase: cancel,
		gate:       semaphore.NewWeighted(1),
		observers:  make(map[int]Observer),
	}
}

// Submit sends text as a user turn and blocks until the reply is complete.
func (e *Engine) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return e.exchange(ctx, NewMessage(RoleUser, text))
}

// Append sends a prepared user message, used for synthetic turns.
func (e *Engine) Append(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyMessage
	}
	if msg.ID == "" {
		msg.ID = NewMessage(msg.Role, "").ID
	}
	if msg.Role == "" {
		msg.Role = RoleUser
	}
	return e.exchange(ctx, msg)
}

func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.messages)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsLoading reports whether an exchange is in flight.
func (e *Engine) IsLoading() bool {
	s := e.State()
	return s == StateSending || s == StateStreaming
}

// Err returns the error of the last failed exchange.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Subscribe registers an observer and returns a function removing it.
func (e *Engine) Subscribe(o Observer) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = o

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

// Load replaces the message list, used to seed the engine with history.
func (e *Engine) Load(msgs []Message) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.messages = cloneMessages(msgs)
	e.commit()
}

// Reset abandons any in-flight exchange and empties the message list. hook
// runs inside the same critical section, so observers never see a state in
// between.
func (e *Engine) Reset(hook func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.abandon()
	e.messages = nil
	e.state = StateIdle
	e.err = nil
	if hook != nil {
		hook()
	}
	e.commit()
}

// Close abandons any in-flight exchange. Once it returns no update is
// delivered anymore, so it must not be called from an observer.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.abandon()
	e.cancelBase()
	e.mu.Unlock()

	// Wait for a delivery that was already under way.
	e.notifyMu.Lock()
	e.notifyMu.Unlock()
}

// abandon must be called with mu held.
func (e *Engine) abandon() {
	e.gen++
	if e.cancelExchange != nil {
		e.cancelExchange()
		e.cancelExchange = nil
	}
	e.gate = semaphore.NewWeighted(1)
}

func (e *Engine) exchange(ctx context.Context, msg Message) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	gate := e.gate
	if !gate.TryAcquire(1) {
		e.mu.Unlock()
		e.logger.Debug("ignoring message while reply is in progress")
		return ErrBusy
	}
	defer gate.Release(1)

	exCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.base, cancel)
	defer stop()

	gen := e.gen
	e.cancelExchange = cancel
	e.messages = append(e.messages, msg)
	e.state = StateSending
	e.err = nil
	e.commit()

	var (
		timedOut atomic.Bool
		timer    *time.Timer
	)
	if e.timeout > 0 {
		timer = time.AfterFunc(e.timeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	wireID := e.identity.WireID()
	e.logger.Debug("sending chat message",
		zap.String("chat_id", wireID),
		zap.String("message_preview", utils.TruncateForLog(msg.Content, e.maxLogLen)),
	)

	reply, err := e.streamer.Stream(exCtx, StreamRequest{Message: msg.Content, ID: wireID})
	if err != nil {
		return e.fail(ctx, gen, "", classify(err, &timedOut))
	}
	defer reply.Close()

	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return ErrClosed
	}
	e.assign(reply.ChatID())
	e.mu.Unlock()

	// The engine stays in sending, with the send bound armed, until the
	// first chunk of text arrives.
	var (
		placeholder Message
		started     bool
		chunks      int
		size        int
	)
	for {
		chunk, err := reply.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return e.fail(ctx, gen, placeholder.ID, classify(err, &timedOut))
		}

		e.mu.Lock()
		if !e.current(gen) {
			e.mu.Unlock()
			return ErrClosed
		}
		e.assign(reply.ChatID())
		if chunk == "" {
			e.mu.Unlock()
			continue
		}

		if !started {
			if timer != nil {
				timer.Stop()
			}
			started = true
			placeholder = NewMessage(RoleAssistant, chunk)
			e.messages = append(e.messages, placeholder)
			e.state = StateStreaming
		} else {
			e.messages[len(e.messages)-1].Content += chunk
		}
		chunks++
		size += utf8.RuneCountInString(chunk)
		e.commit()
	}

	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return ErrClosed
	}
	e.assign(reply.ChatID())
	var content string
	if started {
		content = e.messages[len(e.messages)-1].Content
	}
	e.state = StateIdle
	e.cancelExchange = nil
	e.commit()

	e.logger.Debug("chat reply completed",
		zap.String("chat_id", e.identity.WireID()),
		zap.Int("chunks", chunks),
		zap.Int("reply_length", size),
		zap.String("reply_preview", utils.TruncateForLog(content, e.maxLogLen)),
	)

	return nil
}

// fail settles a failed exchange. placeholderID is the assistant message to
// discard, "" when none was added.
func (e *Engine) fail(ctx context.Context, gen uint64, placeholderID string, err error) error {
	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		return err
	}

	if placeholderID != "" {
		if last := len(e.messages) - 1; last >= 0 && e.messages[last].ID == placeholderID {
			e.messages = e.messages[:last]
		}
	}
	e.cancelExchange = nil

	switch {
	case errors.Is(err, ErrUnauthorized):
		e.state = StateIdle
		e.err = nil
		e.commit()

		e.logger.Warn("chat request unauthorized, expiring session")
		if e.expirer != nil {
			e.expirer.Expire()
		}
	case ctx.Err() != nil && !errors.Is(err, ErrTimeout):
		e.state = StateIdle
		e.err = nil
		e.commit()
	default:
		e.state = StateError
		e.err = err
		e.commit()

		e.logger.Warn("chat exchange failed", zap.Error(err))
	}

	return err
}

// current must be called with mu held.
func (e *Engine) current(gen uint64) bool {
	return !e.closed && gen == e.gen
}

// assign hands a server assigned id to the identity. Must be called with mu held.
func (e *Engine) assign(chatID string) {
	if chatID == "" {
		return
	}
	e.identity.Assign(chatID)
}

// commit must be called with mu held; it releases mu and notifies observers
// of the new state in order.
func (e *Engine) commit() {
	u := Update{
		State:    e.state,
		Messages: cloneMessages(e.messages),
		Err:      e.err,
	}
	observers := make([]Observer, 0, len(e.observers))
	for i := 0; i < e.nextObserver; i++ {
		if o, ok := e.observers[i]; ok {
			observers = append(observers, o)
		}
	}

	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	for _, o := range observers {
		o(u)
	}
}

// classify reports an exchange cut by the send bound as ErrTimeout. Transports
// surface the cancellation in their own words, so any failure after the bound
// fired counts.
func classify(err error, timedOut *atomic.Bool) error {
	if timedOut.Load() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
