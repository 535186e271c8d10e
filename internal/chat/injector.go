package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ScopeMode is the scoping context state of a conversation.
type ScopeMode string

const (
	ScopeNone          ScopeMode = "none"
	ScopeProfileActive ScopeMode = "profile-active"
	ScopeCleared       ScopeMode = "cleared"
)

const (
	contextKeyPrefix = "chatContext:"

	scopingPrefix = "From now on, answer only about the candidate "

	// ClearingMessage returns the assistant to the general scope.
	ClearingMessage = "Forget the candidate context from now on. Answer my next questions about all profiles in general, not about one specific candidate."
)

// ScopingMessage instructs the assistant to scope every answer to candidate.
func ScopingMessage(candidate string) string {
	return fmt.Sprintf("%s%s. Use their profile as the only context of this conversation.", scopingPrefix, strings.TrimSpace(candidate))
}

// IsScopingMessage reports whether content is a scoping instruction.
func IsScopingMessage(content string) bool {
	return strings.HasPrefix(content, scopingPrefix)
}

// ContextKey returns the store key of the scoping state for a conversation key.
func ContextKey(conversationKey string) string {
	return contextKeyPrefix + strings.TrimSpace(conversationKey)
}

// Appender is the part of a chat the injector talks to.
type Appender interface {
	Append(ctx context.Context, msg Message) error
	Messages() []Message
}

// Flags describe what the mounted view shows.
type Flags struct {
	// ProfileContext is set while a profile-scoped view is shown.
	ProfileContext bool
}

type MountOptions struct {
	CandidateName   string
	AutoSendContext bool
}

// Injector issues scoping and clearing turns for profile-scoped conversations.
// Transitions are none -> profile-active -> cleared; cleared is terminal. The
// mode is recorded before the turn is sent, so a failed send never leads to a
// second injection.
type Injector struct {
	mu      sync.Mutex
	store   Store
	key     string
	logger  *zap.Logger
	mounted bool
	flags   Flags
}

func NewInjector(store Store, conversationKey string, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{
		store:  store,
		key:    ContextKey(conversationKey),
		logger: logger.With(zap.String("context_key", conversationKey)),
	}
}

// Mode returns the persisted scoping state.
func (in *Injector) Mode() ScopeMode {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.mode()
}

// Mount runs once per injector. It sends the scoping turn when the view starts
// an empty conversation about a known candidate. It reports whether a turn
// was issued.
func (in *Injector) Mount(ctx context.Context, chat Appender, opts MountOptions) (bool, error) {
	in.mu.Lock()
	if in.mounted {
		in.mu.Unlock()
		return false, nil
	}
	in.mounted = true
	in.flags = Flags{ProfileContext: true}

	name := strings.TrimSpace(opts.CandidateName)
	if !opts.AutoSendContext || name == "" || len(chat.Messages()) > 0 || in.mode() != ScopeNone {
		in.mu.Unlock()
		return false, nil
	}

	in.record(ScopeProfileActive)
	in.mu.Unlock()

	in.logger.Info("scoping conversation to candidate", zap.String("candidate", name))

	if err := chat.Append(ctx, NewMessage(RoleUser, ScopingMessage(name))); err != nil {
		in.logger.Warn("failed to send scoping message", zap.Error(err))
		return true, err
	}
	return true, nil
}

// Navigate feeds the flags of the next view. Leaving a profile context while
// a scoping turn is in the conversation sends a single clearing turn.
func (in *Injector) Navigate(ctx context.Context, chat Appender, next Flags) (bool, error) {
	in.mu.Lock()
	prev := in.flags
	in.flags = next

	if !prev.ProfileContext || next.ProfileContext || in.mode() == ScopeCleared {
		in.mu.Unlock()
		return false, nil
	}

	msgs := chat.Messages()
	if !hasScoping(msgs) || lastIsClearing(msgs) {
		in.mu.Unlock()
		return false, nil
	}

	in.record(ScopeCleared)
	in.mu.Unlock()

	in.logger.Info("clearing candidate context")

	if err := chat.Append(ctx, NewMessage(RoleUser, ClearingMessage)); err != nil {
		in.logger.Warn("failed to send clearing message", zap.Error(err))
		return true, err
	}
	return true, nil
}

// mode must be called with mu held.
func (in *Injector) mode() ScopeMode {
	if in.store == nil {
		return ScopeNone
	}
	v, ok := in.store.Get(in.key)
	if !ok {
		return ScopeNone
	}
	switch ScopeMode(v) {
	case ScopeProfileActive, ScopeCleared:
		return ScopeMode(v)
	default:
		return ScopeNone
	}
}

// record must be called with mu held.
func (in *Injector) record(mode ScopeMode) {
	if in.store == nil {
		return
	}
	if err := in.store.Set(in.key, string(mode)); err != nil {
		in.logger.Warn("failed to persist context mode", zap.String("mode", string(mode)), zap.Error(err))
	}
}

func hasScoping(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == RoleUser && IsScopingMessage(m.Content) {
			return true
		}
	}
	return false
}

func lastIsClearing(msgs []Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleUser {
			continue
		}
		return msgs[i].Content == ClearingMessage
	}
	return false
}
