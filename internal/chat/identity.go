package chat

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// ChatIDKey is the store key of the persisted regular conversation id.
	ChatIDKey = "chatId"

	profileChatIDPrefix = "chatId:profile:"
)

var wireIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Store is the key-value port holding persisted session state.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// ProfileChatIDKey returns the store key of a profile-scoped conversation id.
func ProfileChatIDKey(profileID string) string {
	return profileChatIDPrefix + strings.TrimSpace(profileID)
}

// Resolution is the outcome of Identity.Resolve.
type Resolution struct {
	ID    string
	Fresh bool
}

// Identity resolves and persists the active conversation id.
type Identity struct {
	mu       sync.Mutex
	store    Store
	key      string
	logger   *zap.Logger
	id       string
	fresh    bool
	assigned bool
}

func NewIdentity(store Store, key string, logger *zap.Logger) *Identity {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = ChatIDKey
	}

	return &Identity{
		store:  store,
		key:    key,
		logger: logger,
		fresh:  true,
	}
}

// Resolve picks the working id: an explicit id wins over the persisted one.
// With neither available the conversation is fresh and has no id.
func (i *Identity) Resolve(explicit string) Resolution {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.assigned = false

	if id, ok := wellFormed(explicit); ok {
		i.id, i.fresh = id, false
		i.persist(id)
		return Resolution{ID: id, Fresh: false}
	}

	if i.store != nil {
		if stored, found := i.store.Get(i.key); found {
			if id, ok := wellFormed(stored); ok {
				i.id, i.fresh = id, false
				return Resolution{ID: id, Fresh: false}
			}
		}
	}

	i.id, i.fresh = "", true
	return Resolution{Fresh: true}
}

// Assign records a server-assigned id. Only the first assignment into a
// session without an id is accepted; it reports whether id was taken.
func (i *Identity) Assign(id string) bool {
	id, ok := wellFormed(id)
	if !ok {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.assigned || i.id != "" {
		if i.id != id {
			i.logger.Debug("ignoring server assigned chat id",
				zap.String("chat_id", i.id),
				zap.String("ignored_chat_id", id),
			)
		}
		return false
	}

	i.id = id
	i.fresh = false
	i.assigned = true
	i.persist(id)

	i.logger.Info("server assigned chat id", zap.String("chat_id", id))
	return true
}

// Reset forgets the current id, including the persisted copy.
func (i *Identity) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.id = ""
	i.fresh = true
	i.assigned = false

	if i.store == nil {
		return
	}
	if err := i.store.Delete(i.key); err != nil {
		i.logger.Warn("failed to delete persisted chat id", zap.String("key", i.key), zap.Error(err))
	}
}

func (i *Identity) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

func (i *Identity) Fresh() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fresh
}

// WireID returns the id in the form the streaming endpoint accepts. Only
// strictly numeric ids are forwarded; everything else becomes "".
func (i *Identity) WireID() string {
	return WireID(i.ID())
}

// WireID normalizes a conversation id for the wire.
func WireID(id string) string {
	id = strings.TrimSpace(id)
	if !wireIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func (i *Identity) persist(id string) {
	if i.store == nil {
		return
	}
	if err := i.store.Set(i.key, id); err != nil {
		i.logger.Warn("failed to persist chat id", zap.String("key", i.key), zap.Error(err))
	}
}

// wellFormed rejects blanks and the literal leftovers of serialized nulls.
func wellFormed(id string) (string, bool) {
	id = strings.TrimSpace(id)
	switch strings.ToLower(id) {
	case "", "null", "undefined":
		return "", false
	}
	return id, true
}
