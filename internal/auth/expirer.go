package auth

import (
	"sync"

	"go.uber.org/zap"
)

// Clearer is the part of the session store wiped on expiration.
type Clearer interface {
	Clear() error
}

// Expirer is the shared token-expiration handler: it wipes all local auth and
// session state and redirects to the login flow. Only the first call of an
// expiration takes effect.
type Expirer struct {
	mu       sync.Mutex
	store    Clearer
	redirect func()
	logger   *zap.Logger
	expired  bool
}

func NewExpirer(store Clearer, redirect func(), logger *zap.Logger) *Expirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expirer{
		store:    store,
		redirect: redirect,
		logger:   logger,
	}
}

func (e *Expirer) Expire() {
	e.mu.Lock()
	if e.expired {
		e.mu.Unlock()
		return
	}
	e.expired = true
	e.mu.Unlock()

	e.logger.Warn("authentication expired, clearing local session")

	if e.store != nil {
		if err := e.store.Clear(); err != nil {
			e.logger.Error("failed to clear session store", zap.Error(err))
		}
	}

	if e.redirect != nil {
		e.redirect()
	}
}

// Expired reports whether the session has been torn down.
func (e *Expirer) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}
