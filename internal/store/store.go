// Package store holds the key-value backends for persisted session state:
// conversation ids, scoping context markers and the bearer token.
package store

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// KV is a session-scoped key-value store.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	// Clear drops every key, used on logout and token expiration.
	Clear() error
	Close() error
}

type Config struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// Open returns the backend selected by cfg.Driver.
func Open(cfg *Config, logger *zap.Logger) (KV, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := DriverMemory
	path := ""
	if cfg != nil {
		if d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d != "" {
			driver = d
		}
		path = strings.TrimSpace(cfg.Path)
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile, DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("store path is required for %s driver", driver)
		}
		if driver == DriverFile {
			return NewFile(path, logger)
		}
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
