package auth

import (
	"fmt"
	"os"
	"strings"
)

// TokenKey is the store key holding the bearer token.
const TokenKey = "token"

// Getter is the read side of the session store.
type Getter interface {
	Get(key string) (string, bool)
}

// Source describes where the bearer token comes from.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline token provided via configuration or flags.
	Value string
	// File points to a file containing the token. When set it takes
	// precedence over Value.
	File string
	// Store is consulted last, under TokenKey.
	Store Getter
}

// LoadToken resolves the token from File, Value and Store, in that order. The
// returned token is trimmed.
func LoadToken(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "api token"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return strings.TrimPrefix(token, "Bearer "), nil
	}

	if token := strings.TrimSpace(src.Value); token != "" {
		return strings.TrimPrefix(token, "Bearer "), nil
	}

	if src.Store != nil {
		if token, ok := src.Store.Get(TokenKey); ok && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}

	return "", fmt.Errorf("%s is not configured", name)
}
