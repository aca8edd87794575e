package credentials

import (
	"context"
	"strings"
	"sync"
)

// KeyProvider reports whether a generation API key is available and lets
// callers ask for one to be (re)loaded.
type KeyProvider interface {
	HasKey(ctx context.Context) bool
	RequestKey(ctx context.Context) (bool, error)
}

// KeySource is anything that can look up a stored Gemini key.
type KeySource interface {
	GeminiAPIKey(ctx context.Context) (string, error)
}

// KeyringOptions configures a Keyring.
type KeyringOptions struct {
	// EnvKey is a key supplied through configuration. It always wins.
	EnvKey string
	// Store is consulted when EnvKey is empty. May be nil.
	Store KeySource
	// Synthetic reports a key as present because no remote calls are made.
	Synthetic bool
}

// Keyring resolves the Gemini key from configuration or the credential store.
// The last key read from the store backs HasKey and covers store outages.
type Keyring struct {
	envKey    string
	store     KeySource
	synthetic bool

	mu     sync.RWMutex
	cached string
}

func NewKeyring(opts KeyringOptions) *Keyring {
	return &Keyring{
		envKey:    strings.TrimSpace(opts.EnvKey),
		store:     opts.Store,
		synthetic: opts.Synthetic,
	}
}

func (k *Keyring) HasKey(ctx context.Context) bool {
	if k.synthetic || k.envKey != "" {
		return true
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cached != ""
}

// RequestKey reloads the key from the store and reports whether one is now
// available.
func (k *Keyring) RequestKey(ctx context.Context) (bool, error) {
	if k.synthetic || k.envKey != "" {
		return true, nil
	}
	if k.store == nil {
		return false, nil
	}
	key, err := k.store.GeminiAPIKey(ctx)
	if err != nil {
		return k.HasKey(ctx), err
	}
	key = strings.TrimSpace(key)
	k.mu.Lock()
	k.cached = key
	k.mu.Unlock()
	return key != "", nil
}

// APIKey returns the key to use for the next remote call. The store is read
// on every call so a rotated key takes effect immediately; the last key read
// is only used when the store cannot be reached.
func (k *Keyring) APIKey(ctx context.Context) (string, error) {
	if k.envKey != "" {
		return k.envKey, nil
	}
	_, err := k.RequestKey(ctx)
	k.mu.RLock()
	cached := k.cached
	k.mu.RUnlock()
	if err != nil && cached == "" {
		return "", err
	}
	return cached, nil
}

var _ KeyProvider = (*Keyring)(nil)
