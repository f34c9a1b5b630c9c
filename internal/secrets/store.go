// Package secrets resolves provider API keys and other credentials at
// runtime. Keys are injected from the environment or a mounted secrets file,
// never embedded in source, and re-resolved periodically so a rotated key is
// picked up without restarting the process.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no store in the chain holds the secret.
var ErrNotFound = errors.New("secrets: not found")

// Store resolves a named secret.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// Source is a bound lookup for one secret, handed to provider adapters so
// they fetch the current key on every request.
type Source func(ctx context.Context) (string, error)

// EnvStore resolves secrets from environment variables. Names are mapped
// "gemini-api-key" -> "GEMINI_API_KEY".
type EnvStore struct{}

func (EnvStore) Get(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: env %s", ErrNotFound, key)
	}
	return v, nil
}

// FileStore resolves secrets from a JSON file of name -> value. The file is
// re-read on every lookup; secret managers update mounted files in place on
// rotation.
type FileStore struct {
	Path string
}

func (s FileStore) Get(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("reading secrets file: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	v, ok := values[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, s.Path)
	}
	return v, nil
}

// Chain tries each store in order, returning the first hit. A store error
// other than ErrNotFound aborts the chain.
type Chain struct {
	stores []Store
}

func NewChain(stores ...Store) *Chain {
	return &Chain{stores: stores}
}

func (c *Chain) Get(ctx context.Context, name string) (string, error) {
	for _, s := range c.stores {
		v, err := s.Get(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Rotating caches resolved values for an interval. In-flight requests keep
// the value they already read; the next resolution after the interval picks
// up the rotated key. A failed refresh keeps serving the last good value
// (the old credential's grace window).
type Rotating struct {
	store    Store
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

func NewRotating(store Store, interval time.Duration) *Rotating {
	return &Rotating{
		store:    store,
		interval: interval,
		now:      time.Now,
		cached:   make(map[string]cachedSecret),
	}
}

func (r *Rotating) Get(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	entry, ok := r.cached[name]
	fresh := ok && r.now().Sub(entry.fetchedAt) < r.interval
	r.mu.Unlock()

	if fresh {
		return entry.value, nil
	}

	v, err := r.store.Get(ctx, name)
	if err != nil {
		if ok {
			// Grace window: keep serving the previous value.
			return entry.value, nil
		}
		return "", err
	}

	r.mu.Lock()
	r.cached[name] = cachedSecret{value: v, fetchedAt: r.now()}
	r.mu.Unlock()
	return v, nil
}

// SourceFor binds one secret name to a Source.
func SourceFor(store Store, name string) Source {
	return func(ctx context.Context) (string, error) {
		return store.Get(ctx, name)
	}
}
