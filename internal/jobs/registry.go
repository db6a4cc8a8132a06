// Package jobs maps stable string keys to function references. Scene
// definitions and configuration name hooks and scheduled jobs by key; keys
// are resolved once at startup.
package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named functions of one kind.
type Registry[F any] struct {
	kind  string
	mu    sync.RWMutex
	funcs map[string]F
}

// NewRegistry returns an empty registry. kind labels errors ("hook", "job").
func NewRegistry[F any](kind string) *Registry[F] {
	return &Registry[F]{kind: kind, funcs: map[string]F{}}
}

// Register installs fn under key. Returns an error if the key already exists.
func (r *Registry[F]) Register(key string, fn F) error {
	if key == "" {
		return fmt.Errorf("jobs: %s key is required", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[key]; exists {
		return fmt.Errorf("jobs: %s %s already registered", r.kind, key)
	}
	r.funcs[key] = fn
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry[F]) MustRegister(key string, fn F) {
	if err := r.Register(key, fn); err != nil {
		panic(err)
	}
}

// Resolve returns the function registered under key.
func (r *Registry[F]) Resolve(key string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[key]
	if !ok {
		var zero F
		return zero, fmt.Errorf("jobs: unknown %s %s", r.kind, key)
	}
	return fn, nil
}

// Has reports whether key is registered.
func (r *Registry[F]) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[key]
	return ok
}

// Keys returns the registered keys, sorted.
func (r *Registry[F]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
