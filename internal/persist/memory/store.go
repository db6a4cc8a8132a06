// Package memory is an in-process persist.Store used in development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kingrea/scenekit/internal/persist"
)

// Store keeps session states in a map keyed by user id.
type Store struct {
	mu     sync.RWMutex
	states map[int64]persist.SessionState
}

// New returns an empty store.
func New() *Store {
	return &Store{states: map[int64]persist.SessionState{}}
}

// Insert implements persist.Store.
func (s *Store) Insert(_ context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[state.UserID]; exists {
		return persist.ErrExists
	}
	state = state.Clone()
	state.Data = state.Data.Normalized()
	s.states[state.UserID] = state
	return nil
}

// Load implements persist.Store.
func (s *Store) Load(_ context.Context, userID int64) (persist.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return persist.SessionState{}, persist.ErrNotFound
	}
	return state.Clone(), nil
}

// Update implements persist.Store. Missing states are created.
func (s *Store) Update(_ context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	state = state.Clone()
	state.Data = state.Data.Normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state
	return nil
}

// Delete implements persist.Store.
func (s *Store) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[userID]; !ok {
		return persist.ErrNotFound
	}
	delete(s.states, userID)
	return nil
}

// List implements persist.Store, ordered by user id.
func (s *Store) List(_ context.Context) ([]persist.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persist.SessionState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Len returns the number of stored states.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Close implements persist.Store.
func (s *Store) Close() error {
	return nil
}
