package scenedef

import (
	"fmt"
	"sort"
	"sync"
)

// Store exposes loaded scene definitions by name. Reload replaces the whole set
// and bumps Generation; holders of a Scene value keep the old copy until they
// look it up again.
type Store struct {
	mu     sync.RWMutex
	scenes map[string]Scene
	gen    uint64
}

// NewStore wraps already-parsed scenes.
func NewStore(scenes map[string]Scene) *Store {
	s := &Store{}
	s.replace(scenes)
	return s
}

// Open loads scenes from a file or directory into a new store.
func Open(path string) (*Store, error) {
	scenes, err := LoadPath(path)
	if err != nil {
		return nil, err
	}
	return NewStore(scenes), nil
}

// Reload re-reads path and swaps the full set. On error the current set is kept.
func (s *Store) Reload(path string) error {
	scenes, err := LoadPath(path)
	if err != nil {
		return err
	}
	s.replace(scenes)
	return nil
}

// Replace swaps in an already-loaded set.
func (s *Store) Replace(scenes map[string]Scene) {
	s.replace(scenes)
}

func (s *Store) replace(scenes map[string]Scene) {
	next := make(map[string]Scene, len(scenes))
	for name, sc := range scenes {
		next[name] = sc
	}
	s.mu.Lock()
	s.scenes = next
	s.gen++
	s.mu.Unlock()
}

// Generation increases with every swap of the set.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Get returns the named scene.
func (s *Store) Get(name string) (Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenes[name]
	return sc, ok
}

// MustGet returns the named scene or a ConfigError.
func (s *Store) MustGet(name string) (Scene, error) {
	sc, ok := s.Get(name)
	if !ok {
		return Scene{}, &ConfigError{Err: fmt.Errorf("unknown scene %s", name)}
	}
	return sc, nil
}

// Names returns the loaded scene names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.scenes))
	for name := range s.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
