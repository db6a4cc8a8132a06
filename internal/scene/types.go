package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/scenekit/internal/jobs"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/scenedef"
)

// Hook runs when a page whose definition lists its key is entered.
type Hook func(ctx context.Context, s *Scene) error

// Hooks is the static registry of page enter hooks.
type Hooks = jobs.Registry[Hook]

// NewHooks returns an empty hook registry.
func NewHooks() *Hooks {
	return jobs.NewRegistry[Hook]("hook")
}

// Blueprint binds a scene type to its definition and page controllers.
type Blueprint struct {
	Type string
	// Definition names the scene definition; defaults to Type.
	Definition string
	// Pages maps page names to controllers. Unlisted pages use Default.
	Pages map[string]page.Factory
	// Default builds unlisted pages; page.NewStatic when nil.
	Default page.Factory
}

func (b Blueprint) definitionName() string {
	if b.Definition != "" {
		return b.Definition
	}
	return b.Type
}

func (b Blueprint) factory(name string) page.Factory {
	if f, ok := b.Pages[name]; ok && f != nil {
		return f
	}
	if b.Default != nil {
		return b.Default
	}
	return page.NewStatic
}

// Types maintains the known scene blueprints.
type Types struct {
	mu         sync.RWMutex
	blueprints map[string]Blueprint
}

// NewTypes returns an empty registry.
func NewTypes() *Types {
	return &Types{blueprints: map[string]Blueprint{}}
}

// Register installs a blueprint. Returns an error if the type already exists.
func (t *Types) Register(bp Blueprint) error {
	if bp.Type == "" {
		return fmt.Errorf("scene: blueprint type is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.blueprints[bp.Type]; exists {
		return fmt.Errorf("scene: type %s already registered", bp.Type)
	}
	t.blueprints[bp.Type] = bp
	return nil
}

// MustRegister panics if registration fails.
func (t *Types) MustRegister(bp Blueprint) {
	if err := t.Register(bp); err != nil {
		panic(err)
	}
}

// Resolve returns the blueprint for a scene type.
func (t *Types) Resolve(sceneType string) (Blueprint, error) {
	t.mu.RLock()
	bp, ok := t.blueprints[sceneType]
	t.mu.RUnlock()
	if !ok {
		return Blueprint{}, &UnknownTypeError{Type: sceneType}
	}
	return bp, nil
}

// IDs returns a sorted list of registered scene types.
func (t *Types) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.blueprints))
	for id := range t.blueprints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks every blueprint against the loaded definitions: the
// definition exists, controllers name real pages, and every hook key a page
// lists is registered.
func (t *Types) Validate(defs *scenedef.Store, hooks *Hooks) error {
	for _, id := range t.IDs() {
		bp, _ := t.Resolve(id)
		def, err := defs.MustGet(bp.definitionName())
		if err != nil {
			return fmt.Errorf("scene: type %s: %w", id, err)
		}
		for name := range bp.Pages {
			if !def.HasPage(name) {
				return fmt.Errorf("scene: type %s: controller for unknown page %q", id, name)
			}
		}
		for _, key := range def.HookKeys() {
			if hooks == nil || !hooks.Has(key) {
				return fmt.Errorf("scene: type %s: unknown hook %q", id, key)
			}
		}
	}
	return nil
}
