package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and its scenes.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock overrides the time source used for time-based behavior.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLocation sets the time zone scenes resolve dates in.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithHooks installs the page enter hook registry.
func WithHooks(hooks *Hooks) Option {
	return func(r *Registry) {
		if hooks != nil {
			r.hooks = hooks
		}
	}
}

// Registry is the table of active scenes, one per user.
type Registry struct {
	types     *Types
	defs      *scenedef.Store
	transport transport.Transport
	writer    *persist.Writer
	hooks     *Hooks
	logger    zerolog.Logger
	clock     func() time.Time
	loc       *time.Location

	mu       sync.RWMutex
	sessions map[int64]*Scene
}

// NewRegistry wires a registry.
func NewRegistry(types *Types, defs *scenedef.Store, tr transport.Transport, writer *persist.Writer, opts ...Option) *Registry {
	r := &Registry{
		types:     types,
		defs:      defs,
		transport: tr,
		writer:    writer,
		hooks:     NewHooks(),
		logger:    zerolog.Nop(),
		clock:     time.Now,
		loc:       time.Local,
		sessions:  map[int64]*Scene{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Registry) now() time.Time {
	return r.clock().In(r.loc)
}

// Types returns the blueprint registry.
func (r *Registry) Types() *Types {
	return r.types
}

func (r *Registry) resolve(sceneType string) (Blueprint, scenedef.Scene, error) {
	bp, err := r.types.Resolve(sceneType)
	if err != nil {
		return Blueprint{}, scenedef.Scene{}, err
	}
	def, err := r.defs.MustGet(bp.definitionName())
	if err != nil {
		return Blueprint{}, scenedef.Scene{}, err
	}
	return bp, def, nil
}

func (r *Registry) build(bp Blueprint, def scenedef.Scene, state persist.SessionState) *Scene {
	state.Data = state.Data.Normalized()
	id := uuid.NewString()
	return &Scene{
		id:        id,
		registry:  r,
		blueprint: bp,
		def:       def,
		pages:     map[string]page.Page{},
		state:     state,
		logger: r.logger.With().
			Int64("user_id", state.UserID).
			Str("scene", bp.Type).
			Str("instance", id).
			Logger(),
	}
}

// Create starts a new scene of sceneType for userID on the entry page. It
// returns *DuplicateSessionError if the user already has one. The scene stays
// registered even when the first render fails.
func (r *Registry) Create(ctx context.Context, userID int64, sceneType string) (*Scene, error) {
	bp, def, err := r.resolve(sceneType)
	if err != nil {
		return nil, err
	}
	s := r.build(bp, def, persist.SessionState{
		UserID:    userID,
		SceneType: sceneType,
		Page:      def.EntryPage(),
	})

	r.mu.Lock()
	if existing, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return nil, &DuplicateSessionError{UserID: userID, Existing: existing.SceneType()}
	}
	r.sessions[userID] = s
	r.mu.Unlock()

	s.logger.Info().Msg("scene: started")
	if err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Replace ends the user's current scene, if any, and creates a new one.
func (r *Registry) Replace(ctx context.Context, userID int64, sceneType string) (*Scene, error) {
	if old, ok := r.Get(userID); ok {
		if err := old.End(ctx); err != nil {
			return nil, err
		}
	}
	return r.Create(ctx, userID, sceneType)
}

// Get returns the user's active scene.
func (r *Registry) Get(userID int64) (*Scene, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Remove drops the user's scene from the table without touching the
// transport or storage.
func (r *Registry) Remove(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	delete(r.sessions, userID)
	return ok
}

// detach removes s only if it is still the user's registered scene.
func (r *Registry) detach(s *Scene) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UserID()] == s {
		delete(r.sessions, s.UserID())
	}
}

// Len returns the number of active scenes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetForParams returns active scenes filtered by scene type and current
// page, ordered by user id. Empty filters match everything.
func (r *Registry) GetForParams(sceneType, pageName string) []*Scene {
	r.mu.RLock()
	out := make([]*Scene, 0, len(r.sessions))
	for _, s := range r.sessions {
		if sceneType != "" && s.SceneType() != sceneType {
			continue
		}
		if pageName != "" && s.CurrentPage() != pageName {
			continue
		}
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID() < out[j].UserID() })
	return out
}

// SaveAll queues a write of every active scene on the persistence writer and
// waits for the writer to drain. It backs the reconcile job that repairs
// writes lost by the asynchronous writer. A scene is queued while the table
// lock is held, so its write is ordered before the delete of a concurrent End
// and scenes already ended are skipped.
func (r *Registry) SaveAll(ctx context.Context) error {
	r.mu.RLock()
	for _, s := range r.sessions {
		r.writer.Update(s.Snapshot())
	}
	r.mu.RUnlock()
	if err := r.writer.Flush(ctx); err != nil {
		return fmt.Errorf("scene: save all: %w", err)
	}
	return nil
}

// LoadOptions tunes LoadFromDB.
type LoadOptions struct {
	// Rerender refreshes each restored scene's message.
	Rerender bool
}

// LoadFromDB restores scenes from the store without starting them. States
// whose scene type or page no longer exists are skipped and logged, as are
// users that already have a live scene. Returns how many scenes were restored.
func (r *Registry) LoadFromDB(ctx context.Context, opts LoadOptions) (int, error) {
	states, err := r.writer.Store().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("scene: load sessions: %w", err)
	}
	restored := 0
	for _, state := range states {
		log := r.logger.With().Int64("user_id", state.UserID).Str("scene", state.SceneType).Logger()
		bp, def, err := r.resolve(state.SceneType)
		if err != nil {
			log.Warn().Err(err).Msg("scene: stored session skipped")
			continue
		}
		if !def.HasPage(state.Page) {
			log.Warn().Str("page", state.Page).Msg("scene: stored session on unknown page skipped")
			continue
		}
		s := r.build(bp, def, state)
		r.mu.Lock()
		if _, exists := r.sessions[state.UserID]; exists {
			r.mu.Unlock()
			log.Warn().Msg("scene: stored session shadowed by live session")
			continue
		}
		r.sessions[state.UserID] = s
		r.mu.Unlock()
		restored++
		if opts.Rerender {
			if err := s.UpdateMessage(ctx); err != nil {
				log.Error().Err(err).Msg("scene: rerender after restore failed")
			}
		}
	}
	r.logger.Info().Int("restored", restored).Int("stored", len(states)).Msg("scene: sessions restored")
	return restored, nil
}
