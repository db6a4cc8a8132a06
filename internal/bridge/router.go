package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/dispatch"
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 128
	defaultDedupeWindow = 1024
)

var (
	// ErrDuplicate reports an event id seen within the dedupe window.
	ErrDuplicate = errors.New("bridge: duplicate event")
	// ErrQueueFull reports that the user's worker queue has no room.
	ErrQueueFull = errors.New("bridge: queue full")
	// ErrClosed reports that the router no longer accepts events.
	ErrClosed = errors.New("bridge: router closed")
)

// Dispatcher is the downstream consumer of routed events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.Event) error
}

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// RouterWithLogger injects a logger for drop and failure messages.
func RouterWithLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithWorkers sets how many workers drain events. Events of one user
// always land on the same worker.
func RouterWithWorkers(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// RouterWithQueueSize bounds each worker queue.
func RouterWithQueueSize(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// RouterWithDedupeWindow sets how many recent event ids are remembered.
func RouterWithDedupeWindow(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.dedupeWindow = n
		}
	}
}

// Router deduplicates bridge events and feeds them to the dispatcher in
// per-user order. It implements EventProcessor.
type Router struct {
	target       Dispatcher
	logger       zerolog.Logger
	workers      int
	queueSize    int
	dedupeWindow int

	mu          sync.Mutex
	recentIDs   map[string]struct{}
	recentOrder []string
	queues      []chan dispatch.Event
	closed      bool
}

// NewRouter constructs a router delivering to target.
func NewRouter(target Dispatcher, opts ...RouterOption) *Router {
	r := &Router{
		target:       target,
		logger:       zerolog.Nop(),
		workers:      defaultWorkers,
		queueSize:    defaultQueueSize,
		dedupeWindow: defaultDedupeWindow,
		recentIDs:    map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.recentOrder = make([]string, 0, r.dedupeWindow)
	r.queues = make([]chan dispatch.Event, r.workers)
	for i := range r.queues {
		r.queues[i] = make(chan dispatch.Event, r.queueSize)
	}
	return r
}

// HandleEvent queues ev for its user's worker.
func (r *Router) HandleEvent(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.seen(ev.ID) {
		return ErrDuplicate
	}
	select {
	case r.queues[r.queueFor(ev.UserID)] <- ev.Event:
		r.remember(ev.ID)
		return nil
	default:
		r.logger.Warn().Int64("user_id", ev.UserID).Str("event_id", ev.ID).Msg("bridge: queue full, event rejected")
		return ErrQueueFull
	}
}

// Run drains the queues until ctx ends, then stops accepting events and
// finishes what was already queued.
func (r *Router) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	drainCtx := context.WithoutCancel(ctx)
	for _, q := range r.queues {
		wg.Add(1)
		go func(q <-chan dispatch.Event) {
			defer wg.Done()
			for ev := range q {
				if err := r.target.Dispatch(drainCtx, ev); err != nil {
					r.logger.Warn().Err(err).Int64("user_id", ev.UserID).Str("event_id", ev.ID).Msg("bridge: dispatch failed")
				}
			}
		}(q)
	}
	<-ctx.Done()
	r.mu.Lock()
	r.closed = true
	for _, q := range r.queues {
		close(q)
	}
	r.mu.Unlock()
	wg.Wait()
	return nil
}

func (r *Router) queueFor(userID int64) int {
	if userID < 0 {
		userID = -userID
	}
	return int(userID % int64(len(r.queues)))
}

func (r *Router) seen(eventID string) bool {
	_, ok := r.recentIDs[eventID]
	return ok
}

func (r *Router) remember(eventID string) {
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
}
