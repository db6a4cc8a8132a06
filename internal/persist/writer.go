package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultShards    = 4
	defaultQueueSize = 256
	defaultOpTimeout = 5 * time.Second
)

// OpKind enumerates the store operations a Writer schedules.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one scheduled store call.
type Op struct {
	Kind   OpKind
	UserID int64
	State  SessionState
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithShards sets how many worker goroutines drain the queue. Operations for
// one user always land on the same worker, so they apply in schedule order.
func WithShards(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.shardCount = n
		}
	}
}

// WithQueueSize bounds each worker's queue; a full queue blocks the caller.
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithOpTimeout bounds each store call.
func WithOpTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.opTimeout = d
		}
	}
}

// WithSyncWrites applies operations inline on the scheduling goroutine.
func WithSyncWrites() WriterOption {
	return func(w *Writer) {
		w.sync = true
	}
}

// WithLogger routes write failures to logger.
func WithLogger(logger zerolog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithErrorHook is invoked for every failed operation after logging.
func WithErrorHook(fn func(Op, error)) WriterOption {
	return func(w *Writer) {
		w.onError = fn
	}
}

// Writer schedules store operations off the event path. Scheduling returns
// immediately; a crash before an operation is applied loses it. Flush and
// Close wait for everything scheduled so far.
type Writer struct {
	store      Store
	logger     zerolog.Logger
	onError    func(Op, error)
	sync       bool
	shardCount int
	queueSize  int
	opTimeout  time.Duration

	shards []chan Op
	wg     sync.WaitGroup

	// gate guards closed and the shard channels against Close.
	gate   sync.RWMutex
	closed bool

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// NewWriter starts a writer over store.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:      store,
		logger:     zerolog.Nop(),
		shardCount: defaultShards,
		queueSize:  defaultQueueSize,
		opTimeout:  defaultOpTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.idle = sync.NewCond(&w.mu)
	if w.sync {
		return w
	}
	w.shards = make([]chan Op, w.shardCount)
	for i := range w.shards {
		ch := make(chan Op, w.queueSize)
		w.shards[i] = ch
		w.wg.Add(1)
		go w.run(ch)
	}
	return w
}

// Store returns the underlying store.
func (w *Writer) Store() Store {
	return w.store
}

// Insert schedules creation of a new state.
func (w *Writer) Insert(state SessionState) {
	w.schedule(Op{Kind: OpInsert, UserID: state.UserID, State: state.Clone()})
}

// Update schedules replacement of a state.
func (w *Writer) Update(state SessionState) {
	w.schedule(Op{Kind: OpUpdate, UserID: state.UserID, State: state.Clone()})
}

// Delete schedules removal of a user's state.
func (w *Writer) Delete(userID int64) {
	w.schedule(Op{Kind: OpDelete, UserID: userID})
}

func (w *Writer) schedule(op Op) {
	w.gate.RLock()
	defer w.gate.RUnlock()
	if w.closed {
		w.logger.Error().Int64("user_id", op.UserID).Str("op", string(op.Kind)).Msg("persist: writer closed, operation dropped")
		return
	}
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()

	if w.sync {
		w.apply(op)
		return
	}
	w.shards[shardFor(op.UserID, len(w.shards))] <- op
}

func shardFor(userID int64, n int) int {
	if userID < 0 {
		userID = -userID
	}
	return int(userID % int64(n))
}

func (w *Writer) run(ch <-chan Op) {
	defer w.wg.Done()
	for op := range ch {
		w.apply(op)
	}
}

func (w *Writer) apply(op Op) {
	defer w.done()
	ctx, cancel := context.WithTimeout(context.Background(), w.opTimeout)
	defer cancel()
	var err error
	switch op.Kind {
	case OpInsert:
		err = w.store.Insert(ctx, op.State)
		if errors.Is(err, ErrExists) {
			w.logger.Warn().Int64("user_id", op.UserID).Msg("persist: stale state replaced on insert")
			err = w.store.Update(ctx, op.State)
		}
	case OpUpdate:
		err = w.store.Update(ctx, op.State)
	case OpDelete:
		err = w.store.Delete(ctx, op.UserID)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
	default:
		err = fmt.Errorf("persist: unknown op %q", op.Kind)
	}
	if err == nil {
		return
	}
	w.logger.Error().Err(err).Int64("user_id", op.UserID).Str("op", string(op.Kind)).Msg("persist: write failed")
	if w.onError != nil {
		w.onError(op, err)
	}
}

func (w *Writer) done() {
	w.mu.Lock()
	w.pending--
	if w.pending == 0 {
		w.idle.Broadcast()
	}
	w.mu.Unlock()
}

// Flush blocks until every operation scheduled before the call is applied or
// ctx ends.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.mu.Lock()
		for w.pending > 0 {
			w.idle.Wait()
		}
		w.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persist: flush: %w", ctx.Err())
	}
}

// Close stops accepting operations, drains the queues and waits for workers.
func (w *Writer) Close(ctx context.Context) error {
	w.gate.Lock()
	if w.closed {
		w.gate.Unlock()
		return nil
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.gate.Unlock()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persist: close: %w", ctx.Err())
	}
}
