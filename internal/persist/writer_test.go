package persist_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/persist/memory"
	"github.com/kingrea/scenekit/internal/persist/persisttest"
)

type failingStore struct {
	persist.Store
	err error
}

func (f failingStore) Update(context.Context, persist.SessionState) error { return f.err }

func TestWriterAppliesPerUserOperationsInOrder(t *testing.T) {
	store := memory.New()
	w := persist.NewWriter(store, persist.WithShards(3))
	ctx := context.Background()

	for id := int64(1); id <= 20; id++ {
		state := persisttest.Sample(id)
		w.Insert(state)
		for i := 0; i < 5; i++ {
			state.MessageID = i
			w.Update(state)
		}
		if id%2 == 0 {
			w.Delete(id)
		}
	}
	require.NoError(t, w.Flush(ctx))

	states, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 10)
	for _, s := range states {
		require.Equal(t, int64(1), s.UserID%2)
		require.Equal(t, 4, s.MessageID, "last update must win for user %d", s.UserID)
	}
	require.NoError(t, w.Close(ctx))
}

func TestWriterInsertFallsBackToUpdate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, persisttest.Sample(9)))

	w := persist.NewWriter(store, persist.WithSyncWrites())
	fresh := persisttest.Sample(9)
	fresh.Page = "name"
	w.Insert(fresh)

	got, err := store.Load(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, "name", got.Page)
}

func TestWriterSnapshotsStateAtScheduleTime(t *testing.T) {
	store := memory.New()
	w := persist.NewWriter(store)
	state := persisttest.Sample(3)
	w.Update(state)
	state.Data["name"]["value"] = "mutated"
	require.NoError(t, w.Close(context.Background()))

	got, err := store.Load(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "Ada", got.Data["name"]["value"])
}

func TestWriterReportsFailures(t *testing.T) {
	boom := errors.New("disk full")
	var (
		mu     sync.Mutex
		failed []persist.Op
	)
	w := persist.NewWriter(failingStore{Store: memory.New(), err: boom},
		persist.WithSyncWrites(),
		persist.WithErrorHook(func(op persist.Op, err error) {
			mu.Lock()
			defer mu.Unlock()
			require.ErrorIs(t, err, boom)
			failed = append(failed, op)
		}),
	)
	w.Update(persisttest.Sample(4))
	w.Delete(4) // missing rows are not failures

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	require.Equal(t, persist.OpUpdate, failed[0].Kind)
}

func TestWriterDropsOperationsAfterClose(t *testing.T) {
	store := memory.New()
	w := persist.NewWriter(store)
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))
	w.Update(persisttest.Sample(5))
	require.Equal(t, 0, store.Len())
}

func TestWriterFlushHonorsContext(t *testing.T) {
	block := make(chan struct{})
	w := persist.NewWriter(blockingStore{Store: memory.New(), release: block}, persist.WithShards(1))
	w.Update(persisttest.Sample(6))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, w.Flush(ctx))

	close(block)
	require.NoError(t, w.Flush(context.Background()))
	require.NoError(t, w.Close(context.Background()))
}

type blockingStore struct {
	persist.Store
	release chan struct{}
}

func (b blockingStore) Update(ctx context.Context, state persist.SessionState) error {
	<-b.release
	return b.Store.Update(ctx, state)
}
