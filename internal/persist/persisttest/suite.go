// Package persisttest holds the behavior every persist.Store backend must
// share. Backend packages call Run from their own tests.
package persisttest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/scenekit/internal/persist"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) persist.Store

// Sample returns a state with both the scene namespace and a page namespace
// populated. Values use JSON-stable types.
func Sample(userID int64) persist.SessionState {
	return persist.SessionState{
		UserID:    userID,
		SceneType: "booking",
		Page:      "when",
		MessageID: 42,
		Data: persist.Data{
			persist.SceneNamespace: {"last_page": "main", "_image": "https://example.com/a.png"},
			"name":                 {"value": "Ada", "_content": "Enter your name"},
			"when":                 {"offset": float64(2), "confirmed": true},
		},
	}
}

// Run exercises the full Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("insert then load round trips", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		want := Sample(1001)
		require.NoError(t, store.Insert(ctx, want))
		got, err := store.Load(ctx, want.UserID)
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("insert twice reports existing state", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, store.Insert(ctx, Sample(1002)))
		err := store.Insert(ctx, Sample(1002))
		require.True(t, errors.Is(err, persist.ErrExists), "got %v", err)
	})

	t.Run("load missing returns not found", func(t *testing.T) {
		store := open(t, newStore)
		_, err := store.Load(context.Background(), 1003)
		require.True(t, errors.Is(err, persist.ErrNotFound), "got %v", err)
	})

	t.Run("update replaces and upserts", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		state := Sample(1004)
		require.NoError(t, store.Update(ctx, state))

		state.Page = "name"
		state.MessageID = 77
		state.Data["name"]["value"] = "Grace"
		require.NoError(t, store.Update(ctx, state))

		got, err := store.Load(ctx, state.UserID)
		require.NoError(t, err)
		require.Equal(t, "name", got.Page)
		require.Equal(t, 77, got.MessageID)
		require.Equal(t, "Grace", got.Data["name"]["value"])
	})

	t.Run("delete removes state", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, store.Insert(ctx, Sample(1005)))
		require.NoError(t, store.Delete(ctx, 1005))
		_, err := store.Load(ctx, 1005)
		require.True(t, errors.Is(err, persist.ErrNotFound))
		require.True(t, errors.Is(store.Delete(ctx, 1005), persist.ErrNotFound))
	})

	t.Run("list returns every state ordered by user", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		for _, id := range []int64{1008, 1006, 1007} {
			require.NoError(t, store.Insert(ctx, Sample(id)))
		}
		states, err := store.List(ctx)
		require.NoError(t, err)
		ids := make([]int64, 0, len(states))
		for _, s := range states {
			ids = append(ids, s.UserID)
		}
		require.Equal(t, []int64{1006, 1007, 1008}, ids)
	})

	t.Run("scene namespace is always present", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		state := Sample(1009)
		state.Data = nil
		require.NoError(t, store.Insert(ctx, state))
		got, err := store.Load(ctx, state.UserID)
		require.NoError(t, err)
		require.NotNil(t, got.Data[persist.SceneNamespace])
	})

	t.Run("invalid states are rejected", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		bad := Sample(1010)
		bad.Page = ""
		require.Error(t, store.Insert(ctx, bad))
		require.Error(t, store.Update(ctx, bad))
	})
}

func open(t *testing.T, newStore Factory) persist.Store {
	t.Helper()
	store := newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
