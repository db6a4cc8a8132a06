package mongostore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/persist/persisttest"
)

// Set SCENEKIT_TEST_MONGO to a mongodb:// URI to run against a live server.
func TestStoreContract(t *testing.T) {
	uri := os.Getenv("SCENEKIT_TEST_MONGO")
	if uri == "" {
		t.Skip("SCENEKIT_TEST_MONGO not set")
	}
	persisttest.Run(t, func(t *testing.T) persist.Store {
		db := "scenekit_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		store, err := Dial(context.Background(), uri, Options{Database: db})
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx := context.Background()
			janitor, err := mongo.Connect(options.Client().ApplyURI(uri))
			if err != nil {
				return
			}
			defer janitor.Disconnect(ctx)
			_ = janitor.Database(db).Drop(ctx)
		})
		return store
	})
}

func TestDocumentRoundTrip(t *testing.T) {
	want := persisttest.Sample(5)
	doc, err := toDocument(want)
	require.NoError(t, err)
	require.Equal(t, int64(5), doc.UserID)
	require.Contains(t, doc.Data, `"last_page":"main"`)

	got, err := doc.toState()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.ErrorContains(t, err, "client is required")
}
