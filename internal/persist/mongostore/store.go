// Package mongostore persists session states in a MongoDB collection, one
// document per user. The nested data store is kept as its JSON encoding so
// values round-trip with the same types as every other backend.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/kingrea/scenekit/internal/persist"
)

const (
	defaultCollection = "scene_sessions"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements persist.Store on MongoDB.
type Store struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

type document struct {
	UserID    int64     `bson:"user_id"`
	SceneType string    `bson:"scene"`
	Page      string    `bson:"page"`
	MessageID int       `bson:"message_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// New returns a store over an existing client and ensures the unique index.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{
		client:  opts.Client,
		coll:    opts.Client.Database(opts.Database).Collection(collection),
		timeout: timeout,
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("mongostore: ensure index: %w", err)
	}
	return s, nil
}

// Dial connects to uri and returns a store configured by opts. opts.Client
// is ignored.
func Dial(ctx context.Context, uri string, opts Options) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	opts.Client = client
	store, err := New(ctx, opts)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func toDocument(state persist.SessionState) (document, error) {
	raw, err := json.Marshal(state.Data.Normalized())
	if err != nil {
		return document{}, fmt.Errorf("mongostore: encode data: %w", err)
	}
	return document{
		UserID:    state.UserID,
		SceneType: state.SceneType,
		Page:      state.Page,
		MessageID: state.MessageID,
		Data:      string(raw),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (d document) toState() (persist.SessionState, error) {
	state := persist.SessionState{
		UserID:    d.UserID,
		SceneType: d.SceneType,
		Page:      d.Page,
		MessageID: d.MessageID,
	}
	if d.Data != "" {
		if err := json.Unmarshal([]byte(d.Data), &state.Data); err != nil {
			return persist.SessionState{}, fmt.Errorf("mongostore: decode data for %d: %w", d.UserID, err)
		}
	}
	state.Data = state.Data.Normalized()
	return state, nil
}

// Insert implements persist.Store.
func (s *Store) Insert(ctx context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	doc, err := toDocument(state)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return persist.ErrExists
		}
		return fmt.Errorf("mongostore: insert %d: %w", state.UserID, err)
	}
	return nil
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, userID int64) (persist.SessionState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return persist.SessionState{}, persist.ErrNotFound
		}
		return persist.SessionState{}, fmt.Errorf("mongostore: load %d: %w", userID, err)
	}
	return doc.toState()
}

// Update implements persist.Store. Missing states are created.
func (s *Store) Update(ctx context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	doc, err := toDocument(state)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.coll.ReplaceOne(ctx, bson.M{"user_id": state.UserID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: update %d: %w", state.UserID, err)
	}
	return nil
}

// Delete implements persist.Store.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("mongostore: delete %d: %w", userID, err)
	}
	if res.DeletedCount == 0 {
		return persist.ErrNotFound
	}
	return nil
}

// List implements persist.Store.
func (s *Store) List(ctx context.Context) ([]persist.SessionState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: list: %w", err)
	}
	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: list decode: %w", err)
	}
	out := make([]persist.SessionState, 0, len(docs))
	for _, doc := range docs {
		state, err := doc.toState()
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
