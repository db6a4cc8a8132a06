// Package redisstore persists session states in Redis. Each state is a JSON
// string under <prefix>:session:<user id>; a set at <prefix>:sessions indexes
// the live user ids for boot-time rehydration.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kingrea/scenekit/internal/persist"
)

const defaultPrefix = "scenekit"

// Options configures the Redis store.
type Options struct {
	Client redis.UniversalClient
	// Prefix namespaces every key; defaults to "scenekit".
	Prefix string
	// TTL expires idle sessions; zero keeps them until deleted.
	TTL time.Duration
}

// Store implements persist.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New validates options and returns a store. It does not ping the server.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: opts.Client, prefix: prefix, ttl: opts.TTL}, nil
}

// Dial parses a redis:// URL, connects and pings. opts.Client is ignored.
func Dial(ctx context.Context, url string, opts Options) (*Store, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}
	opts.Client = client
	return New(opts)
}

func (s *Store) key(userID int64) string {
	return fmt.Sprintf("%s:session:%d", s.prefix, userID)
}

func (s *Store) indexKey() string {
	return s.prefix + ":sessions"
}

// Insert implements persist.Store.
func (s *Store) Insert(ctx context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	payload, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("redisstore: encode: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(state.UserID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redisstore: insert %d: %w", state.UserID, err)
	}
	if !created {
		return persist.ErrExists
	}
	if err := s.client.SAdd(ctx, s.indexKey(), state.UserID).Err(); err != nil {
		return fmt.Errorf("redisstore: index %d: %w", state.UserID, err)
	}
	return nil
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, userID int64) (persist.SessionState, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return persist.SessionState{}, persist.ErrNotFound
		}
		return persist.SessionState{}, fmt.Errorf("redisstore: load %d: %w", userID, err)
	}
	return persist.Unmarshal(raw)
}

// Update implements persist.Store. Missing states are created.
func (s *Store) Update(ctx context.Context, state persist.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	payload, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("redisstore: encode: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(state.UserID), payload, s.ttl)
		pipe.SAdd(ctx, s.indexKey(), state.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: update %d: %w", state.UserID, err)
	}
	return nil
}

// Delete implements persist.Store.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(userID))
		pipe.SRem(ctx, s.indexKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: delete %d: %w", userID, err)
	}
	if del.Val() == 0 {
		return persist.ErrNotFound
	}
	return nil
}

// List implements persist.Store. Index entries whose state expired are pruned.
func (s *Store) List(ctx context.Context) ([]persist.SessionState, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list index: %w", err)
	}
	out := make([]persist.SessionState, 0, len(members))
	for _, member := range members {
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		state, err := s.Load(ctx, userID)
		if errors.Is(err, persist.ErrNotFound) {
			s.client.SRem(ctx, s.indexKey(), member)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
