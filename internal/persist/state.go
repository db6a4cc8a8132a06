// Package persist defines the durability contract of scene sessions: the
// serialized SessionState, the Store operations a host injects, and an
// asynchronous Writer that keeps persistence off the event path.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store.Load when no state exists for a user.
var ErrNotFound = errors.New("persist: session state not found")

// ErrExists is returned by Store.Insert when a state already exists for a user.
var ErrExists = errors.New("persist: session state already exists")

// SceneNamespace is the reserved data namespace shared by all pages.
const SceneNamespace = "scene"

// Data is the two-level nested store: namespace -> key -> value.
type Data map[string]map[string]any

// SessionState is the unit of durability for one user's active scene.
type SessionState struct {
	UserID    int64 `json:"user_id" bson:"user_id"`
	SceneType string `json:"scene" bson:"scene"`
	Page      string `json:"page" bson:"page"`
	MessageID int    `json:"message_id" bson:"message_id"`
	Data      Data   `json:"data" bson:"data"`
}

// Validate checks the structural invariants that hold for every stored state.
func (s SessionState) Validate() error {
	if s.UserID == 0 {
		return errors.New("persist: user id is required")
	}
	if s.SceneType == "" {
		return fmt.Errorf("persist: user %d: scene type is required", s.UserID)
	}
	if s.Page == "" {
		return fmt.Errorf("persist: user %d: page is required", s.UserID)
	}
	if s.MessageID < 0 {
		return fmt.Errorf("persist: user %d: negative message id", s.UserID)
	}
	return nil
}

// Marshal encodes the state as JSON, the wire format shared by every backend.
func (s SessionState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a JSON state and guarantees the scene namespace exists.
func Unmarshal(raw []byte) (SessionState, error) {
	var s SessionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return SessionState{}, fmt.Errorf("persist: decode state: %w", err)
	}
	s.Data = s.Data.Normalized()
	return s, nil
}

// Normalized returns d with the scene namespace present.
func (d Data) Normalized() Data {
	if d == nil {
		d = Data{}
	}
	if d[SceneNamespace] == nil {
		d[SceneNamespace] = map[string]any{}
	}
	return d
}

// Clone deep-copies the nested store so it can leave the owning goroutine.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for ns, values := range d {
		inner := make(map[string]any, len(values))
		for key, value := range values {
			inner[key] = cloneValue(value)
		}
		out[ns] = inner
	}
	return out
}

// Clone deep-copies the state.
func (s SessionState) Clone() SessionState {
	s.Data = s.Data.Clone()
	return s
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string{}, typed...)
	case []int:
		return append([]int{}, typed...)
	default:
		return v
	}
}

// Store is the persistence collaborator injected by the host application.
// Every operation is keyed by user id.
type Store interface {
	Insert(ctx context.Context, state SessionState) error
	Load(ctx context.Context, userID int64) (SessionState, error)
	Update(ctx context.Context, state SessionState) error
	Delete(ctx context.Context, userID int64) error
	// List returns every stored state; used to rehydrate sessions at boot.
	List(ctx context.Context) ([]SessionState, error)
	Close() error
}
