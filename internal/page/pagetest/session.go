// Package pagetest provides an in-memory page.Session for page unit tests.
package pagetest

import (
	"context"
	"time"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/scenedef"
)

// Session records what pages ask of the runtime.
type Session struct {
	User    int64
	Type    string
	Config  scenedef.Settings
	Clock   time.Time
	Data    persist.Data
	Current string
	Visited []string
	Renders int
	Notices []string
}

var _ page.Session = (*Session)(nil)

// New returns a session of scene type sceneType positioned on pageName.
func New(sceneType, pageName string) *Session {
	return &Session{
		User:    1,
		Type:    sceneType,
		Clock:   time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
		Data:    persist.Data{}.Normalized(),
		Current: pageName,
	}
}

func (s *Session) UserID() int64               { return s.User }
func (s *Session) SceneType() string           { return s.Type }
func (s *Session) Settings() scenedef.Settings { return s.Config }
func (s *Session) Now() time.Time              { return s.Clock }

func (s *Session) GetKey(namespace, key string) (any, bool) {
	v, ok := s.Data[namespace][key]
	return v, ok
}

func (s *Session) UpdateKey(namespace, key string, value any) {
	if s.Data[namespace] == nil {
		s.Data[namespace] = map[string]any{}
	}
	s.Data[namespace][key] = value
}

func (s *Session) DeleteKey(namespace, key string) {
	delete(s.Data[namespace], key)
}

func (s *Session) Values(namespace string) map[string]any {
	out := map[string]any{}
	for k, v := range s.Data[namespace] {
		out[k] = v
	}
	return out
}

func (s *Session) UpdatePage(_ context.Context, name string) error {
	s.UpdateKey(scenedef.SceneNamespace, "last_page", s.Current)
	s.Current = name
	s.Visited = append(s.Visited, name)
	return nil
}

func (s *Session) UpdateMessage(context.Context) error {
	s.Renders++
	return nil
}

func (s *Session) Notify(_ context.Context, text string) error {
	s.Notices = append(s.Notices, text)
	return nil
}

func (s *Session) Token(kind string, args ...string) (string, error) {
	return callback.Encode(s.Type, kind, args...)
}

// Press decodes data and feeds it to p.
func Press(ctx context.Context, p page.Page, data string) (bool, error) {
	tok, err := callback.Decode(data)
	if err != nil {
		return false, err
	}
	return p.HandleCallback(ctx, tok)
}
