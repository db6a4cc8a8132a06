// Package page is the controller layer of a scene: a Page is bound to one
// page definition and one session, dispatches typed user input through its
// Router, and produces the content and keyboard the session renders.
package page

import (
	"context"
	"time"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// Session is the scene runtime as seen from a page. Namespaced keys address
// the nested data store; scenedef.SceneNamespace is shared by all pages.
type Session interface {
	UserID() int64
	SceneType() string
	Settings() scenedef.Settings
	Now() time.Time

	GetKey(namespace, key string) (any, bool)
	UpdateKey(namespace, key string, value any)
	DeleteKey(namespace, key string)
	// Values returns a copy of one namespace.
	Values(namespace string) map[string]any

	UpdatePage(ctx context.Context, name string) error
	UpdateMessage(ctx context.Context) error
	// Notify shows a short notice. During a button press it answers the press.
	Notify(ctx context.Context, text string) error
	// Token encodes a callback token owned by the session's scene type.
	Token(kind string, args ...string) (string, error)
}

// Page is one node of a running scene.
type Page interface {
	Name() string
	Definition() scenedef.Page
	Session() Session
	Content(ctx context.Context) (string, error)
	Buttons(ctx context.Context) (transport.Keyboard, error)
	Image() string
	// Navigation reports whether transition buttons are appended.
	Navigation() bool
	HandleText(ctx context.Context, text string) (bool, error)
	HandleCallback(ctx context.Context, tok callback.Token) (bool, error)
}

// Enterer is implemented by pages that reset working state when entered.
type Enterer interface {
	OnEnter(ctx context.Context) error
}

// Factory builds a page for a definition and session.
type Factory func(def scenedef.Page, s Session) (Page, error)

// Base implements Page for a definition with no handlers. Variants embed it,
// register handlers on Router and override Content or Buttons.
type Base struct {
	def     scenedef.Page
	session Session
	router  *Router

	// NoNavigation suppresses the transition buttons.
	NoNavigation bool
}

// NewBase binds def to s.
func NewBase(def scenedef.Page, s Session) *Base {
	return &Base{def: def, session: s, router: NewRouter(def.Name)}
}

// NewStatic is the Factory for pages that only show content and navigation.
func NewStatic(def scenedef.Page, s Session) (Page, error) {
	return NewBase(def, s), nil
}

func (b *Base) Name() string              { return b.def.Name }
func (b *Base) Definition() scenedef.Page { return b.def }
func (b *Base) Session() Session          { return b.session }
func (b *Base) Router() *Router           { return b.router }
func (b *Base) Image() string             { return b.def.Image }
func (b *Base) Navigation() bool          { return !b.NoNavigation }

// Content renders the definition template.
func (b *Base) Content(context.Context) (string, error) {
	return b.Template(b.def.Content), nil
}

// Buttons returns no page buttons.
func (b *Base) Buttons(context.Context) (transport.Keyboard, error) {
	return nil, nil
}

// HandleText implements Page.
func (b *Base) HandleText(ctx context.Context, text string) (bool, error) {
	return b.router.DispatchText(ctx, text, b.session.Now())
}

// HandleCallback implements Page.
func (b *Base) HandleCallback(ctx context.Context, tok callback.Token) (bool, error) {
	return b.router.DispatchCallback(ctx, tok)
}

// Template substitutes {key} placeholders with scene values overlaid by this
// page's values, escaped for the scene's parse mode.
func (b *Base) Template(tmpl string) string {
	values := b.session.Values(scenedef.SceneNamespace)
	for k, v := range b.session.Values(b.def.Name) {
		values[k] = v
	}
	return Substitute(tmpl, values, b.session.Settings().ParseMode)
}

// Get reads a page-local value.
func (b *Base) Get(key string) (any, bool) {
	return b.session.GetKey(b.def.Name, key)
}

// Set writes a page-local value.
func (b *Base) Set(key string, value any) {
	b.session.UpdateKey(b.def.Name, key, value)
}

// Unset removes a page-local value.
func (b *Base) Unset(key string) {
	b.session.DeleteKey(b.def.Name, key)
}

// SetShared writes a value into the scene namespace.
func (b *Base) SetShared(key string, value any) {
	b.session.UpdateKey(scenedef.SceneNamespace, key, value)
}

// Button builds a page-routed button whose first argument is kind.
func (b *Base) Button(text, kind string, args ...string) (transport.Button, error) {
	data, err := b.session.Token(callback.KindPage, append([]string{kind}, args...)...)
	if err != nil {
		return transport.Button{}, err
	}
	return transport.Button{Text: text, Data: data}, nil
}

// Transition moves the session to next, or re-renders when next is empty.
func (b *Base) Transition(ctx context.Context, next string) error {
	if next == "" {
		return b.session.UpdateMessage(ctx)
	}
	return b.session.UpdatePage(ctx, next)
}
