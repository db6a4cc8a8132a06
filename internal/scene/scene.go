// Package scene runs per-user dialog sessions. A Scene is bound to one scene
// definition, tracks the current page and the message it renders into, keeps
// the nested data store, and schedules persistence after every mutation. The
// Registry owns the live scenes of the process.
package scene

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// Reserved keys. Page-local render snapshots live in the page namespace; the
// shown image and the previous page live in the scene namespace.
const (
	KeyLastPage = "last_page"
	keyImage    = "_image"
	keyContent  = "_content"
	keyKeyboard = "_keyboard"
)

// TextEvent is a text message from the user.
type TextEvent struct {
	Text      string
	MessageID int
}

// CallbackEvent is a button press.
type CallbackEvent struct {
	ID        string
	Token     callback.Token
	MessageID int
}

// Scene is one user's running dialog. Events for a scene must be delivered
// one at a time; the state lock only protects snapshots taken by background
// jobs.
type Scene struct {
	id        string
	registry  *Registry
	blueprint Blueprint
	logger    zerolog.Logger

	// def and pages follow the registry's definition store; both are
	// refreshed when its generation moves.
	defMu  sync.Mutex
	def    scenedef.Scene
	defGen uint64
	pages  map[string]page.Page

	mu    sync.Mutex
	state persist.SessionState

	callbackID string
	answered   bool
}

var _ page.Session = (*Scene)(nil)

// ID returns the process-unique instance id.
func (s *Scene) ID() string { return s.id }

// UserID implements page.Session. The user id doubles as the chat id.
func (s *Scene) UserID() int64 { return s.state.UserID }

// SceneType implements page.Session.
func (s *Scene) SceneType() string { return s.blueprint.Type }

// Settings implements page.Session.
func (s *Scene) Settings() scenedef.Settings { return s.Definition().Settings }

// Definition returns the current definition of the scene. After the store is
// reloaded it is fetched again and the page controllers are rebuilt on next
// use. A definition that vanished from the store keeps serving the old copy.
func (s *Scene) Definition() scenedef.Scene {
	defs := s.registry.defs
	gen := defs.Generation()
	s.defMu.Lock()
	defer s.defMu.Unlock()
	if gen == s.defGen {
		return s.def
	}
	if def, ok := defs.Get(s.blueprint.definitionName()); ok {
		s.def = def
		s.pages = map[string]page.Page{}
	} else {
		s.logger.Warn().Msg("scene: definition missing after reload, keeping previous")
	}
	s.defGen = gen
	return s.def
}

// Now implements page.Session.
func (s *Scene) Now() time.Time { return s.registry.now() }

// CurrentPage returns the current page name.
func (s *Scene) CurrentPage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Page
}

// MessageID returns the id of the rendered message, 0 before the first render.
func (s *Scene) MessageID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.MessageID
}

// Snapshot returns a deep copy of the session state.
func (s *Scene) Snapshot() persist.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Data returns a deep copy of the nested store.
func (s *Scene) Data() persist.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Data.Clone()
}

// GetKey implements page.Session.
func (s *Scene) GetKey(namespace, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.Data[namespace][key]
	return v, ok
}

// Values implements page.Session.
func (s *Scene) Values(namespace string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.state.Data[namespace]))
	for k, v := range s.state.Data[namespace] {
		out[k] = v
	}
	return out
}

// UpdateKey implements page.Session and schedules persistence.
func (s *Scene) UpdateKey(namespace, key string, value any) {
	s.set(namespace, key, value)
	s.persist()
}

// DeleteKey implements page.Session and schedules persistence.
func (s *Scene) DeleteKey(namespace, key string) {
	s.unset(namespace, key)
	s.persist()
}

// SetData replaces a whole namespace and schedules persistence.
func (s *Scene) SetData(namespace string, values map[string]any) {
	s.mu.Lock()
	inner := make(map[string]any, len(values))
	for k, v := range values {
		inner[k] = v
	}
	s.state.Data[namespace] = inner
	s.mu.Unlock()
	s.persist()
}

func (s *Scene) set(namespace, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Data[namespace] == nil {
		s.state.Data[namespace] = map[string]any{}
	}
	s.state.Data[namespace][key] = value
}

func (s *Scene) unset(namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Data[namespace], key)
}

func (s *Scene) persist() {
	s.registry.writer.Update(s.Snapshot())
}

// Token implements page.Session.
func (s *Scene) Token(kind string, args ...string) (string, error) {
	return callback.Encode(s.SceneType(), kind, args...)
}

// Page returns the controller for name, building it on first use.
func (s *Scene) Page(name string) (page.Page, error) {
	sceneDef := s.Definition()
	s.defMu.Lock()
	p, ok := s.pages[name]
	s.defMu.Unlock()
	if ok {
		return p, nil
	}
	def, ok := sceneDef.Page(name)
	if !ok {
		return nil, &InvalidPageError{SceneType: s.SceneType(), Page: name}
	}
	p, err := s.blueprint.factory(name)(def, s)
	if err != nil {
		return nil, fmt.Errorf("scene: %s: build page %s: %w", s.SceneType(), name, err)
	}
	s.defMu.Lock()
	s.pages[name] = p
	s.defMu.Unlock()
	return p, nil
}

// Start persists the new session, enters the entry page and sends it.
func (s *Scene) Start(ctx context.Context) error {
	s.registry.writer.Insert(s.Snapshot())
	p, err := s.Page(s.CurrentPage())
	if err != nil {
		return err
	}
	s.enter(ctx, p)
	return s.UpdateMessage(ctx)
}

// UpdatePage switches to name, runs its enter hooks and re-renders.
func (s *Scene) UpdatePage(ctx context.Context, name string) error {
	if !s.Definition().HasPage(name) {
		return &InvalidPageError{SceneType: s.SceneType(), Page: name}
	}
	p, err := s.Page(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Data[scenedef.SceneNamespace][KeyLastPage] = s.state.Page
	s.state.Page = name
	delete(s.state.Data[name], keyContent)
	delete(s.state.Data[name], keyKeyboard)
	s.mu.Unlock()

	s.logger.Debug().Str("page", name).Msg("scene: page changed")
	s.enter(ctx, p)
	s.persist()
	return s.UpdateMessage(ctx)
}

// enter runs the controller's OnEnter and the definition's hooks. Hook
// failures are logged; they never block navigation.
func (s *Scene) enter(ctx context.Context, p page.Page) {
	if e, ok := p.(page.Enterer); ok {
		if err := e.OnEnter(ctx); err != nil {
			s.logger.Error().Err(err).Str("page", p.Name()).Msg("scene: page enter failed")
		}
	}
	for _, key := range p.Definition().Hooks {
		hook, err := s.registry.hooks.Resolve(key)
		if err != nil {
			s.logger.Error().Err(err).Str("page", p.Name()).Msg("scene: hook lookup failed")
			continue
		}
		if err := hook(ctx, s); err != nil {
			s.logger.Error().Err(err).Str("page", p.Name()).Str("hook", key).Msg("scene: hook failed")
		}
	}
}

// UpdateMessage renders the current page and brings the user's message in
// line with it: send when nothing was sent yet, delete and resend when an
// image must give way to text, edit when content, keyboard or image changed,
// and do nothing otherwise. A failed edit falls back to delete and resend.
func (s *Scene) UpdateMessage(ctx context.Context) error {
	p, err := s.Page(s.CurrentPage())
	if err != nil {
		return err
	}
	msg, err := page.Render(ctx, p)
	if err != nil {
		return err
	}
	fingerprint, err := keyboardFingerprint(msg.Keyboard)
	if err != nil {
		return err
	}

	s.mu.Lock()
	name := s.state.Page
	messageID := s.state.MessageID
	shownImage := page.AsString(s.state.Data[scenedef.SceneNamespace][keyImage])
	lastContent, hasContent := s.state.Data[name][keyContent]
	lastKeyboard, hasKeyboard := s.state.Data[name][keyKeyboard]
	s.mu.Unlock()

	tr := s.registry.transport
	userID := s.UserID()
	switch {
	case messageID == 0:
		messageID, err = tr.Send(ctx, userID, msg)
	case shownImage != "" && msg.Image == "":
		s.deleteMessage(ctx, messageID)
		messageID, err = tr.Send(ctx, userID, msg)
	case !hasContent || !hasKeyboard ||
		page.AsString(lastContent) != msg.Text ||
		page.AsString(lastKeyboard) != fingerprint ||
		(msg.Image != "" && msg.Image != shownImage):
		if editErr := tr.Edit(ctx, userID, messageID, msg); editErr != nil && !errors.Is(editErr, transport.ErrNotModified) {
			s.logger.Warn().Err(editErr).Int("message_id", messageID).Msg("scene: edit failed, resending")
			s.deleteMessage(ctx, messageID)
			messageID, err = tr.Send(ctx, userID, msg)
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("scene: %s: send page %s: %w", s.SceneType(), name, err)
	}

	s.mu.Lock()
	s.state.MessageID = messageID
	if s.state.Data[name] == nil {
		s.state.Data[name] = map[string]any{}
	}
	s.state.Data[name][keyContent] = msg.Text
	s.state.Data[name][keyKeyboard] = fingerprint
	if msg.Image != "" {
		s.state.Data[scenedef.SceneNamespace][keyImage] = msg.Image
	} else {
		delete(s.state.Data[scenedef.SceneNamespace], keyImage)
	}
	s.mu.Unlock()
	s.persist()
	return nil
}

func (s *Scene) deleteMessage(ctx context.Context, messageID int) {
	if err := s.registry.transport.Delete(ctx, s.UserID(), messageID); err != nil {
		s.logger.Warn().Err(err).Int("message_id", messageID).Msg("scene: delete failed")
	}
}

func keyboardFingerprint(kb transport.Keyboard) (string, error) {
	raw, err := json.Marshal(kb)
	if err != nil {
		return "", fmt.Errorf("scene: fingerprint keyboard: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// HandleText delegates text to the current page.
func (s *Scene) HandleText(ctx context.Context, ev TextEvent) error {
	p, err := s.Page(s.CurrentPage())
	if err != nil {
		return err
	}
	_, err = p.HandleText(ctx, ev.Text)
	if s.Settings().DeleteAfterSend && ev.MessageID != 0 {
		s.deleteMessage(ctx, ev.MessageID)
	}
	return err
}

// HandleCallback routes a button press. Navigation tokens switch pages when
// the current page offers that transition; page tokens go to the current
// page. Presses on stale messages, tokens of another scene type and
// navigation the page does not offer are acknowledged and ignored. The press
// is always answered, with the first Notify text if any.
func (s *Scene) HandleCallback(ctx context.Context, ev CallbackEvent) error {
	s.callbackID, s.answered = ev.ID, false
	defer func() {
		if ev.ID != "" && !s.answered {
			if answerErr := s.registry.transport.Answer(ctx, ev.ID, ""); answerErr != nil {
				s.logger.Warn().Err(answerErr).Msg("scene: answer failed")
			}
		}
		s.callbackID, s.answered = "", false
	}()

	if ev.Token.SceneType != s.SceneType() {
		s.logger.Debug().Str("token_scene", ev.Token.SceneType).Msg("scene: press for another scene ignored")
		return nil
	}
	if ev.MessageID != 0 && ev.MessageID != s.MessageID() {
		s.logger.Debug().Int("message_id", ev.MessageID).Msg("scene: press on stale message ignored")
		return nil
	}
	switch ev.Token.Kind {
	case callback.KindToPage:
		target := ev.Token.Arg(0)
		current, err := s.Page(s.CurrentPage())
		if err != nil {
			return err
		}
		if _, offered := current.Definition().Label(target); !offered || !current.Navigation() {
			s.logger.Debug().Str("page", current.Name()).Str("target", target).Msg("scene: navigation not offered by current page ignored")
			return nil
		}
		return s.UpdatePage(ctx, target)
	case callback.KindPage:
		p, err := s.Page(s.CurrentPage())
		if err != nil {
			return err
		}
		_, err = p.HandleCallback(ctx, ev.Token)
		return err
	default:
		return &callback.ProtocolError{Token: ev.Token.Kind, Reason: "unknown kind"}
	}
}

// Notify implements page.Session. During a button press the first notice
// answers the press; otherwise it is sent as a separate message.
func (s *Scene) Notify(ctx context.Context, text string) error {
	if s.callbackID != "" && !s.answered {
		s.answered = true
		return s.registry.transport.Answer(ctx, s.callbackID, text)
	}
	_, err := s.registry.transport.Send(ctx, s.UserID(), transport.Message{Text: text, ParseMode: s.Settings().ParseMode})
	return err
}

// End deletes the rendered message, unregisters the scene and deletes its
// persisted state.
func (s *Scene) End(ctx context.Context) error {
	if id := s.MessageID(); id != 0 {
		s.deleteMessage(ctx, id)
	}
	s.registry.detach(s)
	s.registry.writer.Delete(s.UserID())
	s.logger.Debug().Msg("scene: ended")
	return nil
}
