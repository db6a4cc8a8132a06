// Package dispatch turns inbound chat events into scene calls. Events for
// one user are handled strictly one at a time; entry-point commands create or
// replace scenes; internal failures end in a generic notice to the user.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/scene"
	"github.com/kingrea/scenekit/internal/transport"
)

// Entry-point commands and the deep-link payload prefix.
const (
	CommandStart   = "/start"
	CommandCancel  = "/cancel"
	DeepLinkPrefix = "scene_"
)

// FailureNotice is shown to the user when handling fails unexpectedly.
const FailureNotice = "Something went wrong. Please try again."

// Kind classifies inbound events.
type Kind string

const (
	KindText     Kind = "text"
	KindCallback Kind = "callback"
)

// Event is a transport-neutral inbound update. The user id doubles as the
// chat id.
type Event struct {
	ID         string `json:"event_id"`
	UserID     int64  `json:"user_id"`
	Kind       Kind   `json:"kind"`
	Text       string `json:"text,omitempty"`
	Data       string `json:"data,omitempty"`
	MessageID  int    `json:"message_id,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
}

// Validate checks required fields.
func (e Event) Validate() error {
	if e.UserID == 0 {
		return errors.New("dispatch: user_id is required")
	}
	switch e.Kind {
	case KindText:
		return nil
	case KindCallback:
		if e.Data == "" {
			return errors.New("dispatch: data is required for callback events")
		}
		return nil
	default:
		return fmt.Errorf("dispatch: unsupported kind %q", e.Kind)
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDefaultScene makes a bare /start open sceneType.
func WithDefaultScene(sceneType string) Option {
	return func(d *Dispatcher) {
		d.defaultScene = sceneType
	}
}

// Dispatcher routes events to scenes.
type Dispatcher struct {
	registry     *scene.Registry
	transport    transport.Transport
	logger       zerolog.Logger
	defaultScene string
	locks        *userLocks
}

// New returns a dispatcher over registry.
func New(registry *scene.Registry, tr transport.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		transport: tr,
		logger:    zerolog.Nop(),
		locks:     newUserLocks(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch handles one event. Malformed callback tokens are ignored. Other
// failures are logged, reported to the user with FailureNotice and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	release := d.locks.lock(ev.UserID)
	defer release()

	log := d.logger.With().Int64("user_id", ev.UserID).Str("event_id", ev.ID).Str("kind", string(ev.Kind)).Logger()
	var err error
	switch ev.Kind {
	case KindText:
		err = d.text(ctx, ev)
	case KindCallback:
		err = d.press(ctx, ev)
	}
	if err == nil {
		return nil
	}
	var protocolErr *callback.ProtocolError
	if errors.As(err, &protocolErr) {
		log.Debug().Err(err).Msg("dispatch: malformed callback ignored")
		return nil
	}
	log.Error().Err(err).Msg("dispatch: event failed")
	if _, sendErr := d.transport.Send(ctx, ev.UserID, transport.Message{Text: FailureNotice}); sendErr != nil {
		log.Error().Err(sendErr).Msg("dispatch: failure notice not delivered")
	}
	return err
}

// WithUser runs fn while holding the user's event lock.
func (d *Dispatcher) WithUser(userID int64, fn func()) {
	release := d.locks.lock(userID)
	defer release()
	fn()
}

// Refresh re-renders every scene matching sceneType and pageName, one user at
// a time under the user's lock.
func (d *Dispatcher) Refresh(ctx context.Context, sceneType, pageName string) error {
	var errs []error
	for _, s := range d.registry.GetForParams(sceneType, pageName) {
		d.WithUser(s.UserID(), func() {
			current, ok := d.registry.Get(s.UserID())
			if !ok || current != s || (pageName != "" && s.CurrentPage() != pageName) {
				return
			}
			if err := s.UpdateMessage(ctx); err != nil {
				errs = append(errs, fmt.Errorf("dispatch: refresh user %d: %w", s.UserID(), err))
			}
		})
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) text(ctx context.Context, ev Event) error {
	command, arg := splitCommand(ev.Text)
	switch command {
	case CommandStart:
		return d.start(ctx, ev.UserID, arg)
	case CommandCancel:
		if s, ok := d.registry.Get(ev.UserID); ok {
			return s.End(ctx)
		}
		return nil
	}
	s, ok := d.registry.Get(ev.UserID)
	if !ok {
		d.logger.Debug().Int64("user_id", ev.UserID).Msg("dispatch: text without active scene ignored")
		return nil
	}
	return s.HandleText(ctx, scene.TextEvent{Text: ev.Text, MessageID: ev.MessageID})
}

// start opens the requested scene, replacing any active one.
func (d *Dispatcher) start(ctx context.Context, userID int64, arg string) error {
	sceneType := strings.TrimPrefix(arg, DeepLinkPrefix)
	if sceneType == "" {
		sceneType = d.defaultScene
	}
	if sceneType == "" {
		return nil
	}
	_, err := d.registry.Create(ctx, userID, sceneType)
	var dup *scene.DuplicateSessionError
	if errors.As(err, &dup) {
		_, err = d.registry.Replace(ctx, userID, sceneType)
	}
	var unknown *scene.UnknownTypeError
	if errors.As(err, &unknown) {
		d.logger.Debug().Int64("user_id", userID).Str("scene", sceneType).Msg("dispatch: unknown scene requested")
		return nil
	}
	return err
}

func (d *Dispatcher) press(ctx context.Context, ev Event) error {
	tok, err := callback.Decode(ev.Data)
	if err != nil {
		d.answer(ctx, ev.CallbackID)
		return err
	}
	s, ok := d.registry.Get(ev.UserID)
	if !ok {
		d.answer(ctx, ev.CallbackID)
		return nil
	}
	return s.HandleCallback(ctx, scene.CallbackEvent{ID: ev.CallbackID, Token: tok, MessageID: ev.MessageID})
}

func (d *Dispatcher) answer(ctx context.Context, callbackID string) {
	if callbackID == "" {
		return
	}
	if err := d.transport.Answer(ctx, callbackID, ""); err != nil {
		d.logger.Warn().Err(err).Msg("dispatch: answer failed")
	}
}

// splitCommand returns the command and its argument when text is a slash
// command. Bot-name suffixes ("/start@bot") are dropped.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	command, arg, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	return command, strings.TrimSpace(arg)
}
