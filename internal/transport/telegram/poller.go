package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/bridge"
	"github.com/kingrea/scenekit/internal/dispatch"
)

const retryDelay = 200 * time.Millisecond

// UpdateSource yields long-polling updates until ctx ends.
type UpdateSource interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// Poller reads updates and forwards them to a bridge processor, which
// deduplicates by update id and keeps per-user order.
type Poller struct {
	source    UpdateSource
	processor bridge.EventProcessor
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewPoller wires source to processor.
func NewPoller(source UpdateSource, processor bridge.EventProcessor, timeout time.Duration, logger zerolog.Logger) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{source: source, processor: processor, timeout: timeout, logger: logger}
}

// Run polls until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	updates, err := p.source.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        int(p.timeout / time.Second),
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return fmt.Errorf("telegram: start polling: %w", err)
	}
	p.logger.Info().Msg("telegram: polling started")
	for update := range updates {
		ev, ok := Convert(update)
		if !ok {
			continue
		}
		p.forward(ctx, ev)
	}
	return nil
}

func (p *Poller) forward(ctx context.Context, ev bridge.Event) {
	for {
		err := p.processor.HandleEvent(ev)
		switch {
		case err == nil, errors.Is(err, bridge.ErrDuplicate):
			return
		case errors.Is(err, bridge.ErrQueueFull):
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		default:
			p.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("telegram: update dropped")
			return
		}
	}
}

// Convert maps a private-chat message or callback query to a bridge event.
// Other update kinds report false.
func Convert(update telego.Update) (bridge.Event, bool) {
	ev := bridge.Event{Version: bridge.EventSchemaVersion}
	ev.ID = "tg:" + strconv.Itoa(update.UpdateID)
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat.Type != telego.ChatTypePrivate {
			return bridge.Event{}, false
		}
		ev.UserID = msg.From.ID
		ev.Kind = dispatch.KindText
		ev.Text = msg.Text
		ev.MessageID = msg.MessageID
		ev.ClientTime = time.Unix(msg.Date, 0).UTC()
	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		ev.UserID = q.From.ID
		ev.Kind = dispatch.KindCallback
		ev.Data = q.Data
		ev.CallbackID = q.ID
		if q.Message != nil {
			ev.MessageID = q.Message.GetMessageID()
		}
	default:
		return bridge.Event{}, false
	}
	if ev.Validate() != nil {
		return bridge.Event{}, false
	}
	return ev, true
}
