// Package telegram adapts the Telegram Bot API (via telego) to the scene
// transport contract and converts long-polling updates into dispatch events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kingrea/scenekit/internal/config"
	"github.com/kingrea/scenekit/internal/transport"
)

const notModifiedMarker = "message is not modified"

// API is the subset of *telego.Bot the adapter calls.
type API interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	EditMessageMedia(ctx context.Context, params *telego.EditMessageMediaParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Option customizes a Transport.
type Option func(*Transport)

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithLimiter replaces the outbound rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(t *Transport) {
		if l != nil {
			t.limiter = l
		}
	}
}

// Transport implements transport.Transport over the Bot API. Private chats
// are assumed, so chat ids equal user ids.
type Transport struct {
	api     API
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New wraps api. The default limiter allows 25 requests per second.
func New(api API, opts ...Option) *Transport {
	t := &Transport{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// NewBot creates a telego bot and a rate-limited transport for cfg.
func NewBot(cfg config.TelegramConfig, logger zerolog.Logger) (*telego.Bot, *Transport, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	return bot, New(bot, WithLogger(logger), WithLimiter(limiter)), nil
}

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, chatID int64, msg transport.Message) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("telegram: send: %w", err)
	}
	markup := inlineKeyboard(msg.Keyboard)
	var (
		sent *telego.Message
		err  error
	)
	if msg.Image != "" {
		params := tu.Photo(tu.ID(chatID), tu.FileFromURL(msg.Image)).
			WithCaption(msg.Text).
			WithParseMode(msg.ParseMode)
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		sent, err = t.api.SendPhoto(ctx, params)
	} else {
		params := tu.Message(tu.ID(chatID), msg.Text).WithParseMode(msg.ParseMode)
		if markup != nil {
			params = params.WithReplyMarkup(markup)
		}
		sent, err = t.api.SendMessage(ctx, params)
	}
	if err != nil {
		return 0, fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

// Edit implements transport.Transport. Photo messages are edited through
// editMessageMedia so image, caption and keyboard change in one call.
func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, msg transport.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: edit: %w", err)
	}
	markup := inlineKeyboard(msg.Keyboard)
	var err error
	if msg.Image != "" {
		media := tu.MediaPhoto(tu.FileFromURL(msg.Image)).
			WithCaption(msg.Text).
			WithParseMode(msg.ParseMode)
		_, err = t.api.EditMessageMedia(ctx, &telego.EditMessageMediaParams{
			ChatID:      tu.ID(chatID),
			MessageID:   messageID,
			Media:       media,
			ReplyMarkup: markup,
		})
	} else {
		_, err = t.api.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:      tu.ID(chatID),
			MessageID:   messageID,
			Text:        msg.Text,
			ParseMode:   msg.ParseMode,
			ReplyMarkup: markup,
		})
	}
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), notModifiedMarker) {
		return transport.ErrNotModified
	}
	return fmt.Errorf("telegram: edit %d in %d: %w", messageID, chatID, err)
}

// Delete implements transport.Transport.
func (t *Transport) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: delete: %w", err)
	}
	err := t.api.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(chatID), MessageID: messageID})
	if err != nil {
		return fmt.Errorf("telegram: delete %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

// Answer implements transport.Transport. Answers are not rate limited; the
// platform expects them promptly.
func (t *Transport) Answer(ctx context.Context, callbackID, text string) error {
	if callbackID == "" {
		return errors.New("telegram: callback id is required")
	}
	err := t.api.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: callbackID, Text: text})
	if err != nil {
		return fmt.Errorf("telegram: answer %s: %w", callbackID, err)
	}
	return nil
}

func inlineKeyboard(kb transport.Keyboard) *telego.InlineKeyboardMarkup {
	if kb.Empty() {
		return nil
	}
	rows := make([][]telego.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		if len(row) == 0 {
			continue
		}
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := tu.InlineKeyboardButton(b.Text)
			if b.URL != "" {
				btn = btn.WithURL(b.URL)
			} else {
				btn = btn.WithCallbackData(b.Data)
			}
			buttons = append(buttons, btn)
		}
		rows = append(rows, tu.InlineKeyboardRow(buttons...))
	}
	return tu.InlineKeyboard(rows...)
}
