package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kingrea/scenekit/internal/bridge"
	"github.com/kingrea/scenekit/internal/dispatch"
	"github.com/kingrea/scenekit/internal/transport"
)

type fakeAPI struct {
	nextID   int
	messages []*telego.SendMessageParams
	photos   []*telego.SendPhotoParams
	texts    []*telego.EditMessageTextParams
	media    []*telego.EditMessageMediaParams
	deletes  []*telego.DeleteMessageParams
	answers  []*telego.AnswerCallbackQueryParams
	editErr  error
}

func (f *fakeAPI) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.nextID++
	f.messages = append(f.messages, p)
	return &telego.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) SendPhoto(_ context.Context, p *telego.SendPhotoParams) (*telego.Message, error) {
	f.nextID++
	f.photos = append(f.photos, p)
	return &telego.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) EditMessageText(_ context.Context, p *telego.EditMessageTextParams) (*telego.Message, error) {
	f.texts = append(f.texts, p)
	return &telego.Message{}, f.editErr
}

func (f *fakeAPI) EditMessageMedia(_ context.Context, p *telego.EditMessageMediaParams) (*telego.Message, error) {
	f.media = append(f.media, p)
	return &telego.Message{}, f.editErr
}

func (f *fakeAPI) DeleteMessage(_ context.Context, p *telego.DeleteMessageParams) error {
	f.deletes = append(f.deletes, p)
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, p *telego.AnswerCallbackQueryParams) error {
	f.answers = append(f.answers, p)
	return nil
}

func newTestTransport(api API) *Transport {
	return New(api, WithLimiter(rate.NewLimiter(rate.Inf, 1)))
}

func TestSendBuildsInlineKeyboard(t *testing.T) {
	api := &fakeAPI{}
	tr := newTestTransport(api)
	kb := transport.Keyboard{
		{{Text: "A", Data: "sc:p:demo:pick:0"}, {Text: "Docs", URL: "https://example.com"}},
		{},
		{{Text: "Back", Data: "sc:to:demo:main"}},
	}
	id, err := tr.Send(context.Background(), 7, transport.Message{Text: "<b>hi</b>", ParseMode: telego.ModeHTML, Keyboard: kb})
	require.NoError(t, err)
	require.Equal(t, 1, id)

	require.Len(t, api.messages, 1)
	sent := api.messages[0]
	require.Equal(t, tu.ID(7), sent.ChatID)
	require.Equal(t, telego.ModeHTML, sent.ParseMode)
	markup, ok := sent.ReplyMarkup.(*telego.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	require.Equal(t, "sc:p:demo:pick:0", markup.InlineKeyboard[0][0].CallbackData)
	require.Equal(t, "https://example.com", markup.InlineKeyboard[0][1].URL)
	require.Equal(t, "sc:to:demo:main", markup.InlineKeyboard[1][0].CallbackData)
}

func TestSendPhotoUsesCaption(t *testing.T) {
	api := &fakeAPI{}
	tr := newTestTransport(api)
	_, err := tr.Send(context.Background(), 7, transport.Message{Text: "caption", Image: "https://example.com/a.png"})
	require.NoError(t, err)
	require.Empty(t, api.messages)
	require.Len(t, api.photos, 1)
	require.Equal(t, "caption", api.photos[0].Caption)
	require.Equal(t, "https://example.com/a.png", api.photos[0].Photo.URL)
	require.Nil(t, api.photos[0].ReplyMarkup)
}

func TestEditChoosesTextOrMedia(t *testing.T) {
	api := &fakeAPI{}
	tr := newTestTransport(api)
	ctx := context.Background()

	require.NoError(t, tr.Edit(ctx, 7, 3, transport.Message{Text: "plain"}))
	require.Len(t, api.texts, 1)
	require.Equal(t, 3, api.texts[0].MessageID)
	require.Nil(t, api.texts[0].ReplyMarkup)

	require.NoError(t, tr.Edit(ctx, 7, 3, transport.Message{Text: "pic", Image: "https://example.com/b.png"}))
	require.Len(t, api.media, 1)
	photo, ok := api.media[0].Media.(*telego.InputMediaPhoto)
	require.True(t, ok)
	require.Equal(t, "pic", photo.Caption)
}

func TestEditMapsNotModified(t *testing.T) {
	api := &fakeAPI{editErr: errors.New("telego: editMessageText: api: 400 \"Bad Request: message is not modified: specified new message content and reply markup are exactly the same\"")}
	tr := newTestTransport(api)
	err := tr.Edit(context.Background(), 7, 3, transport.Message{Text: "same"})
	require.ErrorIs(t, err, transport.ErrNotModified)

	api.editErr = errors.New("Bad Request: message to edit not found")
	err = tr.Edit(context.Background(), 7, 3, transport.Message{Text: "gone"})
	require.Error(t, err)
	require.NotErrorIs(t, err, transport.ErrNotModified)
}

func TestDeleteAndAnswer(t *testing.T) {
	api := &fakeAPI{}
	tr := newTestTransport(api)
	ctx := context.Background()
	require.NoError(t, tr.Delete(ctx, 7, 9))
	require.Equal(t, 9, api.deletes[0].MessageID)
	require.NoError(t, tr.Answer(ctx, "cb-1", "Saved"))
	require.Equal(t, "cb-1", api.answers[0].CallbackQueryID)
	require.Equal(t, "Saved", api.answers[0].Text)
	require.Error(t, tr.Answer(ctx, "", "x"))
}

func TestConvertUpdates(t *testing.T) {
	ev, ok := Convert(telego.Update{UpdateID: 10, Message: &telego.Message{
		MessageID: 5,
		From:      &telego.User{ID: 42},
		Chat:      telego.Chat{ID: 42, Type: telego.ChatTypePrivate},
		Text:      "/start booking",
		Date:      1730000000,
	}})
	require.True(t, ok)
	require.Equal(t, "tg:10", ev.ID)
	require.Equal(t, dispatch.KindText, ev.Kind)
	require.Equal(t, int64(42), ev.UserID)
	require.Equal(t, "/start booking", ev.Text)

	ev, ok = Convert(telego.Update{UpdateID: 11, CallbackQuery: &telego.CallbackQuery{
		ID:      "cb",
		From:    telego.User{ID: 42},
		Data:    "sc:to:booking:main",
		Message: &telego.Message{MessageID: 5, Chat: telego.Chat{ID: 42}},
	}})
	require.True(t, ok)
	require.Equal(t, dispatch.KindCallback, ev.Kind)
	require.Equal(t, 5, ev.MessageID)
	require.Equal(t, "cb", ev.CallbackID)

	_, ok = Convert(telego.Update{UpdateID: 12, Message: &telego.Message{
		From: &telego.User{ID: 42},
		Chat: telego.Chat{ID: -100, Type: telego.ChatTypeGroup},
		Text: "hello group",
	}})
	require.False(t, ok)

	_, ok = Convert(telego.Update{UpdateID: 13})
	require.False(t, ok)
}

type chanSource struct {
	ch chan telego.Update
}

func (s chanSource) UpdatesViaLongPolling(context.Context, *telego.GetUpdatesParams, ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return s.ch, nil
}

func TestPollerRetriesFullQueue(t *testing.T) {
	src := chanSource{ch: make(chan telego.Update, 2)}
	src.ch <- telego.Update{UpdateID: 1, Message: &telego.Message{From: &telego.User{ID: 1}, Chat: telego.Chat{Type: telego.ChatTypePrivate}, Text: "hi"}}
	src.ch <- telego.Update{UpdateID: 2}
	close(src.ch)

	attempts := 0
	var got []bridge.Event
	proc := bridge.EventProcessorFunc(func(e bridge.Event) error {
		attempts++
		if attempts == 1 {
			return bridge.ErrQueueFull
		}
		got = append(got, e)
		return nil
	})
	p := NewPoller(src, proc, time.Second, zerolog.Nop())
	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, 2, attempts)
	require.Len(t, got, 1)
	require.Equal(t, "hi", got[0].Text)
}
