package console

import (
	"context"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/scenekit/internal/dispatch"
	"github.com/kingrea/scenekit/internal/transport"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev dispatch.Event) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeDispatcher) last() dispatch.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

// feed applies msg. For enter it also runs the dispatch command and feeds
// the result back; other commands (cursor blink) are dropped.
func feed(t *testing.T, m tea.Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter && cmd != nil {
		out := cmd()
		_, ok := out.(dispatchedMsg)
		require.True(t, ok, "enter must dispatch, got %T", out)
		next, _ = next.Update(out)
	}
	return next.(Model)
}

func TestConsoleTracksLiveMessages(t *testing.T) {
	c := New()
	var got []tea.Msg
	c.Attach(func(msg tea.Msg) { got = append(got, msg) })
	ctx := context.Background()

	id, err := c.Send(ctx, 1, transport.Message{Text: "hello"})
	require.NoError(t, err)
	other, err := c.Send(ctx, 1, transport.Message{Text: "notice"})
	require.NoError(t, err)
	require.NoError(t, c.Edit(ctx, 1, id, transport.Message{Text: "edited"}))
	require.NoError(t, c.Delete(ctx, 1, other))
	require.Error(t, c.Edit(ctx, 1, other, transport.Message{Text: "x"}))
	require.Error(t, c.Delete(ctx, 2, id))
	require.NoError(t, c.Answer(ctx, "cb", "Saved"))
	require.NoError(t, c.Answer(ctx, "cb", ""))

	require.Equal(t, []Entry{{ID: id, Message: transport.Message{Text: "edited"}}}, c.Entries(1))
	require.Len(t, got, 5)
	require.Equal(t, NoticeMsg{Text: "Saved"}, got[4])
}

func TestModelTypesAndPresses(t *testing.T) {
	c := New()
	d := &fakeDispatcher{}
	m := NewModel(c, d, 7)

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("Alice")})
	m = feed(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	ev := d.last()
	require.Equal(t, dispatch.KindText, ev.Kind)
	require.Equal(t, "Alice", ev.Text)
	require.Equal(t, int64(7), ev.UserID)
	require.NotEmpty(t, ev.ID)

	kb := transport.Keyboard{
		{{Text: "A", Data: "sc:p:demo:pick:0"}, {Text: "B", Data: "sc:p:demo:pick:1"}},
		{{Text: "Back", Data: "sc:to:demo:main"}},
	}
	id, err := c.Send(context.Background(), 7, transport.Message{Text: "Pick", Keyboard: kb})
	require.NoError(t, err)
	m = feed(t, m, ChangedMsg{ChatID: 7})
	require.Contains(t, m.View(), "[Back]")

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = feed(t, m, tea.KeyMsg{Type: tea.KeyRight})
	m = feed(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	ev = d.last()
	require.Equal(t, dispatch.KindCallback, ev.Kind)
	require.Equal(t, "sc:p:demo:pick:1", ev.Data)
	require.Equal(t, id, ev.MessageID)
	require.NotEmpty(t, ev.CallbackID)

	m = feed(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = feed(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, "sc:to:demo:main", d.last().Data)

	m = feed(t, m, NoticeMsg{Text: "Saved"})
	require.Contains(t, m.View(), "Saved")
}

func TestModelFallsBackToInputWhenKeyboardDisappears(t *testing.T) {
	c := New()
	m := NewModel(c, &fakeDispatcher{}, 7)
	id, err := c.Send(context.Background(), 7, transport.Message{Text: "Pick", Keyboard: transport.Keyboard{{{Text: "A", Data: "x"}}}})
	require.NoError(t, err)
	m = feed(t, m, ChangedMsg{ChatID: 7})
	m = feed(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusButtons, m.focus)

	require.NoError(t, c.Edit(context.Background(), 7, id, transport.Message{Text: "Done"}))
	m = feed(t, m, ChangedMsg{ChatID: 7})
	require.Equal(t, focusInput, m.focus)
}

func TestModelStartWithDispatchesOnInit(t *testing.T) {
	d := &fakeDispatcher{}
	m := NewModel(New(), d, 7)
	require.NotNil(t, m.Init())

	started := m.StartWith("/start booking")
	out := started.Send(started.initial)()
	_, ok := out.(dispatchedMsg)
	require.True(t, ok)
	require.Equal(t, "/start booking", d.last().Text)
}
