package scene

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/pages"
	"github.com/kingrea/scenekit/internal/persist"
	"github.com/kingrea/scenekit/internal/persist/memory"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

const testScenes = `
form:
  settings:
    delete_after_send: true
  pages:
    A:
      content: "Enter a word"
    B:
      content: "Thanks {field}"
      image: https://example.com/thanks.png
      hooks: [visited]
      to_pages:
        C: Next
    C:
      content: "Plain text page"
      to_pages:
        A: Again
pick:
  pages:
    choose:
      content: "Pick one"
`

type harness struct {
	registry  *Registry
	store     *memory.Store
	recorder  *transport.Recorder
	hookCalls *[]string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	scenes, err := scenedef.Parse([]byte(testScenes))
	require.NoError(t, err)
	defs := scenedef.NewStore(scenes)

	types := NewTypes()
	types.MustRegister(Blueprint{
		Type: "form",
		Pages: map[string]page.Factory{
			"A": pages.TextFactory(pages.TextConfig{SceneKey: "field", Next: "B", MinLen: 3, MaxLen: 10}),
		},
	})
	types.MustRegister(Blueprint{
		Type: "pick",
		Pages: map[string]page.Factory{
			"choose": pages.RadioFactory(pages.RadioConfig{
				Options:  []pages.Choice{{Key: "1", Label: "One"}, {Key: "2", Label: "Two"}, {Key: "3", Label: "Three"}},
				PageSize: 2,
				SceneKey: "choice",
			}),
		},
	})

	var calls []string
	hooks := NewHooks()
	hooks.MustRegister("visited", func(_ context.Context, s *Scene) error {
		calls = append(calls, s.CurrentPage())
		return nil
	})
	require.NoError(t, types.Validate(defs, hooks))

	store := memory.New()
	recorder := transport.NewRecorder()
	writer := persist.NewWriter(store, persist.WithSyncWrites())
	clock := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	reg := NewRegistry(types, defs, recorder, writer,
		WithHooks(hooks),
		WithClock(func() time.Time { return clock }),
		WithLocation(time.UTC),
	)
	return harness{registry: reg, store: store, recorder: recorder, hookCalls: &calls}
}

func press(t *testing.T, s *Scene, data string) error {
	t.Helper()
	tok, err := callback.Decode(data)
	require.NoError(t, err)
	return s.HandleCallback(context.Background(), CallbackEvent{ID: "cb", Token: tok, MessageID: s.MessageID()})
}

func buttonTexts(kb transport.Keyboard) []string {
	var out []string
	for _, row := range kb {
		for _, b := range row {
			out = append(out, b.Text)
		}
	}
	return out
}

func TestCreateSendsEntryPageAndPersists(t *testing.T) {
	h := newHarness(t)
	s, err := h.registry.Create(context.Background(), 7, "form")
	require.NoError(t, err)
	require.Equal(t, "A", s.CurrentPage())
	require.Equal(t, 1, h.recorder.Count("send"))
	require.NotZero(t, s.MessageID())

	stored, err := h.store.Load(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "A", stored.Page)
	require.Equal(t, s.MessageID(), stored.MessageID)
	require.NotNil(t, stored.Data[scenedef.SceneNamespace])
}

func TestUpdateMessageSkipsWhenUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	h.recorder.Reset()

	require.NoError(t, s.UpdateMessage(ctx))
	require.NoError(t, s.UpdateMessage(ctx))
	require.Empty(t, h.recorder.Calls())

	s.UpdateKey("A", "error", "changed")
	require.NoError(t, s.UpdateMessage(ctx))
	require.NoError(t, s.UpdateMessage(ctx))
	require.Equal(t, 1, h.recorder.Count("edit"))
}

func TestBoundedTextScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)

	require.NoError(t, s.HandleText(ctx, TextEvent{Text: "hi", MessageID: 900}))
	require.Equal(t, "A", s.CurrentPage())
	last, _ := h.recorder.Last(7)
	require.Contains(t, last.Text, "Too short")

	require.NoError(t, s.HandleText(ctx, TextEvent{Text: "hello", MessageID: 901}))
	require.Equal(t, "B", s.CurrentPage())
	value, _ := s.GetKey(scenedef.SceneNamespace, "field")
	require.Equal(t, "hello", value)
	last, _ = h.recorder.Last(7)
	require.Equal(t, "Thanks hello", last.Text)
	require.Equal(t, []string{"B"}, *h.hookCalls)

	lastPage, _ := s.GetKey(scenedef.SceneNamespace, KeyLastPage)
	require.Equal(t, "A", lastPage)

	deleted := 0
	for _, c := range h.recorder.Calls() {
		if c.Op == "delete" && (c.MessageID == 900 || c.MessageID == 901) {
			deleted++
		}
	}
	require.Equal(t, 2, deleted, "user messages are deleted after handling")
}

func TestRadioPaginationScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 8, "pick")
	require.NoError(t, err)

	first, _ := h.recorder.Last(8)
	texts := buttonTexts(first.Keyboard)
	require.Contains(t, texts, "○ One")
	require.Contains(t, texts, "○ Two")
	require.NotContains(t, texts, "○ Three")
	require.Contains(t, texts, "Next ›")

	next, ok := findData(first.Keyboard, "Next ›")
	require.True(t, ok)
	require.NoError(t, press(t, s, next))

	second, _ := h.recorder.Last(8)
	texts = buttonTexts(second.Keyboard)
	require.Contains(t, texts, "○ Three")
	require.NotContains(t, texts, "○ One")
	require.Contains(t, texts, "‹ Prev")
	require.Equal(t, 1, h.recorder.Count("edit"))
	require.Equal(t, []string{""}, h.recorder.Answers())
}

func findData(kb transport.Keyboard, text string) (string, bool) {
	for _, row := range kb {
		for _, b := range row {
			if b.Text == text {
				return b.Data, true
			}
		}
	}
	return "", false
}

func TestImageToTextResendsMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePage(ctx, "B"))
	require.Equal(t, 1, h.recorder.Count("edit"), "text to image edits in place")
	withImage := s.MessageID()

	h.recorder.Reset()
	require.NoError(t, s.UpdatePage(ctx, "C"))
	calls := h.recorder.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "delete", calls[0].Op)
	require.Equal(t, withImage, calls[0].MessageID)
	require.Equal(t, "send", calls[1].Op)
	require.NotEqual(t, withImage, s.MessageID())
	_, shown := s.GetKey(scenedef.SceneNamespace, keyImage)
	require.False(t, shown)
}

func TestEditFailureFallsBackToResend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	before := s.MessageID()

	h.recorder.FailEdits(errors.New("message can't be edited"))
	h.recorder.Reset()
	require.NoError(t, s.UpdatePage(ctx, "C"))
	ops := []string{}
	for _, c := range h.recorder.Calls() {
		ops = append(ops, c.Op)
	}
	require.Equal(t, []string{"edit", "delete", "send"}, ops)
	require.NotEqual(t, before, s.MessageID())
}

func TestNotModifiedIsSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	h.recorder.FailEdits(transport.ErrNotModified)
	h.recorder.Reset()
	require.NoError(t, s.UpdatePage(ctx, "C"))
	require.Equal(t, 1, len(h.recorder.Calls()))
}

func TestUpdatePageRejectsUnknownPage(t *testing.T) {
	h := newHarness(t)
	s, err := h.registry.Create(context.Background(), 7, "form")
	require.NoError(t, err)
	err = s.UpdatePage(context.Background(), "nowhere")
	var invalid *InvalidPageError
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, "A", s.CurrentPage())
}

func TestNavigationButtonSwitchesPage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePage(ctx, "B"))

	last, _ := h.recorder.Last(7)
	data, ok := findData(last.Keyboard, "Next")
	require.True(t, ok)
	require.NoError(t, press(t, s, data))
	require.Equal(t, "C", s.CurrentPage())
}

func TestStaleAndForeignPressesAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)

	foreign, err := callback.Encode("pick", callback.KindToPage, "B")
	require.NoError(t, err)
	require.NoError(t, press(t, s, foreign))
	require.Equal(t, "A", s.CurrentPage())

	own, err := s.Token(callback.KindToPage, "C")
	require.NoError(t, err)
	tok, _ := callback.Decode(own)
	require.NoError(t, s.HandleCallback(ctx, CallbackEvent{ID: "old", Token: tok, MessageID: s.MessageID() + 50}))
	require.Equal(t, "A", s.CurrentPage())
	require.Equal(t, []string{"", ""}, h.recorder.Answers())
}

func TestNotifyAnswersPressOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)

	s.callbackID = "cb-1"
	require.NoError(t, s.Notify(ctx, "first"))
	require.NoError(t, s.Notify(ctx, "second"))
	s.callbackID, s.answered = "", false

	require.Equal(t, []string{"first"}, h.recorder.Answers())
	last, _ := h.recorder.Last(7)
	require.Equal(t, "second", last.Text)
}

func TestDuplicateAndReplace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)

	_, err = h.registry.Create(ctx, 7, "pick")
	var dup *DuplicateSessionError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, "form", dup.Existing)

	second, err := h.registry.Replace(ctx, 7, "pick")
	require.NoError(t, err)
	require.Equal(t, 1, h.registry.Len())
	got, _ := h.registry.Get(7)
	require.Same(t, second, got)

	_, ok := h.recorder.Message(7, first.MessageID())
	require.False(t, ok, "replaced scene's message is deleted")
	stored, err := h.store.Load(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "pick", stored.SceneType)
}

func TestUnknownTypeIsTyped(t *testing.T) {
	h := newHarness(t)
	_, err := h.registry.Create(context.Background(), 7, "nope")
	var unknown *UnknownTypeError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, 0, h.registry.Len())
}

func TestEndRemovesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	id := s.MessageID()

	require.NoError(t, s.End(ctx))
	require.Equal(t, 0, h.registry.Len())
	_, ok := h.recorder.Message(7, id)
	require.False(t, ok)
	_, err = h.store.Load(ctx, 7)
	require.ErrorIs(t, err, persist.ErrNotFound)
}

func TestLoadFromDBRestoresWithoutStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	require.NoError(t, s.HandleText(ctx, TextEvent{Text: "hello"}))
	require.NoError(t, h.store.Insert(ctx, persist.SessionState{UserID: 8, SceneType: "gone", Page: "x"}))
	require.NoError(t, h.store.Insert(ctx, persist.SessionState{UserID: 9, SceneType: "form", Page: "removed"}))

	fresh := NewRegistry(h.registry.types, h.registry.defs, h.recorder, persist.NewWriter(h.store, persist.WithSyncWrites()))
	h.recorder.Reset()
	n, err := fresh.LoadFromDB(ctx, LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, h.recorder.Calls())

	restored, ok := fresh.Get(7)
	require.True(t, ok)
	require.Equal(t, "B", restored.CurrentPage())
	require.Equal(t, s.MessageID(), restored.MessageID())
	value, _ := restored.GetKey(scenedef.SceneNamespace, "field")
	require.Equal(t, "hello", value)

	require.NoError(t, restored.UpdateMessage(ctx))
	require.Empty(t, h.recorder.Calls(), "restored snapshot matches, nothing to send")
}

func TestLoadFromDBRerender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	state := persist.SessionState{UserID: 5, SceneType: "form", Page: "C", MessageID: 0}
	require.NoError(t, h.store.Insert(ctx, state))

	n, err := h.registry.LoadFromDB(ctx, LoadOptions{Rerender: true})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, h.recorder.Count("send"))
}

func TestGetForParamsAndSaveAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{3, 1, 2} {
		_, err := h.registry.Create(ctx, id, "form")
		require.NoError(t, err)
	}
	_, err := h.registry.Create(ctx, 4, "pick")
	require.NoError(t, err)
	s2, _ := h.registry.Get(2)
	require.NoError(t, s2.UpdatePage(ctx, "C"))

	var ids []int64
	for _, s := range h.registry.GetForParams("form", "") {
		ids = append(ids, s.UserID())
	}
	require.Equal(t, []int64{1, 2, 3}, ids)
	require.Len(t, h.registry.GetForParams("form", "C"), 1)
	require.Len(t, h.registry.GetForParams("", ""), 4)

	require.NoError(t, h.store.Delete(ctx, 3))
	require.NoError(t, h.registry.SaveAll(ctx))
	states, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 4)
}

func TestTypesValidate(t *testing.T) {
	scenes, err := scenedef.Parse([]byte(testScenes))
	require.NoError(t, err)
	defs := scenedef.NewStore(scenes)

	types := NewTypes()
	types.MustRegister(Blueprint{Type: "form"})
	require.ErrorContains(t, types.Validate(defs, NewHooks()), `unknown hook "visited"`)

	types = NewTypes()
	types.MustRegister(Blueprint{Type: "pick", Pages: map[string]page.Factory{"missing": page.NewStatic}})
	require.ErrorContains(t, types.Validate(defs, NewHooks()), "unknown page")

	types = NewTypes()
	types.MustRegister(Blueprint{Type: "orphan"})
	require.Error(t, types.Validate(defs, NewHooks()))
	require.Error(t, types.Register(Blueprint{Type: "orphan"}))
}

func TestContentTemplateUsesSceneValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	s.UpdateKey(scenedef.SceneNamespace, "field", "world")
	require.NoError(t, s.UpdatePage(ctx, "B"))
	last, _ := h.recorder.Last(7)
	require.True(t, strings.HasPrefix(last.Text, "Thanks world"))
}

func TestReloadedDefinitionReachesLiveScenes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)
	require.NoError(t, s.UpdatePage(ctx, "C"))
	shown, _ := h.recorder.Message(7, s.MessageID())
	require.Equal(t, "Plain text page", shown.Text)

	reloaded := strings.Replace(testScenes, `content: "Plain text page"`, `content: "Reloaded text"`, 1)
	scenes, err := scenedef.Parse([]byte(reloaded))
	require.NoError(t, err)
	h.registry.defs.Replace(scenes)

	require.NoError(t, s.UpdateMessage(ctx))
	shown, _ = h.recorder.Message(7, s.MessageID())
	require.Equal(t, "Reloaded text", shown.Text)
	def, ok := s.Definition().Page("C")
	require.True(t, ok)
	require.Equal(t, "Reloaded text", def.Content)
}

func TestSceneKeepsDefinitionRemovedByReload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)

	h.registry.defs.Replace(map[string]scenedef.Scene{})
	require.True(t, s.Definition().HasPage("A"))
	require.NoError(t, s.UpdateMessage(ctx))
}

func TestNavigationMustBeOfferedByCurrentPage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.registry.Create(ctx, 7, "form")
	require.NoError(t, err)

	skip, err := s.Token(callback.KindToPage, "C")
	require.NoError(t, err)
	require.NoError(t, press(t, s, skip))
	require.Equal(t, "A", s.CurrentPage())
	require.Equal(t, []string{""}, h.recorder.Answers())
}

// gatedStore blocks the first Update after it is armed until release closes.
type gatedStore struct {
	*memory.Store
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Update(ctx context.Context, state persist.SessionState) error {
	if g.armed.Load() {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.Store.Update(ctx, state)
}

func TestSaveAllDoesNotResurrectEndedScene(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gated := &gatedStore{Store: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	writer := persist.NewWriter(gated)
	defer func() { _ = writer.Close(ctx) }()
	reg := NewRegistry(h.registry.types, h.registry.defs, h.recorder, writer)

	s, err := reg.Create(ctx, 7, "form")
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx))
	gated.armed.Store(true)

	saved := make(chan error, 1)
	go func() { saved <- reg.SaveAll(ctx) }()
	<-gated.entered
	require.NoError(t, s.End(ctx))
	close(gated.release)
	require.NoError(t, <-saved)
	require.NoError(t, writer.Flush(ctx))
	_, err = gated.Load(ctx, 7)
	require.ErrorIs(t, err, persist.ErrNotFound)

	require.NoError(t, reg.SaveAll(ctx))
	_, err = gated.Load(ctx, 7)
	require.ErrorIs(t, err, persist.ErrNotFound)
}
