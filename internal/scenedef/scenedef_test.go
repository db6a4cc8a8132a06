package scenedef

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

const bookingYAML = `
booking:
  settings:
    parse_mode: HTML
    delete_after_send: true
  pages:
    main:
      content: "Hello {name}"
      to_pages:
        name: Your name
        when: Pick a time
    name:
      content: Enter your name
      to_pages:
        main: Back
    when:
      content: Pick a time
      image: https://example.com/cal.png
      hooks: [notify]
      to_pages:
        main: Back
`

func TestParsePreservesPageAndTransitionOrder(t *testing.T) {
	scenes, err := Parse([]byte(bookingYAML))
	require.NoError(t, err)
	sc, ok := scenes["booking"]
	require.True(t, ok)
	require.Equal(t, []string{"main", "name", "when"}, sc.PageNames)
	require.Equal(t, "main", sc.EntryPage())
	require.Equal(t, ParseModeHTML, sc.Settings.ParseMode)
	require.True(t, sc.Settings.DeleteAfterSend)

	main, ok := sc.Page("main")
	require.True(t, ok)
	require.Equal(t, []Transition{{Target: "name", Label: "Your name"}, {Target: "when", Label: "Pick a time"}}, main.ToPages)

	when, _ := sc.Page("when")
	require.Equal(t, "https://example.com/cal.png", when.Image)
	require.Equal(t, []string{"notify"}, sc.HookKeys())
}

func TestParseJSONWithComments(t *testing.T) {
	const payload = `{
  // the only scene
  "survey": {
    "pages": {
      "start": {"content": "see http://example.com // not a comment", "to_pages": {"end": "Finish"}}, // trailing
      "end": {"content": "Thanks"}
    }
  }
}`
	scenes, err := Parse([]byte(payload))
	require.NoError(t, err)
	start, ok := scenes["survey"].Page("start")
	require.True(t, ok)
	require.Equal(t, "see http://example.com // not a comment", start.Content)
}

func TestParseRejectsUnknownTransitionTarget(t *testing.T) {
	const payload = `
broken:
  pages:
    a:
      to_pages:
        missing: Go
`
	_, err := Parse([]byte(payload))
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr), "expected ConfigError, got %v", err)
	require.Contains(t, err.Error(), "references unknown page missing")
}

func TestParseRejectsReservedAndEmptyInput(t *testing.T) {
	_, err := Parse([]byte("   \n// only a comment\n"))
	require.Error(t, err)

	_, err = Parse([]byte("s:\n  pages:\n    scene:\n      content: x\n"))
	require.ErrorContains(t, err, "reserved")

	_, err = Parse([]byte("s:\n  settings:\n    parse_mode: BBCode\n  pages:\n    a: {}\n"))
	require.ErrorContains(t, err, "parse_mode")

	_, err = Parse([]byte("s:\n  pages: {}\n"))
	require.ErrorContains(t, err, "at least one page")
}

func TestLoadFileMissingIsConfigError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
}

func TestStoreReloadReplacesWholeSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bookingYAML), 0o644))
	store, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"booking"}, store.Names())
	gen := store.Generation()

	require.NoError(t, os.WriteFile(path, []byte("other:\n  pages:\n    a:\n      content: hi\n"), 0o644))
	require.NoError(t, store.Reload(dir))
	require.Greater(t, store.Generation(), gen)
	gen = store.Generation()
	_, ok := store.Get("booking")
	require.False(t, ok)
	_, err = store.MustGet("other")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("bad: ["), 0o644))
	require.Error(t, store.Reload(dir))
	_, ok = store.Get("other")
	require.True(t, ok, "failed reload must keep the previous set")
	require.Equal(t, gen, store.Generation())

	store.Replace(map[string]Scene{})
	require.Empty(t, store.Names())
	require.Greater(t, store.Generation(), gen)
}

func TestLoadPathRejectsDuplicateSceneAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(bookingYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(bookingYAML), 0o644))
	_, err := LoadPath(dir)
	require.ErrorContains(t, err, "already defined")
}

func TestSceneTransitionClosureProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	// Each page i links to target indexes; indexes >= page count are dangling.
	properties.Property("accepted scenes only reference declared pages", prop.ForAll(
		func(pageCount int, links []int) bool {
			pages := make([]Page, pageCount)
			for i := range pages {
				pages[i] = Page{Name: fmt.Sprintf("p%d", i)}
			}
			dangling := false
			for i, target := range links {
				from := i % pageCount
				if target >= pageCount {
					dangling = true
				}
				pages[from].ToPages = append(pages[from].ToPages, Transition{Target: fmt.Sprintf("p%d", target), Label: "go"})
			}
			sc, err := NewScene("generated", Settings{}, pages...)
			if dangling {
				return err != nil
			}
			if err != nil {
				return false
			}
			for _, name := range sc.PageNames {
				p, _ := sc.Page(name)
				for _, tr := range p.ToPages {
					if !sc.HasPage(tr.Target) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}
