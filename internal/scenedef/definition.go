package scenedef

import (
	"fmt"
	"strings"
)

// SceneNamespace is the data namespace shared by every page of a session. No
// page may use it as a name.
const SceneNamespace = "scene"

// Parse modes accepted in scene settings.
const (
	ParseModeNone       = ""
	ParseModeHTML       = "HTML"
	ParseModeMarkdown   = "Markdown"
	ParseModeMarkdownV2 = "MarkdownV2"
)

// Settings carries per-scene rendering options.
type Settings struct {
	ParseMode       string `json:"parse_mode,omitempty" yaml:"parse_mode,omitempty"`
	DeleteAfterSend bool   `json:"delete_after_send,omitempty" yaml:"delete_after_send,omitempty"`
}

func (s Settings) normalized() Settings {
	s.ParseMode = strings.TrimSpace(s.ParseMode)
	return s
}

func (s Settings) validate() error {
	switch s.ParseMode {
	case ParseModeNone, ParseModeHTML, ParseModeMarkdown, ParseModeMarkdownV2:
		return nil
	default:
		return fmt.Errorf("unsupported parse_mode %q", s.ParseMode)
	}
}

// Transition is one navigation button declared by a page.
type Transition struct {
	Target string
	Label  string
}

// Page is the declarative description of one dialog node.
type Page struct {
	Name    string
	Content string
	Image   string
	ToPages []Transition
	Hooks   []string
}

// Clone returns a deep copy of the page.
func (p Page) Clone() Page {
	clone := p
	if len(p.ToPages) > 0 {
		clone.ToPages = append([]Transition{}, p.ToPages...)
	}
	if len(p.Hooks) > 0 {
		clone.Hooks = append([]string{}, p.Hooks...)
	}
	return clone
}

// Label returns the button label for a transition target.
func (p Page) Label(target string) (string, bool) {
	for _, tr := range p.ToPages {
		if tr.Target == target {
			return tr.Label, true
		}
	}
	return "", false
}

// Scene is an immutable, named graph of pages. The first page in PageNames is
// the entry page.
type Scene struct {
	Name      string
	Settings  Settings
	PageNames []string
	pages     map[string]Page
}

// NewScene assembles and validates a scene from pages in declaration order.
func NewScene(name string, settings Settings, pages ...Page) (Scene, error) {
	sc := Scene{
		Name:     strings.TrimSpace(name),
		Settings: settings.normalized(),
		pages:    make(map[string]Page, len(pages)),
	}
	for _, p := range pages {
		if _, exists := sc.pages[p.Name]; exists {
			return Scene{}, fmt.Errorf("scene %s: duplicate page %s", sc.Name, p.Name)
		}
		sc.PageNames = append(sc.PageNames, p.Name)
		sc.pages[p.Name] = p.Clone()
	}
	if err := sc.Validate(); err != nil {
		return Scene{}, err
	}
	return sc, nil
}

// Validate ensures the scene is self-consistent: it has pages, page names are
// usable as namespaces and callback arguments, and every transition target
// exists.
func (sc Scene) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scene: name is required")
	}
	if strings.Contains(sc.Name, ":") {
		return fmt.Errorf("scene %s: name must not contain ':'", sc.Name)
	}
	if len(sc.PageNames) == 0 {
		return fmt.Errorf("scene %s: at least one page is required", sc.Name)
	}
	if err := sc.Settings.validate(); err != nil {
		return fmt.Errorf("scene %s settings: %w", sc.Name, err)
	}
	for _, name := range sc.PageNames {
		if name == "" {
			return fmt.Errorf("scene %s: page name is required", sc.Name)
		}
		if name == SceneNamespace {
			return fmt.Errorf("scene %s: page name %q is reserved", sc.Name, SceneNamespace)
		}
		if strings.Contains(name, ":") {
			return fmt.Errorf("scene %s: page name %q must not contain ':'", sc.Name, name)
		}
	}
	for _, name := range sc.PageNames {
		for _, tr := range sc.pages[name].ToPages {
			if _, ok := sc.pages[tr.Target]; !ok {
				return fmt.Errorf("scene %s: page %s references unknown page %s", sc.Name, name, tr.Target)
			}
			if strings.TrimSpace(tr.Label) == "" {
				return fmt.Errorf("scene %s: page %s transition to %s has no label", sc.Name, name, tr.Target)
			}
		}
	}
	return nil
}

// EntryPage returns the name of the first declared page.
func (sc Scene) EntryPage() string {
	if len(sc.PageNames) == 0 {
		return ""
	}
	return sc.PageNames[0]
}

// Page returns a copy of the named page.
func (sc Scene) Page(name string) (Page, bool) {
	p, ok := sc.pages[name]
	if !ok {
		return Page{}, false
	}
	return p.Clone(), true
}

// HasPage reports whether name is a page of the scene.
func (sc Scene) HasPage(name string) bool {
	_, ok := sc.pages[name]
	return ok
}

// HookKeys returns every hook key referenced by the scene's pages.
func (sc Scene) HookKeys() []string {
	var keys []string
	seen := map[string]struct{}{}
	for _, name := range sc.PageNames {
		for _, key := range sc.pages[name].Hooks {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}
