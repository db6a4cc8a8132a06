package pages

import (
	"context"
	"fmt"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

// Callback kinds used by list pages.
const (
	cbPick   = "pick"
	cbToggle = "toggle"
	cbNav    = "nav"
	cbBulk   = "bulk"
	cbDone   = "done"
	navNext  = "next"
	navPrev  = "prev"

	keyCursor   = "cursor"
	keySelected = "selected"
)

// Choice is one selectable entry.
type Choice struct {
	Key   string
	Label string
}

func validateChoices(pageName string, choices []Choice) error {
	if len(choices) == 0 {
		return fmt.Errorf("pages: %s: no options", pageName)
	}
	seen := make(map[string]struct{}, len(choices))
	for _, c := range choices {
		if c.Key == "" {
			return fmt.Errorf("pages: %s: option with empty key", pageName)
		}
		if _, dup := seen[c.Key]; dup {
			return fmt.Errorf("pages: %s: duplicate option %q", pageName, c.Key)
		}
		seen[c.Key] = struct{}{}
	}
	return nil
}

// pager slices a choice list into screens and persists the cursor.
type pager struct {
	base     *page.Base
	choices  []Choice
	pageSize int
}

func (pg pager) pages() int {
	if pg.pageSize <= 0 || len(pg.choices) <= pg.pageSize {
		return 1
	}
	return (len(pg.choices) + pg.pageSize - 1) / pg.pageSize
}

func (pg pager) cursor() int {
	v, _ := pg.base.Get(keyCursor)
	n, _ := page.AsInt(v)
	if n < 0 || n >= pg.pages() {
		return 0
	}
	return n
}

func (pg pager) visible() []Choice {
	if pg.pages() == 1 {
		return pg.choices
	}
	start := pg.cursor() * pg.pageSize
	end := start + pg.pageSize
	if end > len(pg.choices) {
		end = len(pg.choices)
	}
	return pg.choices[start:end]
}

// move shifts the cursor one screen, wrapping at both ends.
func (pg pager) move(dir string) {
	n := pg.pages()
	cur := pg.cursor()
	switch dir {
	case navNext:
		cur = (cur + 1) % n
	case navPrev:
		cur = (cur - 1 + n) % n
	}
	pg.base.Set(keyCursor, cur)
}

func (pg pager) navRow() (transport.Row, error) {
	if pg.pages() == 1 {
		return nil, nil
	}
	prev, err := pg.base.Button("‹ Prev", cbNav, navPrev)
	if err != nil {
		return nil, err
	}
	next, err := pg.base.Button("Next ›", cbNav, navNext)
	if err != nil {
		return nil, err
	}
	return transport.Row{prev, next}, nil
}

func (pg pager) onNav(ctx context.Context, tok callback.Token) error {
	pg.move(tok.Arg(1))
	return pg.base.Session().UpdateMessage(ctx)
}

// RadioConfig configures a single-select page.
type RadioConfig struct {
	Options  []Choice
	PageSize int
	SceneKey string
	Next     string
	// OnSelected runs after the selection is stored and before the transition.
	OnSelected func(ctx context.Context, s page.Session, key string) error
}

// Radio lets the user pick exactly one option.
type Radio struct {
	*page.Base
	cfg   RadioConfig
	pager pager
}

// NewRadio builds a Radio page.
func NewRadio(def scenedef.Page, s page.Session, cfg RadioConfig) (*Radio, error) {
	if err := validateChoices(def.Name, cfg.Options); err != nil {
		return nil, err
	}
	p := &Radio{Base: page.NewBase(def, s), cfg: cfg}
	p.pager = pager{base: p.Base, choices: cfg.Options, pageSize: cfg.PageSize}
	p.Router().
		Callback(cbPick, p.onPick).
		Callback(cbNav, p.pager.onNav)
	if err := p.Router().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// RadioFactory returns a page.Factory for cfg.
func RadioFactory(cfg RadioConfig) page.Factory {
	return func(def scenedef.Page, s page.Session) (page.Page, error) {
		return NewRadio(def, s, cfg)
	}
}

// Selected returns the chosen key.
func (p *Radio) Selected() string {
	v, _ := p.Get(keySelected)
	return page.AsString(v)
}

// Buttons lists the visible options then the pager row.
func (p *Radio) Buttons(context.Context) (transport.Keyboard, error) {
	selected := p.Selected()
	var kb transport.Keyboard
	for _, c := range p.pager.visible() {
		mark := "○ "
		if c.Key == selected {
			mark = "● "
		}
		btn, err := p.Button(mark+c.Label, cbPick, c.Key)
		if err != nil {
			return nil, err
		}
		kb = append(kb, transport.Row{btn})
	}
	nav, err := p.pager.navRow()
	if err != nil {
		return nil, err
	}
	if nav != nil {
		kb = append(kb, nav)
	}
	return kb, nil
}

func (p *Radio) onPick(ctx context.Context, tok callback.Token) error {
	key := tok.Arg(1)
	if !hasChoice(p.cfg.Options, key) {
		return p.Session().Notify(ctx, "This option is no longer available.")
	}
	p.Set(keySelected, key)
	if p.cfg.SceneKey != "" {
		p.SetShared(p.cfg.SceneKey, key)
	}
	if p.cfg.OnSelected != nil {
		if err := p.cfg.OnSelected(ctx, p.Session(), key); err != nil {
			return err
		}
	}
	return p.Transition(ctx, p.cfg.Next)
}

// OptionConfig configures a multi-select page. MaxSelect zero means no cap.
type OptionConfig struct {
	Options   []Choice
	PageSize  int
	SceneKey  string
	MaxSelect int
	// Next, when set, adds a Done button that moves there.
	Next      string
	DoneLabel string
}

// Option lets the user toggle any number of options up to a cap.
type Option struct {
	*page.Base
	cfg   OptionConfig
	pager pager
}

// NewOption builds an Option page.
func NewOption(def scenedef.Page, s page.Session, cfg OptionConfig) (*Option, error) {
	if err := validateChoices(def.Name, cfg.Options); err != nil {
		return nil, err
	}
	if cfg.MaxSelect < 0 {
		return nil, fmt.Errorf("pages: %s: negative max select", def.Name)
	}
	if cfg.DoneLabel == "" {
		cfg.DoneLabel = "Done"
	}
	p := &Option{Base: page.NewBase(def, s), cfg: cfg}
	p.pager = pager{base: p.Base, choices: cfg.Options, pageSize: cfg.PageSize}
	p.Router().
		Callback(cbToggle, p.onToggle).
		Callback(cbBulk, p.onBulk).
		Callback(cbNav, p.pager.onNav).
		Callback(cbDone, p.onDone)
	if err := p.Router().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// OptionFactory returns a page.Factory for cfg.
func OptionFactory(cfg OptionConfig) page.Factory {
	return func(def scenedef.Page, s page.Session) (page.Page, error) {
		return NewOption(def, s, cfg)
	}
}

// Selected returns the chosen keys in selection order.
func (p *Option) Selected() []string {
	v, _ := p.Get(keySelected)
	return page.AsStrings(v)
}

func (p *Option) store(selected []string) {
	p.Set(keySelected, page.ToAny(selected))
	if p.cfg.SceneKey != "" {
		p.SetShared(p.cfg.SceneKey, page.ToAny(selected))
	}
}

// Buttons lists the visible options, the pager row, the bulk toggle and Done.
func (p *Option) Buttons(context.Context) (transport.Keyboard, error) {
	selected := p.Selected()
	var kb transport.Keyboard
	for _, c := range p.pager.visible() {
		mark := "☐ "
		if contains(selected, c.Key) {
			mark = "☑ "
		}
		btn, err := p.Button(mark+c.Label, cbToggle, c.Key)
		if err != nil {
			return nil, err
		}
		kb = append(kb, transport.Row{btn})
	}
	nav, err := p.pager.navRow()
	if err != nil {
		return nil, err
	}
	if nav != nil {
		kb = append(kb, nav)
	}
	bulkLabel := "Select all"
	if len(selected) > 0 {
		bulkLabel = "Clear all"
	}
	bulk, err := p.Button(bulkLabel, cbBulk)
	if err != nil {
		return nil, err
	}
	row := transport.Row{bulk}
	if p.cfg.Next != "" {
		done, err := p.Button(p.cfg.DoneLabel, cbDone)
		if err != nil {
			return nil, err
		}
		row = append(row, done)
	}
	return append(kb, row), nil
}

func (p *Option) onToggle(ctx context.Context, tok callback.Token) error {
	key := tok.Arg(1)
	if !hasChoice(p.cfg.Options, key) {
		return p.Session().Notify(ctx, "This option is no longer available.")
	}
	selected := p.Selected()
	if idx := indexOf(selected, key); idx >= 0 {
		selected = append(selected[:idx], selected[idx+1:]...)
	} else {
		if p.cfg.MaxSelect > 0 && len(selected) >= p.cfg.MaxSelect {
			return p.Session().Notify(ctx, fmt.Sprintf("You can select at most %d options.", p.cfg.MaxSelect))
		}
		selected = append(selected, key)
	}
	p.store(selected)
	return p.Session().UpdateMessage(ctx)
}

// onBulk clears a non-empty selection, otherwise selects options in order up
// to the cap.
func (p *Option) onBulk(ctx context.Context, _ callback.Token) error {
	var selected []string
	if len(p.Selected()) == 0 {
		for _, c := range p.cfg.Options {
			if p.cfg.MaxSelect > 0 && len(selected) >= p.cfg.MaxSelect {
				break
			}
			selected = append(selected, c.Key)
		}
	}
	p.store(selected)
	return p.Session().UpdateMessage(ctx)
}

func (p *Option) onDone(ctx context.Context, _ callback.Token) error {
	if p.cfg.Next == "" {
		return nil
	}
	if len(p.Selected()) == 0 {
		return p.Session().Notify(ctx, "Select at least one option.")
	}
	return p.Session().UpdatePage(ctx, p.cfg.Next)
}

func hasChoice(choices []Choice, key string) bool {
	for _, c := range choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

func indexOf(items []string, key string) int {
	for i, item := range items {
		if item == key {
			return i
		}
	}
	return -1
}

func contains(items []string, key string) bool {
	return indexOf(items, key) >= 0
}
