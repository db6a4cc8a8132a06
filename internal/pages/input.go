// Package pages holds the stock page variants: bounded text and number
// inputs, single and multi select lists, and a date/time picker.
package pages

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kingrea/scenekit/internal/page"
	"github.com/kingrea/scenekit/internal/scenedef"
)

const (
	keyValue = "value"
	keyError = "error"
)

// TextConfig configures a bounded free-text input. Zero bounds are open.
type TextConfig struct {
	SceneKey string
	Next     string
	MinLen   int
	MaxLen   int
}

// Text accepts a line of text within length bounds.
type Text struct {
	*page.Base
	cfg TextConfig
}

// NewText builds a Text page.
func NewText(def scenedef.Page, s page.Session, cfg TextConfig) (*Text, error) {
	if cfg.MaxLen > 0 && cfg.MinLen > cfg.MaxLen {
		return nil, fmt.Errorf("pages: %s: min length %d above max %d", def.Name, cfg.MinLen, cfg.MaxLen)
	}
	p := &Text{Base: page.NewBase(def, s), cfg: cfg}
	p.Router().Text(page.TextString, p.onText)
	if err := p.Router().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// TextFactory returns a page.Factory for cfg.
func TextFactory(cfg TextConfig) page.Factory {
	return func(def scenedef.Page, s page.Session) (page.Page, error) {
		return NewText(def, s, cfg)
	}
}

func (p *Text) onText(ctx context.Context, in page.TextInput) error {
	value := strings.TrimSpace(in.Raw)
	n := utf8.RuneCountInString(value)
	switch {
	case p.cfg.MinLen > 0 && n < p.cfg.MinLen:
		return reject(ctx, p.Base, fmt.Sprintf("Too short: enter at least %d characters.", p.cfg.MinLen))
	case p.cfg.MaxLen > 0 && n > p.cfg.MaxLen:
		return reject(ctx, p.Base, fmt.Sprintf("Too long: enter at most %d characters.", p.cfg.MaxLen))
	}
	return accept(ctx, p.Base, p.cfg.SceneKey, p.cfg.Next, value)
}

// Content appends the pending validation error.
func (p *Text) Content(ctx context.Context) (string, error) {
	return withError(p.Base), nil
}

// NumberConfig configures a bounded integer input. Nil bounds are open.
type NumberConfig struct {
	SceneKey string
	Next     string
	Min      *int64
	Max      *int64
}

// Int64 returns a pointer to v for NumberConfig bounds.
func Int64(v int64) *int64 { return &v }

// Number accepts a whole number within bounds.
type Number struct {
	*page.Base
	cfg NumberConfig
}

// NewNumber builds a Number page.
func NewNumber(def scenedef.Page, s page.Session, cfg NumberConfig) (*Number, error) {
	if cfg.Min != nil && cfg.Max != nil && *cfg.Min > *cfg.Max {
		return nil, fmt.Errorf("pages: %s: min %d above max %d", def.Name, *cfg.Min, *cfg.Max)
	}
	p := &Number{Base: page.NewBase(def, s), cfg: cfg}
	p.Router().
		Text(page.TextInt, p.onInt).
		Text(page.TextNotHandled, p.onOther)
	if err := p.Router().Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// NumberFactory returns a page.Factory for cfg.
func NumberFactory(cfg NumberConfig) page.Factory {
	return func(def scenedef.Page, s page.Session) (page.Page, error) {
		return NewNumber(def, s, cfg)
	}
}

func (p *Number) onInt(ctx context.Context, in page.TextInput) error {
	switch {
	case p.cfg.Min != nil && in.Int < *p.cfg.Min:
		return reject(ctx, p.Base, fmt.Sprintf("Too small: enter %d or more.", *p.cfg.Min))
	case p.cfg.Max != nil && in.Int > *p.cfg.Max:
		return reject(ctx, p.Base, fmt.Sprintf("Too large: enter %d or less.", *p.cfg.Max))
	}
	return accept(ctx, p.Base, p.cfg.SceneKey, p.cfg.Next, in.Int)
}

func (p *Number) onOther(ctx context.Context, _ page.TextInput) error {
	return reject(ctx, p.Base, "Enter a whole number.")
}

// Content appends the pending validation error.
func (p *Number) Content(ctx context.Context) (string, error) {
	return withError(p.Base), nil
}

func reject(ctx context.Context, b *page.Base, msg string) error {
	b.Set(keyError, msg)
	return b.Session().UpdateMessage(ctx)
}

func accept(ctx context.Context, b *page.Base, sceneKey, next string, value any) error {
	b.Unset(keyError)
	b.Set(keyValue, value)
	if sceneKey != "" {
		b.SetShared(sceneKey, value)
	}
	return b.Transition(ctx, next)
}

func withError(b *page.Base) string {
	content := b.Template(b.Definition().Content)
	if v, ok := b.Get(keyError); ok {
		if msg := page.AsString(v); msg != "" {
			content += "\n\n" + msg
		}
	}
	return content
}
