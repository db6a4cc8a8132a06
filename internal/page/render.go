package page

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/kingrea/scenekit/internal/callback"
	"github.com/kingrea/scenekit/internal/scenedef"
	"github.com/kingrea/scenekit/internal/transport"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

var (
	markdownEscaper   = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
	markdownV2Escaper = strings.NewReplacer(
		`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
		"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
		"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
	)
)

// Escape quotes value so it shows literally in text of the given parse mode.
func Escape(parseMode, value string) string {
	switch parseMode {
	case scenedef.ParseModeHTML:
		return html.EscapeString(value)
	case scenedef.ParseModeMarkdown:
		return markdownEscaper.Replace(value)
	case scenedef.ParseModeMarkdownV2:
		return markdownV2Escaper.Replace(value)
	default:
		return value
	}
}

// Substitute replaces {key} with values[key], escaped for parseMode. Unknown
// keys are left intact.
func Substitute(tmpl string, values map[string]any, parseMode string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := values[key]
		if !ok || v == nil {
			return m
		}
		return Escape(parseMode, fmt.Sprint(v))
	})
}

// Render produces the message for p: its content, image and buttons, then one
// navigation row per transition unless navigation is disabled.
func Render(ctx context.Context, p Page) (transport.Message, error) {
	content, err := p.Content(ctx)
	if err != nil {
		return transport.Message{}, fmt.Errorf("page %s: content: %w", p.Name(), err)
	}
	buttons, err := p.Buttons(ctx)
	if err != nil {
		return transport.Message{}, fmt.Errorf("page %s: buttons: %w", p.Name(), err)
	}
	keyboard := append(transport.Keyboard{}, buttons...)
	if p.Navigation() {
		for _, tr := range p.Definition().ToPages {
			data, err := p.Session().Token(callback.KindToPage, tr.Target)
			if err != nil {
				return transport.Message{}, fmt.Errorf("page %s: navigation to %s: %w", p.Name(), tr.Target, err)
			}
			keyboard = append(keyboard, transport.Row{{Text: tr.Label, Data: data}})
		}
	}
	if len(keyboard) == 0 {
		keyboard = nil
	}
	return transport.Message{
		Text:      content,
		Image:     p.Image(),
		ParseMode: p.Session().Settings().ParseMode,
		Keyboard:  keyboard,
	}, nil
}
