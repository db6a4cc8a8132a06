package page

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/scenekit/internal/callback"
)

// TextKind names the typed coercion a text handler accepts.
type TextKind string

const (
	TextTime       TextKind = "time"
	TextInt        TextKind = "int"
	TextList       TextKind = "list"
	TextString     TextKind = "str"
	TextAll        TextKind = "all"
	TextNotHandled TextKind = "not_handled"
)

// typedOrder is the fixed coercion priority.
var typedOrder = []TextKind{TextTime, TextInt, TextList, TextString}

// Reserved callback handler names. They never match a token argument.
const (
	CallbackAll        = "all"
	CallbackNotHandled = "not_handled"
)

// DefaultListSeparator splits list input when the router has no other.
const DefaultListSeparator = ","

// TextInput is raw user text plus the value produced by the coercion that
// selected the handler.
type TextInput struct {
	Raw  string
	Kind TextKind
	Time time.Time
	Int  int64
	List []string
}

// TextHandler handles coerced text.
type TextHandler func(ctx context.Context, in TextInput) error

// CallbackHandler handles a decoded button press.
type CallbackHandler func(ctx context.Context, tok callback.Token) error

// DuplicateHandlerError reports two handlers registered for one key.
type DuplicateHandlerError struct {
	Page string
	Kind string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("page %s: handler for %q already registered", e.Page, e.Kind)
}

// Router holds a page's handler tables. Registration errors accumulate and
// are reported by Err so constructors can register in a flat list.
type Router struct {
	page      string
	separator string
	text      map[TextKind]TextHandler
	callbacks map[string]CallbackHandler
	err       error
}

// NewRouter returns an empty router for the named page.
func NewRouter(pageName string) *Router {
	return &Router{
		page:      pageName,
		separator: DefaultListSeparator,
		text:      map[TextKind]TextHandler{},
		callbacks: map[string]CallbackHandler{},
	}
}

// SetListSeparator changes the delimiter used by list coercion.
func (r *Router) SetListSeparator(sep string) *Router {
	if sep != "" {
		r.separator = sep
	}
	return r
}

// Text registers fn for kind.
func (r *Router) Text(kind TextKind, fn TextHandler) *Router {
	if r.err != nil {
		return r
	}
	switch kind {
	case TextTime, TextInt, TextList, TextString, TextAll, TextNotHandled:
	default:
		r.err = fmt.Errorf("page %s: unknown text kind %q", r.page, kind)
		return r
	}
	if _, exists := r.text[kind]; exists {
		r.err = &DuplicateHandlerError{Page: r.page, Kind: string(kind)}
		return r
	}
	r.text[kind] = fn
	return r
}

// Callback registers fn for tokens whose first argument equals kind.
func (r *Router) Callback(kind string, fn CallbackHandler) *Router {
	if r.err != nil {
		return r
	}
	if kind == "" || strings.Contains(kind, callback.Separator) {
		r.err = fmt.Errorf("page %s: invalid callback kind %q", r.page, kind)
		return r
	}
	if _, exists := r.callbacks[kind]; exists {
		r.err = &DuplicateHandlerError{Page: r.page, Kind: kind}
		return r
	}
	r.callbacks[kind] = fn
	return r
}

// Err returns the first registration error.
func (r *Router) Err() error {
	return r.err
}

// CallbackKinds lists registered callback kinds, sorted.
func (r *Router) CallbackKinds() []string {
	kinds := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DispatchText runs the text dispatch algorithm and reports whether any
// handler ran.
func (r *Router) DispatchText(ctx context.Context, raw string, now time.Time) (bool, error) {
	for _, kind := range typedOrder {
		fn, ok := r.text[kind]
		if !ok {
			continue
		}
		in, matched := Coerce(kind, raw, now, r.separator)
		if !matched {
			continue
		}
		return true, fn(ctx, in)
	}
	if fn, ok := r.text[TextAll]; ok {
		return true, fn(ctx, TextInput{Raw: raw, Kind: TextAll})
	}
	if fn, ok := r.text[TextNotHandled]; ok {
		return true, fn(ctx, TextInput{Raw: raw, Kind: TextNotHandled})
	}
	return false, nil
}

// DispatchCallback runs the callback dispatch algorithm and reports whether
// any handler ran.
func (r *Router) DispatchCallback(ctx context.Context, tok callback.Token) (bool, error) {
	kind := tok.Arg(0)
	fn, ok := r.callbacks[kind]
	if kind == CallbackAll || kind == CallbackNotHandled {
		ok = false
	}
	if !ok {
		if fallback, exists := r.callbacks[CallbackNotHandled]; exists {
			return true, fallback(ctx, tok)
		}
		return false, nil
	}
	if err := fn(ctx, tok); err != nil {
		return true, err
	}
	if all, exists := r.callbacks[CallbackAll]; exists {
		return true, all(ctx, tok)
	}
	return true, nil
}
