// Package callback encodes and decodes the opaque routing token attached to
// inline keyboard buttons. A token names the scene type that owns the button,
// the handler kind, and an ordered list of positional arguments:
//
//	sc:<kind>:<scene type>:<arg1>:<arg2>...
//
// Arguments are not escaped; values containing the separator are rejected at
// encode time.
package callback

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Prefix marks tokens produced by this package.
	Prefix = "sc"
	// Separator joins token fields.
	Separator = ":"
	// MaxLen is the largest token a transport can carry (Telegram callback_data).
	MaxLen = 64
)

// Handler kinds understood by the scene runtime.
const (
	// KindPage routes the token to the current page; Args[0] selects the handler.
	KindPage = "p"
	// KindToPage requests navigation to the page named by Args[0].
	KindToPage = "to"
)

var (
	// ErrSeparator is returned when a field contains the reserved separator.
	ErrSeparator = errors.New("callback: field contains separator")
	// ErrTooLong is returned when the encoded token exceeds MaxLen.
	ErrTooLong = errors.New("callback: token exceeds transport limit")
)

// ProtocolError reports a token that could not be decoded. Adapters treat it
// as a no-op.
type ProtocolError struct {
	Token  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("callback: malformed token %q: %s", e.Token, e.Reason)
}

// Token is a decoded routing payload.
type Token struct {
	Kind      string
	SceneType string
	Args      []string
}

// Arg returns the positional argument at idx or "" when absent.
func (t Token) Arg(idx int) string {
	if idx < 0 || idx >= len(t.Args) {
		return ""
	}
	return t.Args[idx]
}

// Encode builds a token for the given scene type and handler kind.
func Encode(sceneType, kind string, args ...string) (string, error) {
	fields := make([]string, 0, 3+len(args))
	fields = append(fields, Prefix, kind, sceneType)
	fields = append(fields, args...)
	for _, field := range fields[1:] {
		if strings.Contains(field, Separator) {
			return "", fmt.Errorf("%w: %q", ErrSeparator, field)
		}
	}
	if kind == "" {
		return "", errors.New("callback: kind is required")
	}
	token := strings.Join(fields, Separator)
	if len(token) > MaxLen {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLong, len(token))
	}
	return token, nil
}

// Decode parses a token produced by Encode.
func Decode(token string) (Token, error) {
	fields := strings.Split(token, Separator)
	if len(fields) < 3 {
		return Token{}, &ProtocolError{Token: token, Reason: "too few fields"}
	}
	if fields[0] != Prefix {
		return Token{}, &ProtocolError{Token: token, Reason: "unknown prefix"}
	}
	if fields[1] == "" {
		return Token{}, &ProtocolError{Token: token, Reason: "empty kind"}
	}
	out := Token{Kind: fields[1], SceneType: fields[2]}
	if len(fields) > 3 {
		out.Args = append([]string{}, fields[3:]...)
	}
	return out, nil
}

// IsToken reports whether s carries this package's prefix.
func IsToken(s string) bool {
	return strings.HasPrefix(s, Prefix+Separator)
}
