// Package transport defines the chat platform boundary used by the scene
// runtime: sending, editing and deleting one message per session plus
// answering button presses. Adapters live in subpackages.
package transport

import (
	"context"
	"errors"
)

// ErrNotModified may be returned by Edit when the platform reports the message
// already has the requested content. Callers treat it as success.
var ErrNotModified = errors.New("transport: message not modified")

// Button is one inline control. Exactly one of Data or URL is set.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Row is a horizontal group of buttons.
type Row []Button

// Keyboard is an inline keyboard attached to a message.
type Keyboard []Row

// Empty reports whether the keyboard has no buttons.
func (k Keyboard) Empty() bool {
	for _, row := range k {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// Message is the rendered state of a session's message.
type Message struct {
	Text      string
	Image     string
	ParseMode string
	Keyboard  Keyboard
}

// Transport is implemented by chat platform adapters. Message identifiers are
// scoped to chatID.
type Transport interface {
	// Send posts a new text or photo message and returns its identifier.
	Send(ctx context.Context, chatID int64, msg Message) (int, error)
	// Edit replaces text, caption, media and keyboard of an existing message.
	// When msg.Image is set the media is swapped in place.
	Edit(ctx context.Context, chatID int64, messageID int, msg Message) error
	// Delete removes a message.
	Delete(ctx context.Context, chatID int64, messageID int) error
	// Answer acknowledges a button press, optionally showing text to the user.
	Answer(ctx context.Context, callbackID, text string) error
}
