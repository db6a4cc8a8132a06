package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Call is one operation captured by Recorder.
type Call struct {
	Op         string
	ChatID     int64
	MessageID  int
	Message    Message
	CallbackID string
	Text       string
}

// Recorder is an in-memory Transport that remembers every call and the live
// message per chat. It backs tests and local tooling.
type Recorder struct {
	mu       sync.Mutex
	nextID   int
	calls    []Call
	messages map[int64]map[int]Message
	failEdit error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{nextID: 100, messages: map[int64]map[int]Message{}}
}

// FailEdits makes subsequent Edit calls return err (nil restores success).
func (r *Recorder) FailEdits(err error) {
	r.mu.Lock()
	r.failEdit = err
	r.mu.Unlock()
}

// Send implements Transport.
func (r *Recorder) Send(_ context.Context, chatID int64, msg Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.messages[chatID] == nil {
		r.messages[chatID] = map[int]Message{}
	}
	r.messages[chatID][id] = msg
	r.calls = append(r.calls, Call{Op: "send", ChatID: chatID, MessageID: id, Message: msg})
	return id, nil
}

// Edit implements Transport.
func (r *Recorder) Edit(_ context.Context, chatID int64, messageID int, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "edit", ChatID: chatID, MessageID: messageID, Message: msg})
	if r.failEdit != nil {
		return r.failEdit
	}
	if _, ok := r.messages[chatID][messageID]; !ok {
		return fmt.Errorf("transport: message %d not found in chat %d", messageID, chatID)
	}
	r.messages[chatID][messageID] = msg
	return nil
}

// Delete implements Transport.
func (r *Recorder) Delete(_ context.Context, chatID int64, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "delete", ChatID: chatID, MessageID: messageID})
	if _, ok := r.messages[chatID][messageID]; !ok {
		return errors.New("transport: message to delete not found")
	}
	delete(r.messages[chatID], messageID)
	return nil
}

// Answer implements Transport.
func (r *Recorder) Answer(_ context.Context, callbackID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "answer", CallbackID: callbackID, Text: text})
	return nil
}

// Calls returns a copy of the captured calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call{}, r.calls...)
}

// Count returns how many calls used op.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets captured calls but keeps live messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Message returns the live message with id in chat.
func (r *Recorder) Message(chatID int64, id int) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[chatID][id]
	return msg, ok
}

// Last returns the most recently sent or edited message content for chat.
func (r *Recorder) Last(chatID int64) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		c := r.calls[i]
		if c.ChatID == chatID && (c.Op == "send" || c.Op == "edit") {
			return c.Message, true
		}
	}
	return Message{}, false
}

// Answers returns the texts passed to Answer, in order.
func (r *Recorder) Answers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Op == "answer" {
			out = append(out, c.Text)
		}
	}
	return out
}
