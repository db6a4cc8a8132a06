// Package console is a terminal transport: scene messages render in a
// bubbletea program and keyboard input turns into dispatch events.
package console

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/scenekit/internal/transport"
)

// Entry is one live message in a chat.
type Entry struct {
	ID      int
	Message transport.Message
}

// ChangedMsg tells the model a chat's messages changed.
type ChangedMsg struct {
	ChatID int64
}

// NoticeMsg carries the text of an answered button press.
type NoticeMsg struct {
	Text string
}

// Console keeps the live messages of every chat and notifies the attached
// program on change. It implements transport.Transport.
type Console struct {
	mu     sync.Mutex
	nextID int
	chats  map[int64][]Entry
	notify func(tea.Msg)
}

var _ transport.Transport = (*Console)(nil)

// New returns an empty console transport.
func New() *Console {
	return &Console{chats: map[int64][]Entry{}}
}

// Attach routes change notifications to fn, usually (*tea.Program).Send.
func (c *Console) Attach(fn func(tea.Msg)) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

func (c *Console) emit(msg tea.Msg) {
	c.mu.Lock()
	fn := c.notify
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Entries returns the live messages of chat, oldest first.
func (c *Console) Entries(chatID int64) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.chats[chatID]...)
}

// Send implements transport.Transport.
func (c *Console) Send(_ context.Context, chatID int64, msg transport.Message) (int, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.chats[chatID] = append(c.chats[chatID], Entry{ID: id, Message: msg})
	c.mu.Unlock()
	c.emit(ChangedMsg{ChatID: chatID})
	return id, nil
}

// Edit implements transport.Transport.
func (c *Console) Edit(_ context.Context, chatID int64, messageID int, msg transport.Message) error {
	c.mu.Lock()
	i := c.index(chatID, messageID)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("console: message %d not found", messageID)
	}
	c.chats[chatID][i].Message = msg
	c.mu.Unlock()
	c.emit(ChangedMsg{ChatID: chatID})
	return nil
}

// Delete implements transport.Transport.
func (c *Console) Delete(_ context.Context, chatID int64, messageID int) error {
	c.mu.Lock()
	i := c.index(chatID, messageID)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("console: message %d not found", messageID)
	}
	entries := c.chats[chatID]
	c.chats[chatID] = append(entries[:i:i], entries[i+1:]...)
	c.mu.Unlock()
	c.emit(ChangedMsg{ChatID: chatID})
	return nil
}

// Answer implements transport.Transport.
func (c *Console) Answer(_ context.Context, _ string, text string) error {
	if text != "" {
		c.emit(NoticeMsg{Text: text})
	}
	return nil
}

func (c *Console) index(chatID int64, messageID int) int {
	for i, e := range c.chats[chatID] {
		if e.ID == messageID {
			return i
		}
	}
	return -1
}
