package console

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/kingrea/scenekit/internal/dispatch"
	"github.com/kingrea/scenekit/internal/transport"
)

// Dispatcher receives the events produced by the model.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.Event) error
}

type focus int

const (
	focusInput focus = iota
	focusButtons
)

type dispatchedMsg struct {
	err error
}

var (
	messageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	imageStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	buttonStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true).Padding(0, 1)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Model is the bubbletea model for one user talking to the dispatcher.
type Model struct {
	console    *Console
	dispatcher Dispatcher
	userID     int64
	initial    string

	entries []Entry
	input   textinput.Model
	focus   focus
	row     int
	col     int
	notice  string
	err     error
	width   int
}

// NewModel builds a model for userID with the text input focused.
func NewModel(c *Console, d Dispatcher, userID int64) Model {
	in := textinput.New()
	in.Placeholder = "type a reply or /start <scene>"
	in.Prompt = "> "
	in.CharLimit = 512
	in.Focus()
	return Model{console: c, dispatcher: d, userID: userID, input: in, width: 60}
}

// StartWith returns a copy of m that sends text once the program starts.
func (m Model) StartWith(text string) Model {
	m.initial = text
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.initial == "" {
		return textinput.Blink
	}
	return tea.Batch(textinput.Blink, m.Send(m.initial))
}

// Send returns a command dispatching text as if the user typed it.
func (m Model) Send(text string) tea.Cmd {
	return m.dispatch(dispatch.Event{Kind: dispatch.KindText, Text: text})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case ChangedMsg:
		if msg.ChatID == m.userID {
			m.entries = m.console.Entries(m.userID)
			m.clampCursor()
		}
		return m, nil
	case NoticeMsg:
		m.notice = msg.Text
		return m, nil
	case dispatchedMsg:
		m.err = msg.err
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		if m.focus == focusInput && len(m.keyboard()) > 0 {
			m.focus = focusButtons
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil
	}
	if m.focus == focusButtons {
		return m.handleButtonKey(msg)
	}
	if msg.Type == tea.KeyEnter {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.notice = ""
		return m, m.Send(text)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleButtonKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	kb := m.keyboard()
	if len(kb) == 0 {
		return m, nil
	}
	switch msg.String() {
	case "up", "k":
		m.row = (m.row - 1 + len(kb)) % len(kb)
	case "down", "j":
		m.row = (m.row + 1) % len(kb)
	case "left", "h":
		m.col = (m.col - 1 + len(kb[m.row])) % len(kb[m.row])
	case "right", "l":
		m.col = (m.col + 1) % len(kb[m.row])
	case "enter", " ":
		btn := kb[m.row][m.col]
		if btn.Data == "" {
			m.notice = btn.URL
			return m, nil
		}
		m.notice = ""
		return m, m.dispatch(dispatch.Event{
			Kind:       dispatch.KindCallback,
			Data:       btn.Data,
			MessageID:  m.keyboardOwner(),
			CallbackID: uuid.NewString(),
		})
	}
	m.clampCursor()
	return m, nil
}

func (m Model) dispatch(ev dispatch.Event) tea.Cmd {
	ev.ID = uuid.NewString()
	ev.UserID = m.userID
	d := m.dispatcher
	return func() tea.Msg {
		return dispatchedMsg{err: d.Dispatch(context.Background(), ev)}
	}
}

// keyboard returns the non-empty rows of the newest message with buttons.
func (m Model) keyboard() transport.Keyboard {
	for i := len(m.entries) - 1; i >= 0; i-- {
		kb := m.entries[i].Message.Keyboard
		if kb.Empty() {
			continue
		}
		out := make(transport.Keyboard, 0, len(kb))
		for _, row := range kb {
			if len(row) > 0 {
				out = append(out, row)
			}
		}
		return out
	}
	return nil
}

func (m Model) keyboardOwner() int {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if !m.entries[i].Message.Keyboard.Empty() {
			return m.entries[i].ID
		}
	}
	return 0
}

func (m *Model) clampCursor() {
	kb := m.keyboard()
	if len(kb) == 0 {
		m.row, m.col = 0, 0
		if m.focus == focusButtons {
			m.focus = focusInput
			m.input.Focus()
		}
		return
	}
	if m.row >= len(kb) {
		m.row = len(kb) - 1
	}
	if m.col >= len(kb[m.row]) {
		m.col = len(kb[m.row]) - 1
	}
}

// View implements tea.Model.
func (m Model) View() string {
	width := max(20, m.width-4)
	var blocks []string
	owner := m.keyboardOwner()
	for _, e := range m.entries {
		var lines []string
		if e.Message.Image != "" {
			lines = append(lines, imageStyle.Render("[image] "+e.Message.Image))
		}
		lines = append(lines, lipgloss.NewStyle().Width(width).Render(e.Message.Text))
		if e.ID == owner {
			lines = append(lines, m.renderKeyboard())
		}
		blocks = append(blocks, messageStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	}
	if m.notice != "" {
		blocks = append(blocks, noticeStyle.Render(m.notice))
	}
	if m.err != nil {
		blocks = append(blocks, errorStyle.Render(m.err.Error()))
	}
	blocks = append(blocks, m.input.View())
	blocks = append(blocks, hintStyle.Render("tab: switch input/buttons · arrows: move · enter: send/press · esc: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (m Model) renderKeyboard() string {
	kb := m.keyboard()
	rows := make([]string, 0, len(kb))
	for r, row := range kb {
		cells := make([]string, 0, len(row))
		for c, btn := range row {
			style := buttonStyle
			if m.focus == focusButtons && r == m.row && c == m.col {
				style = selectedStyle
			}
			cells = append(cells, style.Render("["+btn.Text+"]"))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
