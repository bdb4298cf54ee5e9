// Package tui is the terminal front end: a lesson list, a lesson view that
// stands in for the video player, and the assistant overlay that renders the
// conversation transcript and status.
package tui

import (
	"context"
	"errors"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/raisehand/internal/assistant"
	"github.com/MrWong99/raisehand/internal/lesson"
)

// Conversation is the open assistant session as seen by the UI.
type Conversation interface {
	Subscribe() <-chan assistant.Update
	Confirm() error
	Close() error
}

// Opener raises the learner's hand for a lesson.
type Opener interface {
	Open(ctx context.Context, l lesson.Lesson) (Conversation, error)
}

// PauseState reports whether the lesson video is paused.
type PauseState interface {
	Paused() bool
}

// ── messages ──────────────────────────────────────────────────────────────────

type openedMsg struct {
	conv Conversation
	err  error
}

type updateMsg struct {
	update  assistant.Update
	updates <-chan assistant.Update
}

type endedMsg struct{}

type closedMsg struct{ err error }

// ── model ─────────────────────────────────────────────────────────────────────

// Model is the bubbletea model for the whole application.
type Model struct {
	ctx     context.Context
	opener  Opener
	pause   PauseState
	lessons []lesson.Lesson

	cursor  int
	current int // index into lessons, -1 on the list view
	width   int
	height  int

	conv       Conversation
	opening    bool
	closing    bool
	status     assistant.Status
	transcript []assistant.TranscriptEntry
	notice     string
}

// New returns the initial model showing the lesson list.
func New(ctx context.Context, opener Opener, pause PauseState, lessons []lesson.Lesson) Model {
	return Model{
		ctx:     ctx,
		opener:  opener,
		pause:   pause,
		lessons: lessons,
		current: -1,
	}
}

// NewProgram wraps m in a full-screen program.
func NewProgram(m Model, opts ...tea.ProgramOption) *tea.Program {
	return tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
}

func (m Model) Init() tea.Cmd { return nil }

// assistantVisible reports whether the assistant overlay is shown.
func (m Model) assistantVisible() bool { return m.conv != nil || m.opening }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case openedMsg:
		m.opening = false
		if msg.err != nil {
			if errors.Is(msg.err, assistant.ErrResourceBusy) {
				m.notice = "The assistant is still shutting down. Try again in a moment."
			} else {
				m.notice = "Could not start the assistant."
			}
			slog.Warn("tui: open assistant", "err", msg.err)
			return m, nil
		}
		m.conv = msg.conv
		m.status = assistant.Initializing
		m.transcript = nil
		return m, waitForUpdate(msg.conv.Subscribe())

	case updateMsg:
		if m.conv == nil {
			return m, nil
		}
		m.status = msg.update.Status
		m.transcript = msg.update.Transcript
		return m, waitForUpdate(msg.updates)

	case endedMsg:
		return m.dismiss(), nil

	case closedMsg:
		if errors.Is(msg.err, assistant.ErrNotAwaitingConfirmation) {
			// Speech resumed before the confirm landed. The session is still open.
			slog.Debug("tui: confirm rejected", "err", msg.err)
			m.closing = false
			return m, nil
		}
		if msg.err != nil {
			slog.Warn("tui: close assistant", "err", msg.err)
		}
		return m.dismiss(), nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, m.quit()
	}

	if m.assistantVisible() {
		if m.status == assistant.AwaitingConfirmation {
			if key == "enter" || key == "y" {
				return m.closeAssistant(true)
			}
			return m, nil
		}
		if key == "esc" || key == "x" {
			return m.closeAssistant(false)
		}
		return m, nil
	}

	if m.current < 0 {
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.lessons)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.lessons) > 0 {
				m.current = m.cursor
				m.notice = ""
			}
		case "q":
			return m, tea.Quit
		}
		return m, nil
	}

	switch key {
	case "h":
		m.opening = true
		m.notice = ""
		l := m.lessons[m.current]
		opener, ctx := m.opener, m.ctx
		return m, func() tea.Msg {
			conv, err := opener.Open(ctx, l)
			return openedMsg{conv: conv, err: err}
		}
	case "b", "backspace":
		m.current = -1
		m.notice = ""
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

// closeAssistant tears the session down off the UI goroutine. confirm marks
// the learner's "doubt cleared" action.
func (m Model) closeAssistant(confirm bool) (tea.Model, tea.Cmd) {
	if m.conv == nil || m.closing {
		return m, nil
	}
	m.closing = true
	conv := m.conv
	return m, func() tea.Msg {
		if confirm {
			return closedMsg{err: conv.Confirm()}
		}
		return closedMsg{err: conv.Close()}
	}
}

func (m Model) quit() tea.Cmd {
	conv := m.conv
	if conv == nil {
		return tea.Quit
	}
	return tea.Sequence(func() tea.Msg {
		_ = conv.Close()
		return nil
	}, tea.Quit)
}

func (m Model) dismiss() Model {
	m.conv = nil
	m.opening = false
	m.closing = false
	m.status = assistant.Closed
	m.transcript = nil
	return m
}

func waitForUpdate(ch <-chan assistant.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return endedMsg{}
		}
		return updateMsg{update: u, updates: ch}
	}
}
