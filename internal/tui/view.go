package tui

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/MrWong99/raisehand/internal/assistant"
)

const defaultWidth = 80

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	pausedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	userStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	botStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("156"))
	buttonStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).
			Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

func (m Model) View() string {
	switch {
	case m.current < 0:
		return m.listView()
	case m.assistantVisible():
		return m.lessonView() + "\n" + m.assistantView()
	default:
		return m.lessonView()
	}
}

func (m Model) wrapWidth() int {
	if m.width <= 0 {
		return defaultWidth
	}
	return m.width
}

func (m Model) listView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("AI Learning Companion"))
	b.WriteString("\n\n")
	if len(m.lessons) == 0 {
		b.WriteString(subtleStyle.Render("No lessons configured."))
		b.WriteString("\n")
	}
	for i, l := range m.lessons {
		line := fmt.Sprintf("%s  %s", l.Title, subtleStyle.Render(l.Grade+" • "+l.Subject))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render("[↑/↓] choose  [enter] open  [q] quit"))
	return b.String()
}

func (m Model) lessonView() string {
	l := m.lessons[m.current]
	width := m.wrapWidth()

	var b strings.Builder
	b.WriteString(titleStyle.Render(l.Title))
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(l.Grade + " • " + l.Subject))
	b.WriteString("\n\n")

	if m.pause != nil && m.pause.Paused() {
		b.WriteString(pausedStyle.Render("PAUSED"))
		b.WriteString("  ")
		b.WriteString(subtleStyle.Render("AI Assistant is active."))
	} else {
		b.WriteString(subtleStyle.Render("▶ Playing"))
		if l.VideoID != "" {
			b.WriteString(subtleStyle.Render("  youtube.com/watch?v=" + l.VideoID))
		}
	}
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(wordwrap.String(m.notice, width)))
		b.WriteString("\n")
	}

	if !m.assistantVisible() {
		b.WriteString("\n")
		b.WriteString(subtleStyle.Render("[h] Raise Hand & Ask Question  [b] Back to Lessons  [q] quit"))
	}
	return b.String()
}

func (m Model) assistantView() string {
	inner := m.wrapWidth() - 4
	if inner < 20 {
		inner = 20
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("AI Assistant"))
	b.WriteString("\n\n")

	for _, e := range m.transcript {
		style, who := botStyle, "Assistant"
		if e.Speaker == assistant.SpeakerUser {
			style, who = userStyle, "You"
		}
		b.WriteString(style.Render(wordwrap.String(who+": "+e.Text, inner)))
		b.WriteString("\n")
		if len(e.Sources) > 0 {
			b.WriteString(subtleStyle.Render("Sources:"))
			b.WriteString("\n")
			for _, s := range e.Sources {
				b.WriteString(subtleStyle.Render(wordwrap.String("  • "+sourceLabel(s), inner)))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(m.statusView(inner))
	return panelStyle.Width(inner).Render(b.String())
}

func (m Model) statusView(width int) string {
	if m.opening {
		return subtleStyle.Render("Initializing...")
	}
	switch m.status {
	case assistant.Initializing:
		return subtleStyle.Render("Initializing...")
	case assistant.Listening:
		title := m.lessons[m.current].Title
		return selectedStyle.Render("Listening...") + "\n" +
			subtleStyle.Render(wordwrap.String(fmt.Sprintf("Ask me anything about %q", title), width)) + "\n" +
			subtleStyle.Render("[esc] close")
	case assistant.Speaking:
		return botStyle.Render("Answering your question...") + "\n" + subtleStyle.Render("[esc] close")
	case assistant.AwaitingConfirmation:
		return "Is your doubt cleared?\n" + buttonStyle.Render("[enter] Yes, Resume Video")
	case assistant.Error:
		return errorStyle.Render("Sorry, an error occurred. Please try again.") + "\n" + subtleStyle.Render("[esc] close")
	default:
		return ""
	}
}

// sourceLabel is the citation title, falling back to the host of its URI.
func sourceLabel(s assistant.WebSource) string {
	if s.Title != "" {
		return s.Title
	}
	if u, err := url.Parse(s.URI); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return s.URI
}
