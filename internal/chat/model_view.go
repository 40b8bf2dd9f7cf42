package chat

import (
	"fmt"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

func (m *Model) View() string {
	lines := []string{
		m.renderHeader(),
		m.viewport.View(),
		m.renderTyping(),
		m.input.View(),
		m.statusLine(),
	}
	return m.zoneManager.Scan(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderHeader() string {
	style := lipgloss.NewStyle().Bold(true).Foreground(textColor)
	if width := m.mainWidth(); width > 0 {
		style = style.Width(width)
	}
	return style.Render(m.breadcrumb())
}

func (m *Model) breadcrumb() string {
	label := "#" + m.channel.Name
	if m.thread != nil {
		label += " ❯ thread " + core.ShortID(m.thread.state.Scope.ThreadID)
	}
	if topic := m.channel.Topic; topic != nil && *topic != "" && m.thread == nil {
		label += lipgloss.NewStyle().Foreground(metaColor).Bold(false).Render(" · " + *topic)
	}
	return label
}

// renderTyping shows who else is typing, or an empty line.
func (m *Model) renderTyping() string {
	names := m.active().state.Typing
	style := lipgloss.NewStyle().Foreground(metaColor).Italic(true)
	return style.Render(typingLine(names))
}

func typingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%s and %d others are typing…", names[0], len(names)-1)
	}
}

func (m *Model) statusLine() string {
	state := m.active().state
	left := m.status
	style := lipgloss.NewStyle().Foreground(statusColor)
	if state.Notice != "" {
		left = state.Notice
		style = style.Foreground(noticeColor)
	}
	if len(m.pendingFiles) > 0 {
		files := pluralize(len(m.pendingFiles), "file", "files") + " attached"
		if left == "" {
			left = files
		} else {
			left += " · " + files
		}
	}
	right := state.Phase.String()
	return style.Render(alignStatusLine(left, right, m.mainWidth()))
}

func alignStatusLine(left, right string, width int) string {
	if width <= 0 || right == "" {
		return left
	}
	leftWidth := ansi.StringWidth(left)
	rightWidth := ansi.StringWidth(right)
	if leftWidth+rightWidth+1 > width {
		return left
	}
	return left + strings.Repeat(" ", width-leftWidth-rightWidth) + right
}
