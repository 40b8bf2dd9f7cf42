package chat

import (
	"github.com/charmbracelet/lipgloss"
)

// loadOlderThreshold is how close to the top, in lines, scrolling must get
// before older history is requested.
const loadOlderThreshold = 5

// refreshViewport re-renders the active view. A non-empty anchorID names the
// message that was first before older rows were prepended; the offset moves
// by however far that message moved, so the line under the reader stays put.
func (m *Model) refreshViewport(scrollToBottom bool, anchorID string) {
	if m.search != nil {
		m.lines = nil
		m.viewport.SetContent(m.renderSearch())
		m.viewport.GotoTop()
		return
	}
	wasAtBottom := m.atBottom()
	anchorBefore, anchored := m.lines[anchorID]

	content, lines := m.layoutMessages()
	// Keep content taller than the viewport so the first line is not cut off.
	if height := lipgloss.Height(content); height > 0 && height <= m.viewport.Height {
		content = "\n" + content
		for id := range lines {
			lines[id]++
		}
	}
	m.viewport.SetContent(content)
	m.lines = lines

	anchorAfter, stillThere := lines[anchorID]
	switch {
	case scrollToBottom:
		m.viewport.GotoBottom()
	case anchorID != "" && anchored && stillThere:
		if delta := anchorAfter - anchorBefore; delta != 0 {
			m.viewport.SetYOffset(m.viewport.YOffset + delta)
		}
	case wasAtBottom:
		m.viewport.GotoBottom()
	default:
		if maxOffset := m.maxOffset(); m.viewport.YOffset > maxOffset {
			m.viewport.SetYOffset(maxOffset)
		}
	}
}

func (m *Model) maxOffset() int {
	offset := m.viewport.TotalLineCount() - m.viewport.Height
	if offset < 0 {
		return 0
	}
	return offset
}

func (m *Model) nearTop() bool {
	return m.viewport.YOffset <= loadOlderThreshold
}

// atBottom reports whether the viewport is within a few lines of the end.
func (m *Model) atBottom() bool {
	if m.viewport.Height <= 0 {
		return true
	}
	return m.viewport.YOffset >= m.maxOffset()-3
}

// maybeLoadOlder asks the active engine for history once scrolling reaches
// the top. The engine ignores the request while a page is in flight or once
// history is exhausted.
func (m *Model) maybeLoadOlder() {
	if m.search != nil {
		return
	}
	state := m.active().state
	if !m.nearTop() || !state.HasMore {
		return
	}
	m.active().engine.LoadOlder()
}
