package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const searchPlaceholder = "Search messages (enter opens, esc closes)"

// searchState is the live search prompt. The viewport shows results while it
// is open.
type searchState struct {
	query     string
	seq       int
	results   []types.ChannelMessage
	err       error
	searching bool
}

// searchTickMsg fires once typing pauses for core.SearchDebounce.
type searchTickMsg struct {
	seq int
}

type searchResultsMsg struct {
	seq     int
	results []types.ChannelMessage
	err     error
}

func (m *Model) openSearch(query string) tea.Cmd {
	m.setTyping(false)
	m.search = &searchState{}
	m.input.Reset()
	m.input.Placeholder = searchPlaceholder
	m.status = ""
	if query != "" {
		m.input.SetValue(query)
		m.input.CursorEnd()
	}
	m.refreshViewport(false, "")
	return m.searchInputChanged()
}

func (m *Model) closeSearch() {
	if m.search == nil {
		return
	}
	m.search = nil
	m.input.Reset()
	m.input.Placeholder = inputPlaceholder
	m.refreshViewport(true, "")
}

// searchInputChanged schedules a search for the current input. Only the
// newest tick runs a query.
func (m *Model) searchInputChanged() tea.Cmd {
	s := m.search
	s.query = strings.TrimSpace(m.input.Value())
	s.seq++
	if s.query == "" {
		s.results = nil
		s.err = nil
		s.searching = false
		m.refreshViewport(false, "")
		return nil
	}
	seq := s.seq
	return tea.Tick(core.SearchDebounce, func(time.Time) tea.Msg {
		return searchTickMsg{seq: seq}
	})
}

func (m *Model) handleSearchTick(msg searchTickMsg) tea.Cmd {
	s := m.search
	if s == nil || msg.seq != s.seq || s.query == "" {
		return nil
	}
	if m.session.Store == nil {
		s.err = fmt.Errorf("search is unavailable offline")
		m.refreshViewport(false, "")
		return nil
	}
	s.searching = true
	m.refreshViewport(false, "")

	ctx, store := m.ctx, m.session.Store
	workspace, query, seq := m.channel.WorkspaceID, s.query, s.seq
	return func() tea.Msg {
		results, err := store.SearchMessages(ctx, workspace, query, core.SearchLimit)
		return searchResultsMsg{seq: seq, results: results, err: err}
	}
}

func (m *Model) handleSearchResults(msg searchResultsMsg) {
	s := m.search
	if s == nil || msg.seq != s.seq {
		return
	}
	s.searching = false
	s.results = msg.results
	s.err = msg.err
	if msg.err != nil {
		m.logger.Warn("search failed", "query", s.query, "error", msg.err)
	}
	m.refreshViewport(false, "")
}

// openSearchResult closes the prompt and opens the thread of the newest
// result in this channel.
func (m *Model) openSearchResult() (tea.Cmd, error) {
	s := m.search
	if len(s.results) == 0 {
		return nil, fmt.Errorf("no results")
	}
	for _, result := range s.results {
		if result.ChannelID != m.channel.ID {
			continue
		}
		m.closeSearch()
		m.closeThread()
		return m.openThread(result.ID)
	}
	first := s.results[0]
	return nil, fmt.Errorf("results are in #%s; run threadline chat %s", first.ChannelName, first.ChannelName)
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC, tea.KeyCtrlF:
		m.closeSearch()
		return m, nil
	case tea.KeyEnter:
		cmd, err := m.openSearchResult()
		if err != nil {
			m.status = err.Error()
		}
		return m, cmd
	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil
	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() == before {
		return m, cmd
	}
	return m, tea.Batch(cmd, m.searchInputChanged())
}

func (m *Model) renderSearch() string {
	s := m.search
	meta := lipgloss.NewStyle().Foreground(metaColor)
	switch {
	case s.query == "":
		return meta.Render("Type to search messages in this workspace.")
	case s.err != nil:
		return lipgloss.NewStyle().Foreground(noticeColor).Render("Search failed: " + s.err.Error())
	case s.searching && len(s.results) == 0:
		return meta.Render("Searching…")
	case len(s.results) == 0:
		return meta.Render(fmt.Sprintf("No messages match %q", s.query))
	}

	width := m.mainWidth()
	lines := []string{meta.Render(pluralize(len(s.results), "result", "results") + " for " + fmt.Sprintf("%q", s.query))}
	for _, result := range s.results {
		channel := lipgloss.NewStyle().Foreground(threadColor).Render("#" + result.ChannelName)
		author := lipgloss.NewStyle().Bold(true).Foreground(colorForUser(result.UserID)).Render(result.Author.DisplayName())
		stamp := meta.Render(result.CreatedAt.Local().Format("Jan 2 15:04"))
		body := strings.Join(strings.Fields(result.Text()), " ")
		line := channel + " " + author + " " + stamp + "  " + body
		if width > 0 {
			line = lipgloss.NewStyle().MaxWidth(width).Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
