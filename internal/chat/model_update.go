package chat

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.MouseMsg:
		return m.handleMouseMsg(msg)
	case stateMsg:
		return m.handleStateMsg(msg)
	case engineClosedMsg:
		return m, nil
	case searchTickMsg:
		return m, m.handleSearchTick(msg)
	case searchResultsMsg:
		m.handleSearchResults(msg)
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleStateMsg(msg stateMsg) (tea.Model, tea.Cmd) {
	v := m.viewFor(msg.engine)
	if v == nil {
		// A closed thread view; its stream is draining.
		return m, nil
	}
	anchor := ""
	if msg.state.Prepended > v.lastPrepended && len(v.state.Messages) > 0 {
		anchor = v.state.Messages[0].ID
	}
	v.lastPrepended = msg.state.Prepended
	v.state = msg.state
	m.restoreDraft(v)
	if v == m.active() {
		m.refreshViewport(false, anchor)
	}
	return m, waitForState(msg.engine)
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.search != nil {
		return m.handleSearchKey(msg)
	}
	switch msg.Type {
	case tea.KeyCtrlF:
		return m, m.openSearch("")
	case tea.KeyCtrlC:
		if m.input.Value() != "" || len(m.pendingFiles) > 0 {
			m.input.Reset()
			m.pendingFiles = nil
			m.setTyping(false)
			m.resize()
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyEsc:
		if m.active().state.Notice != "" {
			m.active().engine.DismissNotice()
			return m, nil
		}
		if m.thread != nil {
			m.closeThread()
		}
		return m, nil
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyCtrlJ:
		m.insertInputText("\n")
		return m, nil
	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		m.maybeLoadOlder()
		return m, nil
	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	if msg.Type == tea.KeyRunes && msg.Paste {
		m.insertInputText(normalizeNewlines(string(msg.Runes)))
		m.setTyping(true)
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.setTyping(strings.TrimSpace(after) != "" && !strings.HasPrefix(after, "/"))
		m.resize()
	}
	return m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" && len(m.pendingFiles) == 0 {
		return m, nil
	}
	if cmd, ok := parseSlashCommand(value); ok {
		m.input.Reset()
		teaCmd, err := m.runCommand(cmd)
		if err != nil {
			m.status = err.Error()
		}
		m.resize()
		return m, teaCmd
	}
	value = strings.TrimPrefix(value, "/")
	m.send(value)
	m.input.Reset()
	m.status = ""
	m.resize()
	m.viewport.GotoBottom()
	return m, nil
}

func (m *Model) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.LineUp(3)
		m.maybeLoadOlder()
		return m, nil
	case tea.MouseButtonWheelDown:
		m.viewport.LineDown(3)
		return m, nil
	case tea.MouseButtonLeft:
		return m.handleClick(msg)
	}
	return m, nil
}

// handleClick reacts with the same emoji when a pill is clicked and opens
// a thread when its reply line is clicked.
func (m *Model) handleClick(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	v := m.active()
	for _, message := range v.state.Messages {
		for _, reaction := range message.Reactions {
			id := zoneReactPrefix + message.ID + ":" + reaction.Emoji
			if z := m.zoneManager.Get(id); z != nil && z.InBounds(msg) {
				if err := v.engine.React(message.ID, reaction.Emoji); err != nil {
					m.status = err.Error()
				}
				return m, nil
			}
		}
		if m.thread != nil || message.Thread == nil {
			continue
		}
		if z := m.zoneManager.Get(zoneThreadPrefix + message.ID); z != nil && z.InBounds(msg) {
			cmd, err := m.openThread(message.ID)
			if err != nil {
				m.status = err.Error()
			}
			return m, cmd
		}
	}
	return m, nil
}
