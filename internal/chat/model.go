package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adamavenir/threadline/internal/platform"
	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
)

// Options configure chat.
type Options struct {
	Session *platform.Session
	Channel types.Channel
	// ThreadID opens the thread rooted at that message instead of the channel.
	ThreadID string
	// Notify raises desktop notifications for replies from other users.
	Notify bool
}

// Run starts the chat UI and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	model, err := NewModel(opts)
	if err != nil {
		return err
	}
	defer model.Close()

	fmt.Printf("\033]0;%s\007", "threadline · #"+opts.Channel.Name)

	if err := model.open(ctx); err != nil {
		return err
	}
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err = program.Run()
	return err
}

// view is one open timeline and the last snapshot it produced.
type view struct {
	engine *timeline.Engine
	state  timeline.State
	// lastDraftSeq is the DraftSeq already copied back into the input.
	lastDraftSeq int
	// lastPrepended is the State.Prepended total last rendered.
	lastPrepended int
}

// Model implements the chat UI.
type Model struct {
	ctx     context.Context
	session *platform.Session
	channel types.Channel
	logger  *slog.Logger
	notify  bool

	main   *view
	thread *view

	viewport    viewport.Model
	input       textarea.Model
	zoneManager *zone.Manager

	width         int
	height        int
	status        string
	initialScroll bool
	// pendingFiles are attached with the next send.
	pendingFiles []string
	typing       bool
	search       *searchState
	// lines maps message ids to their first line in the viewport content.
	lines map[string]int
}

// NewModel builds the model for opts. Engines start on open.
func NewModel(opts Options) (*Model, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("chat requires a session")
	}
	if opts.Channel.ID == "" {
		return nil, fmt.Errorf("chat requires a channel")
	}
	m := &Model{
		ctx:           context.Background(),
		session:       opts.Session,
		channel:       opts.Channel,
		logger:        opts.Session.Logger,
		notify:        opts.Notify,
		viewport:      viewport.New(0, 0),
		input:         newInputModel(),
		zoneManager:   zone.New(),
		initialScroll: true,
	}
	m.main = m.newView(timeline.Scope{ChannelID: opts.Channel.ID})
	if opts.ThreadID != "" {
		m.thread = m.newView(timeline.Scope{ChannelID: opts.Channel.ID, ThreadID: opts.ThreadID})
	}
	return m, nil
}

func (m *Model) newView(scope timeline.Scope) *view {
	engine := timeline.New(m.session, scope, timeline.Options{Notify: m.notifyReply})
	return &view{engine: engine, state: engine.State()}
}

func (m *Model) open(ctx context.Context) error {
	m.ctx = ctx
	if err := m.main.engine.Open(ctx); err != nil {
		return err
	}
	if m.thread != nil {
		return m.thread.engine.Open(ctx)
	}
	return nil
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, waitForState(m.main.engine)}
	if m.thread != nil {
		cmds = append(cmds, waitForState(m.thread.engine))
	}
	return tea.Batch(cmds...)
}

// Close stops every open engine.
func (m *Model) Close() {
	if m.thread != nil {
		_ = m.thread.engine.Close()
	}
	_ = m.main.engine.Close()
}

// active is the view the viewport shows and the input posts to.
func (m *Model) active() *view {
	if m.thread != nil {
		return m.thread
	}
	return m.main
}

func (m *Model) viewFor(engine *timeline.Engine) *view {
	switch {
	case m.main != nil && m.main.engine == engine:
		return m.main
	case m.thread != nil && m.thread.engine == engine:
		return m.thread
	}
	return nil
}

// stateMsg carries a snapshot from an engine.
type stateMsg struct {
	engine *timeline.Engine
	state  timeline.State
}

// engineClosedMsg reports that an engine's update stream ended.
type engineClosedMsg struct {
	engine *timeline.Engine
}

func waitForState(engine *timeline.Engine) tea.Cmd {
	return func() tea.Msg {
		state, ok := <-engine.Updates()
		if !ok {
			return engineClosedMsg{engine: engine}
		}
		return stateMsg{engine: engine, state: state}
	}
}
