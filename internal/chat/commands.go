package chat

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/adamavenir/threadline/internal/types"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
)

const helpText = "/react <id> <emoji> · /edit <id> <text> · /rm <id> · /attach <path> · /detach · /thread <id> · /back · /search [query] · /quit"

var errAmbiguousID = errors.New("ambiguous message id")

type slashCommand struct {
	name string
	args string
}

// parseSlashCommand splits "/name rest" input. A doubled slash escapes a
// message that starts with "/".
func parseSlashCommand(value string) (slashCommand, bool) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "/") || strings.HasPrefix(value, "//") {
		return slashCommand{}, false
	}
	name, args, _ := strings.Cut(value[1:], " ")
	if name == "" {
		return slashCommand{}, false
	}
	return slashCommand{name: strings.ToLower(name), args: strings.TrimSpace(args)}, true
}

// resolveMessage finds the loaded message named by ref, a full id or a
// display prefix.
func resolveMessage(messages []types.Message, ref string) (types.Message, error) {
	var matches []types.Message
	for _, msg := range messages {
		if msg.ID == ref {
			return msg, nil
		}
		if core.MatchesIDPrefix(msg.ID, ref) {
			matches = append(matches, msg)
		}
	}
	switch len(matches) {
	case 0:
		return types.Message{}, fmt.Errorf("%w: %s", core.ErrNotLoaded, ref)
	case 1:
		return matches[0], nil
	default:
		return types.Message{}, fmt.Errorf("%w: %s matches %d messages", errAmbiguousID, ref, len(matches))
	}
}

func splitRef(args string) (string, string) {
	ref, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	return ref, strings.TrimSpace(rest)
}

// runCommand executes a slash command against the active view.
func (m *Model) runCommand(cmd slashCommand) (tea.Cmd, error) {
	v := m.active()
	switch cmd.name {
	case "help", "h":
		m.status = helpText
		return nil, nil

	case "quit", "q":
		return tea.Quit, nil

	case "react":
		ref, emoji := splitRef(cmd.args)
		msg, err := resolveMessage(v.state.Messages, ref)
		if err != nil {
			return nil, err
		}
		return nil, v.engine.React(msg.ID, emoji)

	case "edit":
		ref, content := splitRef(cmd.args)
		msg, err := resolveMessage(v.state.Messages, ref)
		if err != nil {
			return nil, err
		}
		if msg.UserID != m.session.UserID {
			return nil, fmt.Errorf("can only edit your own messages")
		}
		if content == "" {
			return nil, core.ErrEmptyMessage
		}
		v.engine.Edit(msg.ID, content)
		return nil, nil

	case "rm", "delete":
		msg, err := resolveMessage(v.state.Messages, cmd.args)
		if err != nil {
			return nil, err
		}
		if msg.UserID != m.session.UserID {
			return nil, fmt.Errorf("can only delete your own messages")
		}
		v.engine.Delete(msg.ID)
		return nil, nil

	case "attach":
		return nil, m.attachFile(cmd.args)

	case "detach":
		m.pendingFiles = nil
		m.status = "attachments cleared"
		return nil, nil

	case "thread", "t":
		if m.thread != nil {
			return nil, fmt.Errorf("already in a thread; /back first")
		}
		msg, err := resolveMessage(m.main.state.Messages, cmd.args)
		if err != nil {
			return nil, err
		}
		return m.openThread(msg.ID)

	case "back", "b":
		m.closeThread()
		return nil, nil

	case "search", "s":
		return m.openSearch(cmd.args), nil
	}
	return nil, fmt.Errorf("unknown command /%s", cmd.name)
}

func (m *Model) attachFile(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /attach <path>")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > attach.MaxFileSize {
		return fmt.Errorf("%s is %s; the limit is %s", path, humanize.Bytes(uint64(info.Size())), humanize.Bytes(attach.MaxFileSize))
	}
	m.pendingFiles = append(m.pendingFiles, path)
	m.status = "attached " + info.Name() + " (" + humanize.Bytes(uint64(info.Size())) + ")"
	return nil
}

func (m *Model) openThread(rootID string) (tea.Cmd, error) {
	m.setTyping(false)
	thread := m.newView(timeline.Scope{ChannelID: m.channel.ID, ThreadID: rootID})
	if err := thread.engine.Open(m.ctx); err != nil {
		_ = thread.engine.Close()
		return nil, err
	}
	m.thread = thread
	m.status = ""
	m.refreshViewport(true, "")
	return waitForState(thread.engine), nil
}

func (m *Model) closeThread() {
	if m.thread == nil {
		return
	}
	m.setTyping(false)
	_ = m.thread.engine.Close()
	m.thread = nil
	m.status = ""
	m.refreshViewport(true, "")
}

// send posts the input to the active view along with any attached files.
func (m *Model) send(value string) {
	files := make([]attach.File, 0, len(m.pendingFiles))
	for _, path := range m.pendingFiles {
		files = append(files, attach.FromPath(path))
	}
	m.active().engine.Send(value, files)
	m.pendingFiles = nil
	m.typing = false
}

// setTyping forwards typing to the active engine. Repeated true calls keep
// the assertion alive; the engine throttles what it publishes.
func (m *Model) setTyping(typing bool) {
	if typing == m.typing {
		if typing {
			m.active().engine.SetTyping(true)
		}
		return
	}
	m.typing = typing
	m.active().engine.SetTyping(typing)
}
