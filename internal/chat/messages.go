package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const (
	zoneReactPrefix  = "react:"
	zoneThreadPrefix = "thread:"
)

// renderOptions carries everything renderMessage needs besides the message.
type renderOptions struct {
	width       int
	selfID      string
	threadScope bool
	highlighted bool
	now         time.Time
	mark        func(id, content string) string
}

func (m *Model) renderMessages() string {
	content, _ := m.layoutMessages()
	return content
}

// layoutMessages renders the active view and reports the first content line
// of every rendered message.
func (m *Model) layoutMessages() (string, map[string]int) {
	state := m.active().state
	width := m.mainWidth()
	now := time.Now()
	meta := lipgloss.NewStyle().Foreground(metaColor)

	if len(state.Messages) == 0 {
		switch state.Phase {
		case timeline.PhaseIdle, timeline.PhaseLoading:
			return meta.Render("Loading messages…"), nil
		case timeline.PhaseError:
			if timeline.IsThreadClosed(state.Err) {
				return meta.Render("This thread is no longer available. /back to return."), nil
			}
			return lipgloss.NewStyle().Foreground(noticeColor).Render(state.Notice), nil
		}
	}

	blocks := make([]string, 0, len(state.Messages)+2)
	switch {
	case state.Phase == timeline.PhaseLoadingMore:
		blocks = append(blocks, meta.Render("Loading older messages…"))
	case !state.HasMore:
		blocks = append(blocks, beginningMarker(m.channel.Name, state.Scope, width))
	}

	opts := renderOptions{
		width:       width,
		selfID:      m.session.UserID,
		threadScope: state.Scope.IsThread(),
		now:         now,
		mark:        m.zoneManager.Mark,
	}
	lines := make(map[string]int, len(state.Messages))
	line := 0
	for _, block := range blocks {
		line += lipgloss.Height(block) + 1
	}
	for i, msg := range state.Messages {
		opts.highlighted = state.Highlighted(msg.ID, now)
		block := renderMessage(msg, opts)
		lines[msg.ID] = line
		blocks = append(blocks, block)
		line += lipgloss.Height(block) + 1
		if opts.threadScope && i == 0 && msg.ID == state.Scope.ThreadID {
			divider := meta.Render(fmt.Sprintf("── %s ──", pluralize(len(state.Messages)-1, "reply", "replies")))
			blocks = append(blocks, divider)
			line += lipgloss.Height(divider) + 1
		}
	}
	return strings.Join(blocks, "\n\n"), lines
}

func beginningMarker(channelName string, scope timeline.Scope, width int) string {
	label := "beginning of #" + channelName
	if scope.IsThread() {
		label = "start of thread"
	}
	style := lipgloss.NewStyle().Foreground(metaColor).Italic(true)
	if width > 0 {
		style = style.Width(width).Align(lipgloss.Center)
	}
	return style.Render("── " + label + " ──")
}

func renderMessage(msg types.Message, opts renderOptions) string {
	lines := []string{renderByline(msg)}

	if body := msg.Text(); body != "" {
		style := lipgloss.NewStyle().Foreground(textColor)
		if opts.width > 0 {
			style = style.Width(opts.width)
		}
		lines = append(lines, style.Render(highlightCodeBlocks(body)))
	}
	for _, attachment := range msg.Attachments {
		lines = append(lines, formatAttachment(attachment))
	}
	if pills := formatReactionPills(msg, opts); pills != "" {
		lines = append(lines, pills)
	}
	if !opts.threadScope {
		if line := formatThreadLine(msg, opts); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func renderByline(msg types.Message) string {
	color := colorForUser(msg.UserID)
	name := lipgloss.NewStyle().
		Background(color).
		Foreground(contrastTextColor(color)).
		Bold(true).
		Render(" " + msg.Author.DisplayName() + " ")

	meta := msg.CreatedAt.Local().Format("15:04") + " #" + core.ShortID(msg.ID)
	if msg.IsEdited {
		meta += " (edited)"
	}
	return name + " " + lipgloss.NewStyle().Foreground(metaColor).Render(meta)
}

func formatAttachment(attachment types.Attachment) string {
	size := ""
	if attachment.FileSize > 0 {
		size = " (" + humanize.Bytes(uint64(attachment.FileSize)) + ")"
	}
	return lipgloss.NewStyle().Foreground(threadColor).Render("📎 "+attachment.FileName) +
		lipgloss.NewStyle().Foreground(metaColor).Render(size)
}

// formatReactionPills renders one clickable pill per emoji. Pills the
// current user contributed to are emphasized.
func formatReactionPills(msg types.Message, opts renderOptions) string {
	groups := timeline.GroupReactions(msg.Reactions)
	if len(groups) == 0 {
		return ""
	}
	pill := lipgloss.NewStyle().Background(pillBg).Padding(0, 1)
	mine := pill.Foreground(reactionColor).Bold(true)

	pills := make([]string, 0, len(groups))
	for _, group := range groups {
		style := pill
		for _, userID := range group.UserIDs {
			if userID == opts.selfID {
				style = mine
				break
			}
		}
		rendered := style.Render(timeline.FormatReactionGroup(group))
		if opts.mark != nil {
			rendered = opts.mark(zoneReactPrefix+msg.ID+":"+group.Emoji, rendered)
		}
		pills = append(pills, rendered)
	}
	treeBar := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("└─")
	return treeBar + " " + strings.Join(pills, " ")
}

func formatThreadLine(msg types.Message, opts renderOptions) string {
	if msg.Thread == nil || msg.Thread.ReplyCount == 0 {
		return ""
	}
	text := "↳ " + pluralize(msg.Thread.ReplyCount, "reply", "replies")
	if avatars := replyAvatars(msg.Replies); avatars != "" {
		text += " " + avatars
	}
	if msg.Thread.LastReplyAt != nil {
		text += " · last " + humanize.RelTime(*msg.Thread.LastReplyAt, opts.now, "ago", "from now")
	}

	style := lipgloss.NewStyle().Foreground(threadColor)
	if opts.highlighted {
		style = style.Foreground(highlightColor).Bold(true)
	}
	rendered := style.Render(text)
	if opts.mark != nil {
		rendered = opts.mark(zoneThreadPrefix+msg.ID, rendered)
	}
	return rendered
}

// replyAvatars draws a colored initial for each previewed replier.
func replyAvatars(replies []types.ReplyPreview) string {
	if len(replies) == 0 {
		return ""
	}
	dots := make([]string, 0, len(replies))
	for _, reply := range replies {
		dots = append(dots, lipgloss.NewStyle().Foreground(colorForUser(reply.UserID)).Render("●"))
	}
	return strings.Join(dots, "")
}

func pluralize(count int, singular, plural string) string {
	if count == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %s", count, plural)
}
