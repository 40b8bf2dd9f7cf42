package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/dustin/go-humanize"
)

const timeLayout = "2006-01-02 15:04"

// FormatMessage renders one message as a single plain-text line, followed by
// attachment and thread lines when present.
func FormatMessage(msg types.Message, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] #%s @%s: %s", msg.CreatedAt.Local().Format(timeLayout), core.ShortID(msg.ID), msg.Author.DisplayName(), msg.Text())
	if msg.IsEdited {
		b.WriteString(" (edited)")
	}
	if groups := timeline.GroupReactions(msg.Reactions); len(groups) > 0 {
		pills := make([]string, 0, len(groups))
		for _, group := range groups {
			pills = append(pills, timeline.FormatReactionGroup(group))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(pills, " "))
	}
	for _, attachment := range msg.Attachments {
		fmt.Fprintf(&b, "\n    📎 %s (%s)", attachment.FileName, humanize.Bytes(uint64(attachment.FileSize)))
	}
	if msg.Thread != nil && msg.Thread.ReplyCount > 0 {
		line := fmt.Sprintf("\n    ↳ %s", pluralize(msg.Thread.ReplyCount, "reply", "replies"))
		if msg.Thread.LastReplyAt != nil {
			line += " · last " + humanize.RelTime(*msg.Thread.LastReplyAt, now, "ago", "from now")
		}
		b.WriteString(line)
	}
	return b.String()
}

// FormatChannelMessage prefixes a message with its channel, for listings that
// span channels.
func FormatChannelMessage(msg types.ChannelMessage, now time.Time) string {
	return "#" + msg.ChannelName + " " + FormatMessage(msg.Message, now)
}

func pluralize(count int, singular, plural string) string {
	if count == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %s", count, plural)
}
