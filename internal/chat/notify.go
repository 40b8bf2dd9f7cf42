package chat

import (
	"context"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/gen2brain/beeep"
)

const (
	notifyBodyLimit     = 100
	notifyLookupTimeout = 2 * time.Second
)

// notifier is swapped in tests.
var notifier = func(title, body string) error {
	return beeep.Notify(title, body, "")
}

// notifyReply runs on an engine goroutine; it must not touch model state
// beyond the read-only session.
func (m *Model) notifyReply(event timeline.Notify) {
	if !m.notify {
		return
	}
	author := event.Reply.UserID
	ctx, cancel := context.WithTimeout(context.Background(), notifyLookupTimeout)
	defer cancel()
	if profile, err := m.session.Store.GetProfile(ctx, event.Reply.UserID); err == nil {
		author = profile.DisplayName()
	}
	body := ""
	if event.Reply.Content != nil {
		body = *event.Reply.Content
	}
	title := replyNotificationTitle(m.channel.Name, author)
	if err := notifier(title, truncateNotification(body, notifyBodyLimit)); err != nil {
		m.logger.Debug("notification failed", "error", err)
	}
}

func replyNotificationTitle(channelName, author string) string {
	title := author + " replied in a thread"
	if channelName != "" {
		title = "#" + channelName + " · " + title
	}
	return title
}

func truncateNotification(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
