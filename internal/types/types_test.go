package types

import (
	"testing"
	"time"
)

func TestCloneDoesNotShare(t *testing.T) {
	content := "hello"
	parent := "p1"
	last := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	msg := Message{
		MessageRow: MessageRow{ID: "m1", ParentID: &parent, Content: &content},
		Author:     &Profile{ID: "u1", Username: "alice"},
		Thread:     &ThreadSummary{ParentMessageID: "m1", ReplyCount: 1, LastReplyAt: &last},
		Reactions:  []Reaction{{ID: "r1", Emoji: "👍"}},
	}

	clone := msg.Clone()
	*clone.Content = "changed"
	*clone.ParentID = "p2"
	clone.Author.Username = "mallory"
	clone.Thread.ReplyCount = 9
	*clone.Thread.LastReplyAt = last.Add(time.Hour)
	clone.Reactions[0].Emoji = "🎉"

	if msg.Text() != "hello" || *msg.ParentID != "p1" || msg.Author.Username != "alice" {
		t.Fatalf("clone shared row or author: %+v", msg)
	}
	if msg.Thread.ReplyCount != 1 || !msg.Thread.LastReplyAt.Equal(last) || msg.Reactions[0].Emoji != "👍" {
		t.Fatalf("clone shared thread or reactions: %+v", msg)
	}
}

func TestDisplayNameAndIsReply(t *testing.T) {
	var missing *Profile
	if missing.DisplayName() != UnknownUsername {
		t.Fatalf("expected %q for nil profile", UnknownUsername)
	}
	if (&Profile{Username: "bob"}).DisplayName() != "bob" {
		t.Fatal("expected username")
	}

	empty := ""
	if (MessageRow{ParentID: &empty}).IsReply() || (MessageRow{}).IsReply() {
		t.Fatal("expected empty parent to mean root")
	}
	parent := "p1"
	if !(MessageRow{ParentID: &parent}).IsReply() {
		t.Fatal("expected reply")
	}
	if (Message{}).Text() != "" {
		t.Fatal("expected empty text for nil content")
	}
}

func TestInvitationRedeemable(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	later := now.Add(time.Hour)
	two := 2

	tests := []struct {
		name string
		inv  Invitation
		want bool
	}{
		{"unlimited", Invitation{}, true},
		{"expired", Invitation{ExpiresAt: &expired}, false},
		{"expires at now", Invitation{ExpiresAt: &now}, false},
		{"not yet expired", Invitation{ExpiresAt: &later}, true},
		{"uses left", Invitation{MaxUses: &two, UsedCount: 1}, true},
		{"used up", Invitation{MaxUses: &two, UsedCount: 2}, false},
	}
	for _, tt := range tests {
		if got := tt.inv.Redeemable(now); got != tt.want {
			t.Errorf("%s: Redeemable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, status := range []string{StatusActive, StatusAway, StatusDND, StatusOffline} {
		if !ValidStatus(status) {
			t.Errorf("expected %q to be valid", status)
		}
	}
	if ValidStatus("busy") || ValidStatus("") {
		t.Fatal("expected unknown statuses to be rejected")
	}
	if !(ProfileUpdate{}).Empty() {
		t.Fatal("expected zero update to be empty")
	}
}
