package chat

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

func TestParseSlashCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  string
		ok    bool
	}{
		{"/react abc 👍", "react", "abc 👍", true},
		{"  /EDIT abc new text  ", "edit", "abc new text", true},
		{"/back", "back", "", true},
		{"//not a command", "", "", false},
		{"hello /react", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		cmd, ok := parseSlashCommand(tt.input)
		if ok != tt.ok || cmd.name != tt.name || cmd.args != tt.args {
			t.Errorf("%q: got %+v (%v), want %s %q (%v)", tt.input, cmd, ok, tt.name, tt.args, tt.ok)
		}
	}
}

func TestResolveMessageByPrefix(t *testing.T) {
	messages := []types.Message{
		{MessageRow: types.MessageRow{ID: "3f2a9c10-0000-4000-8000-000000000001"}},
		{MessageRow: types.MessageRow{ID: "3f2b1111-0000-4000-8000-000000000002"}},
		{MessageRow: types.MessageRow{ID: "77aa0000-0000-4000-8000-000000000003"}},
	}

	msg, err := resolveMessage(messages, "#3f2a9c10")
	if err != nil || msg.ID != messages[0].ID {
		t.Fatalf("expected first message, got %v / %v", msg.ID, err)
	}
	msg, err = resolveMessage(messages, messages[2].ID)
	if err != nil || msg.ID != messages[2].ID {
		t.Fatalf("expected exact id match, got %v / %v", msg.ID, err)
	}
	if _, err := resolveMessage(messages, "3f2"); !errors.Is(err, errAmbiguousID) {
		t.Fatalf("expected ambiguous prefix error, got %v", err)
	}
	if _, err := resolveMessage(messages, "ffff"); !errors.Is(err, core.ErrNotLoaded) {
		t.Fatalf("expected not loaded error, got %v", err)
	}
}

func TestAttachFileChecksPath(t *testing.T) {
	m := newTestModel(t)
	dir := t.TempDir()
	if err := m.attachFile(dir); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Fatalf("expected directory rejection, got %v", err)
	}
	if err := m.attachFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected missing file rejection")
	}

	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.attachFile(path); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(m.pendingFiles) != 1 || !strings.Contains(m.status, "notes.txt") {
		t.Fatalf("unexpected pending state %v / %q", m.pendingFiles, m.status)
	}
	if _, err := m.runCommand(slashCommand{name: "detach"}); err != nil || len(m.pendingFiles) != 0 {
		t.Fatalf("expected detach to clear files, got %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	m := newTestModel(t)
	if _, err := m.runCommand(slashCommand{name: "frobnicate"}); err == nil {
		t.Fatal("expected unknown command error")
	}
}
