package command

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommandVersion(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd, "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(output, "threadline version test") {
		t.Fatalf("expected version output, got %q", output)
	}
}

func TestRootCommandHelp(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, want := range []string{"realtime channels and threads", "history", "watch", "chat"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in help output, got %q", want, output)
		}
	}
}

func TestCommandsRequireInit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("THREADLINE_USER_ID", "")

	cmd := NewRootCmd("test")
	output, err := executeCommand(cmd, "whoami")
	if !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if !strings.Contains(output, "threadline init") {
		t.Fatalf("expected init hint, got %q", output)
	}
}

func TestIsSchemaError(t *testing.T) {
	if !isSchemaError(errors.New("SQL logic error: no such column: m.parent_id")) {
		t.Fatal("expected schema error")
	}
	if isSchemaError(errors.New("connection refused")) || isSchemaError(nil) {
		t.Fatal("expected non-schema errors to be ignored")
	}
}
