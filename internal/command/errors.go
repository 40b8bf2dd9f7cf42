package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/spf13/cobra"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if isSchemaError(err) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: This looks like a schema mismatch. Try: threadline init --force")
	}
	if errors.Is(err, errNotInitialized) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: run 'threadline init --username <name>' first")
	}
	if errors.Is(err, core.ErrInvitationInvalid) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: ask a workspace member for a fresh code")
	}
	if errors.Is(err, core.ErrNestedReply) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: reply to the thread root instead")
	}

	return err
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
