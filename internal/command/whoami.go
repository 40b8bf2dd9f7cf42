package command

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewWhoamiCmd creates the whoami command.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			session := ctx.Session
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"user_id":      session.UserID,
					"username":     session.Username,
					"workspace_id": session.WorkspaceID,
					"backend":      session.Backend,
					"config":       ctx.Config.Path,
				})
			}

			username := session.Username
			if username == "" {
				username = "(no profile)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "@%s (%s)\n", username, session.UserID)
			fmt.Fprintf(out, "  workspace: %s\n", session.WorkspaceID)
			fmt.Fprintf(out, "  backend:   %s\n", session.Backend)
			return nil
		},
	}
}
