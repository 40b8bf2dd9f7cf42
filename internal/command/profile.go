package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/spf13/cobra"
)

// NewProfileCmd creates the profile command.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile [user]",
		Short: "Show a profile (yours by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			ref := ctx.Session.UserID
			if len(args) == 1 {
				ref = args[0]
			}
			profile, err := ctx.Session.Store.FindProfile(cmd.Context(), ref)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return writeCommandError(cmd, fmt.Errorf("user not found: %s", ref))
				}
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(profile)
			}
			printProfile(cmd.OutOrStdout(), profile)
			return nil
		},
	}
	cmd.AddCommand(newProfileSetCmd())
	return cmd
}

func newProfileSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change your username, full name or status",
		Long: "Change your profile. Only the flags you pass are changed; pass an empty\n" +
			"value to clear --full-name or --status.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			var update types.ProfileUpdate
			flags := map[string]**string{
				"username":  &update.Username,
				"full-name": &update.FullName,
				"status":    &update.Status,
			}
			for name, target := range flags {
				if cmd.Flags().Changed(name) {
					value, _ := cmd.Flags().GetString(name)
					*target = &value
				}
			}
			if update.Empty() {
				return writeCommandError(cmd, fmt.Errorf("nothing to change; pass --username, --full-name or --status"))
			}

			profile, err := ctx.Session.Store.UpdateProfile(cmd.Context(), ctx.Session.UserID, update)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			// Config.Username is cleared under --as, so another user's rename
			// never reaches the config file.
			if update.Username != nil && ctx.Config.Username != "" {
				if err := rewriteConfig(ctx, func(cfg *core.Config) { cfg.Username = profile.Username }); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			ctx.Logger.Info("profile updated", "user", profile.ID)

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(profile)
			}
			printProfile(cmd.OutOrStdout(), profile)
			return nil
		},
	}
	cmd.Flags().String("username", "", "new username")
	cmd.Flags().String("full-name", "", "full name")
	cmd.Flags().String("status", "", "active, away, dnd or offline")
	return cmd
}

func printProfile(out io.Writer, profile *types.Profile) {
	fmt.Fprintf(out, "@%s (%s)\n", profile.DisplayName(), profile.ID)
	if profile.FullName != nil {
		fmt.Fprintf(out, "  name:   %s\n", *profile.FullName)
	}
	if profile.Status != nil {
		fmt.Fprintf(out, "  status: %s\n", *profile.Status)
	}
}
