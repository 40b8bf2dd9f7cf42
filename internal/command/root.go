package command

import (
	"github.com/spf13/cobra"
)

const AppName = "threadline"

// Version is set at build time.
var Version = "dev"

// NewRootCmd builds the threadline CLI.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "threadline - realtime channels and threads in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("threadline version {{.Version}}\n")
	cmd.SetOut(cmd.OutOrStdout())
	cmd.SetErr(cmd.ErrOrStderr())

	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/threadline/config.yaml)")
	cmd.PersistentFlags().String("as", "", "act as this user id")
	cmd.PersistentFlags().Bool("json", false, "output JSON")
	cmd.PersistentFlags().Bool("verbose", false, "mirror logs to stderr")

	cmd.AddCommand(
		NewInitCmd(),
		NewWhoamiCmd(),
		NewProfileCmd(),
		NewWorkspacesCmd(),
		NewWorkspaceCmd(),
		NewInviteCmd(),
		NewChannelsCmd(),
		NewChannelCmd(),
		NewJoinCmd(),
		NewMembersCmd(),
		NewHistoryCmd(),
		NewPostCmd(),
		NewEditCmd(),
		NewRmCmd(),
		NewReactCmd(),
		NewSearchCmd(),
		NewThreadsCmd(),
		NewWatchCmd(),
		NewChatCmd(),
	)

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd(Version).Execute()
}
