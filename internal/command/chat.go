package command

import (
	"fmt"

	"github.com/adamavenir/threadline/internal/chat"
	"github.com/spf13/cobra"
)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [channel]",
		Short: "Interactive chat mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeCommandError(cmd, fmt.Errorf("--json not supported for interactive chat"))
			}
			// Logs must not reach the terminal the UI owns.
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				return writeCommandError(cmd, fmt.Errorf("--verbose not supported for interactive chat; see log.file"))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			threadRef, _ := cmd.Flags().GetString("thread")
			notify, _ := cmd.Flags().GetBool("notify")

			channelRef := defaultChannel
			if len(args) > 0 {
				channelRef = args[0]
			}
			channel, err := resolveChannel(cmd.Context(), ctx, channelRef)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			threadID := ""
			if threadRef != "" {
				root, err := resolveMessage(cmd.Context(), ctx, threadRef)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if root.IsReply() {
					threadID = *root.ParentID
				} else {
					threadID = root.ID
				}
			}

			ctx.Logger.Info("chat started", "channel", channel.ID, "thread", threadID)
			if err := chat.Run(cmd.Context(), chat.Options{
				Session:  ctx.Session,
				Channel:  channel,
				ThreadID: threadID,
				Notify:   notify,
			}); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().String("thread", "", "open the thread containing this message")
	cmd.Flags().Bool("notify", true, "desktop notifications for thread replies")
	return cmd
}
