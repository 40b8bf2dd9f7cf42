package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adamavenir/threadline/internal/types"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <channel>",
		Short: "Show a page of channel or thread history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			beforeValue, _ := cmd.Flags().GetString("before")
			limit, _ := cmd.Flags().GetInt("limit")
			threadRef, _ := cmd.Flags().GetString("thread")
			if limit <= 0 {
				limit = ctx.Session.PageSize
			}

			var before *time.Time
			if beforeValue != "" {
				parsed, err := time.Parse(time.RFC3339, beforeValue)
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("invalid --before %q: use RFC3339, e.g. 2024-05-01T09:00:00Z", beforeValue))
				}
				before = &parsed
			}

			channel, err := resolveChannel(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			var messages []types.Message
			if threadRef != "" {
				root, err := resolveMessage(cmd.Context(), ctx, threadRef)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if root.ChannelID != channel.ID {
					return writeCommandError(cmd, fmt.Errorf("message %s is not in #%s", threadRef, channel.Name))
				}
				messages, err = ctx.Session.Store.FetchReplies(cmd.Context(), root.ID, before, limit)
				if err != nil {
					return writeCommandError(cmd, err)
				}
			} else {
				messages, err = ctx.Session.Store.FetchRootMessages(cmd.Context(), channel.ID, before, limit)
				if err != nil {
					return writeCommandError(cmd, err)
				}
			}
			if messages == nil {
				messages = []types.Message{}
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"channel":  channel,
					"messages": messages,
					"has_more": len(messages) == limit,
				})
			}

			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				fmt.Fprintln(out, "No messages")
				return nil
			}
			now := time.Now()
			for _, msg := range messages {
				fmt.Fprintln(out, FormatMessage(msg, now))
			}
			if len(messages) == limit {
				oldest := messages[0].CreatedAt.UTC().Format(time.RFC3339Nano)
				fmt.Fprintf(out, "--- more: --before %s ---\n", oldest)
			}
			return nil
		},
	}

	cmd.Flags().String("before", "", "only messages created before this RFC3339 time")
	cmd.Flags().Int("limit", 0, "page size (default from config)")
	cmd.Flags().String("thread", "", "show replies to this root message")
	return cmd
}
