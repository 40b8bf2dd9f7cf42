package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
)

// NewChannelsCmd creates the channels command.
func NewChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels you can read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			match, _ := cmd.Flags().GetString("match")
			var pattern glob.Glob
			if match != "" {
				pattern, err = glob.Compile(strings.ToLower(strings.TrimPrefix(match, "#")))
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("invalid --match pattern %q: %w", match, err))
				}
			}

			channels, err := ctx.Session.Store.ListChannels(cmd.Context(), workspaceFlag(cmd, ctx), ctx.Session.UserID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if pattern != nil {
				channels = filterChannels(channels, pattern)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(channels)
			}
			out := cmd.OutOrStdout()
			if len(channels) == 0 {
				fmt.Fprintln(out, "No channels")
				return nil
			}
			for _, channel := range channels {
				line := fmt.Sprintf("#%s", channel.Name)
				if channel.Type == types.ChannelTypePrivate {
					line += " (private)"
				}
				if channel.Topic != nil && *channel.Topic != "" {
					line += " - " + *channel.Topic
				}
				fmt.Fprintf(out, "%s  [%s]\n", line, core.ShortID(channel.ID))
			}
			return nil
		},
	}

	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	cmd.Flags().String("match", "", "glob filter on channel names, e.g. 'eng-*'")
	return cmd
}

func filterChannels(channels []types.Channel, pattern glob.Glob) []types.Channel {
	filtered := make([]types.Channel, 0, len(channels))
	for _, channel := range channels {
		if pattern.Match(strings.ToLower(channel.Name)) {
			filtered = append(filtered, channel)
		}
	}
	return filtered
}

// NewChannelCmd creates the channel parent command.
func NewChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage channels",
	}
	cmd.AddCommand(newChannelCreateCmd())
	return cmd
}

func newChannelCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a channel and join it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			private, _ := cmd.Flags().GetBool("private")
			topic, _ := cmd.Flags().GetString("topic")

			channel := types.Channel{
				WorkspaceID: ctx.Session.WorkspaceID,
				Name:        args[0],
				Type:        types.ChannelTypePublic,
			}
			if private {
				channel.Type = types.ChannelTypePrivate
			}
			if topic != "" {
				channel.Topic = &topic
			}

			created, err := ctx.Session.Store.CreateChannel(cmd.Context(), channel)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Session.Store.JoinChannel(cmd.Context(), created.ID, ctx.Session.UserID); err != nil {
				return writeCommandError(cmd, err)
			}
			ctx.Logger.Info("channel created", "channel", created.ID, "name", created.Name)

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created #%s [%s]\n", created.Name, core.ShortID(created.ID))
			return nil
		},
	}

	cmd.Flags().Bool("private", false, "only members can read the channel")
	cmd.Flags().String("topic", "", "channel topic")
	return cmd
}

// NewJoinCmd creates the join command.
func NewJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <channel>",
		Short: "Join a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channel, err := resolveChannel(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Session.Store.JoinChannel(cmd.Context(), channel.ID, ctx.Session.UserID); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"channel_id": channel.ID,
					"user_id":    ctx.Session.UserID,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined #%s\n", channel.Name)
			return nil
		},
	}
}

// NewMembersCmd creates the members command.
func NewMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <channel>",
		Short: "List channel members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			channel, err := resolveChannel(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			members, err := ctx.Session.Store.ListMembers(cmd.Context(), channel.ID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(members)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "#%s (%d)\n", channel.Name, len(members))
			for _, member := range members {
				fmt.Fprintf(out, "  @%s  joined %s\n", member.Profile.DisplayName(), member.JoinedAt.Local().Format(timeLayout))
			}
			return nil
		},
	}
}
