package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/spf13/cobra"
)

// NewPostCmd creates the post command.
func NewPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <channel> [message]",
		Short: "Post a message, optionally with files or as a thread reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			paths, _ := cmd.Flags().GetStringArray("file")
			replyTo, _ := cmd.Flags().GetString("reply-to")

			text := ""
			if len(args) > 1 {
				text = strings.TrimSpace(args[1])
			}
			if text == "" && len(paths) == 0 {
				return writeCommandError(cmd, core.ErrEmptyMessage)
			}
			if len(paths) > 0 && ctx.Session.Uploader == nil {
				return writeCommandError(cmd, fmt.Errorf("--file requires storage.bucket_url in the config"))
			}
			if text == "" {
				text = timeline.AttachmentPlaceholder
			}

			channel, err := resolveChannel(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			input := types.NewMessage{ChannelID: channel.ID, UserID: ctx.Session.UserID, Content: &text}
			if replyTo != "" {
				parent, err := resolveMessage(cmd.Context(), ctx, replyTo)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if parent.ChannelID != channel.ID {
					return writeCommandError(cmd, fmt.Errorf("message %s is not in #%s", replyTo, channel.Name))
				}
				input.ParentID = &parent.ID
			}

			created, err := ctx.Session.Store.InsertMessage(cmd.Context(), input)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			var failed []string
			if len(paths) > 0 {
				files := make([]attach.File, 0, len(paths))
				for _, path := range paths {
					files = append(files, attach.FromPath(path))
				}
				var linked []types.Attachment
				linked, failed = ctx.Session.AttachFiles(cmd.Context(), created.ID, files)
				created.Attachments = append(created.Attachments, linked...)
			}

			if ctx.JSONMode {
				payload := map[string]any{"message": created}
				if len(failed) > 0 {
					payload["failed_files"] = failed
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(payload)
			}

			out := cmd.OutOrStdout()
			if created.IsReply() {
				fmt.Fprintf(out, "[%s] Replied in #%s thread #%s\n", core.ShortID(created.ID), channel.Name, core.ShortID(*created.ParentID))
			} else {
				fmt.Fprintf(out, "[%s] Posted to #%s\n", core.ShortID(created.ID), channel.Name)
			}
			for _, attachment := range created.Attachments {
				fmt.Fprintf(out, "  📎 %s\n", attachment.FileName)
			}
			if len(failed) > 0 {
				fmt.Fprintf(out, "  Failed to upload: %s\n", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringArray("file", nil, "attach a file (repeatable)")
	cmd.Flags().String("reply-to", "", "reply in the thread of this message")
	return cmd
}

// NewEditCmd creates the edit command.
func NewEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <message> <text>",
		Short: "Edit one of your messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			content := strings.TrimSpace(args[1])
			if content == "" {
				return writeCommandError(cmd, core.ErrEmptyMessage)
			}
			msg, err := resolveMessage(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := requireOwnMessage(ctx, msg); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Session.Store.UpdateMessageContent(cmd.Context(), msg.ID, content, time.Now()); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"id": msg.ID, "content": content, "is_edited": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Edited #%s\n", core.ShortID(msg.ID))
			return nil
		},
	}
}

// NewRmCmd creates the rm command.
func NewRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <message>",
		Aliases: []string{"delete"},
		Short:   "Delete one of your messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			msg, err := resolveMessage(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := requireOwnMessage(ctx, msg); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Session.Store.SoftDeleteMessage(cmd.Context(), msg.ID, time.Now()); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"id": msg.ID, "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%s\n", core.ShortID(msg.ID))
			return nil
		},
	}
}

// NewReactCmd creates the react command.
func NewReactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "react <message> <emoji>",
		Short: "React to a message with an emoji",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			emoji, ok := core.NormalizeReactionText(args[1])
			if !ok {
				return writeCommandError(cmd, fmt.Errorf("invalid reaction: %q (must be emoji)", args[1]))
			}
			msg, err := resolveMessage(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			reaction, err := ctx.Session.Store.InsertReaction(cmd.Context(), types.Reaction{
				MessageID: msg.ID,
				UserID:    ctx.Session.UserID,
				Emoji:     emoji,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(reaction)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reacted %s to #%s\n", emoji, core.ShortID(msg.ID))
			return nil
		},
	}
}
