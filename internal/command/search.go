package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/spf13/cobra"
)

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search root messages across channels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = core.SearchLimit
			}
			query := strings.Join(args, " ")

			results, err := ctx.Session.Store.SearchMessages(cmd.Context(), workspaceFlag(cmd, ctx), query, limit)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeChannelMessages(cmd, ctx, results, fmt.Sprintf("No messages match %q", query))
		},
	}

	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	cmd.Flags().Int("limit", core.SearchLimit, "max results")
	return cmd
}

// NewThreadsCmd creates the threads command.
func NewThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List active threads, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = ctx.Session.PageSize
			}
			results, err := ctx.Session.Store.ListThreads(cmd.Context(), workspaceFlag(cmd, ctx), limit)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return writeChannelMessages(cmd, ctx, results, "No threads")
		},
	}

	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	cmd.Flags().Int("limit", 0, "max threads (default page size)")
	return cmd
}

func writeChannelMessages(cmd *cobra.Command, ctx *CommandContext, results []types.ChannelMessage, empty string) error {
	if ctx.JSONMode {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(results)
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, empty)
		return nil
	}
	now := time.Now()
	for _, result := range results {
		fmt.Fprintln(out, FormatChannelMessage(result, now))
	}
	return nil
}
