package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewWorkspacesCmd creates the workspaces command.
func NewWorkspacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces you belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			workspaces, err := ctx.Session.Store.ListWorkspaces(cmd.Context(), ctx.Session.UserID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(workspaces)
			}
			out := cmd.OutOrStdout()
			if len(workspaces) == 0 {
				fmt.Fprintln(out, "No workspaces")
				return nil
			}
			for _, workspace := range workspaces {
				marker := " "
				if workspace.ID == ctx.Session.WorkspaceID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s (%s)  %s  [%s]\n", marker, workspace.Name, workspace.Slug, workspace.Role, workspace.ID)
			}
			return nil
		},
	}
}

// NewWorkspaceCmd creates the workspace parent command.
func NewWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces and invite codes",
	}
	cmd.AddCommand(
		newWorkspaceCreateCmd(),
		newWorkspaceJoinCmd(),
		newWorkspaceInviteCmd(),
		newWorkspaceInvitesCmd(),
		newWorkspaceRevokeCmd(),
	)
	return cmd
}

func newWorkspaceCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			created, err := ctx.Session.Store.CreateWorkspace(cmd.Context(), types.Workspace{
				Name:    args[0],
				OwnerID: ctx.Session.UserID,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx.Logger.Info("workspace created", "workspace", created.ID, "slug", created.Slug)

			use, _ := cmd.Flags().GetBool("use")
			if use {
				if err := useWorkspace(ctx, created.ID); err != nil {
					return writeCommandError(cmd, err)
				}
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(created)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created workspace %s (%s) [%s]\n", created.Name, created.Slug, created.ID)
			if use {
				fmt.Fprintln(out, "  now the default workspace")
			}
			return nil
		},
	}
	cmd.Flags().Bool("use", false, "make it the default workspace")
	return cmd
}

func newWorkspaceJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a workspace with an invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			workspace, err := ctx.Session.Store.RedeemInvitation(cmd.Context(), args[0], ctx.Session.UserID)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			use, _ := cmd.Flags().GetBool("use")
			if use {
				if err := useWorkspace(ctx, workspace.ID); err != nil {
					return writeCommandError(cmd, err)
				}
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(workspace)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined workspace %s [%s]\n", workspace.Name, workspace.ID)
			return nil
		},
	}
	cmd.Flags().Bool("use", false, "make it the default workspace")
	return cmd
}

func newWorkspaceInviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create an invite code for the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			maxUses, _ := cmd.Flags().GetInt("max-uses")
			expires, _ := cmd.Flags().GetString("expires")
			if maxUses < 0 {
				return writeCommandError(cmd, fmt.Errorf("--max-uses must be positive"))
			}
			ttl, err := parseExpiry(expires)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			invitation := types.Invitation{
				WorkspaceID: workspaceFlag(cmd, ctx),
				CreatedBy:   ctx.Session.UserID,
			}
			if maxUses > 0 {
				invitation.MaxUses = &maxUses
			}
			if ttl > 0 {
				at := time.Now().Add(ttl)
				invitation.ExpiresAt = &at
			}
			created, err := ctx.Session.Store.CreateInvitation(cmd.Context(), invitation)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx.Logger.Info("invitation created", "workspace", created.WorkspaceID, "invitation", created.ID)

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Invite code %s (%s)\n", created.Code, describeInvitation(created, time.Now()))
			return nil
		},
	}
	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	cmd.Flags().Int("max-uses", 0, "uses before the code stops working (0 is unlimited)")
	cmd.Flags().String("expires", "7d", "lifetime such as 1d, 7d, 30d, 12h or never")
	return cmd
}

func newWorkspaceInvitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites",
		Short: "List the workspace's invite codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			invitations, err := ctx.Session.Store.ListInvitations(cmd.Context(), workspaceFlag(cmd, ctx))
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(invitations)
			}
			out := cmd.OutOrStdout()
			if len(invitations) == 0 {
				fmt.Fprintln(out, "No invite codes")
				return nil
			}
			now := time.Now()
			for _, invitation := range invitations {
				fmt.Fprintf(out, "%s  %s  [%s]\n", invitation.Code, describeInvitation(invitation, now), core.ShortID(invitation.ID))
			}
			return nil
		},
	}
	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	return cmd
}

func newWorkspaceRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <code|id>",
		Short: "Revoke an invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			invitations, err := ctx.Session.Store.ListInvitations(cmd.Context(), workspaceFlag(cmd, ctx))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			invitation, err := findInvitation(invitations, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := ctx.Session.Store.DeleteInvitation(cmd.Context(), invitation.ID); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"revoked": invitation.ID, "code": invitation.Code})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", invitation.Code)
			return nil
		},
	}
	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	return cmd
}

// NewInviteCmd creates the invite command.
func NewInviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite <channel|workspace> <user>",
		Short: "Add a user to a channel, or to the workspace",
		Long: "Add a user, by username or id, to a channel. With the literal target\n" +
			"'workspace' the user is added to the current workspace instead.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			profile, err := ctx.Session.Store.FindProfile(cmd.Context(), args[1])
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return writeCommandError(cmd, fmt.Errorf("user not found: %s", args[1]))
				}
				return writeCommandError(cmd, err)
			}

			if strings.EqualFold(args[0], "workspace") {
				role, _ := cmd.Flags().GetString("role")
				workspaceID := workspaceFlag(cmd, ctx)
				if err := inviteToWorkspace(cmd, ctx, workspaceID, profile, types.WorkspaceRole(role)); err != nil {
					return writeCommandError(cmd, err)
				}
				return nil
			}

			channel, err := resolveChannel(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if channel.Type == types.ChannelTypePrivate {
				if err := requireChannelMember(cmd, ctx, channel); err != nil {
					return writeCommandError(cmd, err)
				}
			}
			if err := ctx.Session.Store.JoinChannel(cmd.Context(), channel.ID, profile.ID); err != nil {
				return writeCommandError(cmd, err)
			}
			ctx.Logger.Info("channel invite", "channel", channel.ID, "user", profile.ID)

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"channel_id": channel.ID,
					"user_id":    profile.ID,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added @%s to #%s\n", profile.DisplayName(), channel.Name)
			return nil
		},
	}
	cmd.Flags().String("workspace", "", "workspace id (default from config)")
	cmd.Flags().String("role", string(types.RoleMember), "workspace role: admin, member or guest")
	return cmd
}

func inviteToWorkspace(cmd *cobra.Command, ctx *CommandContext, workspaceID string, profile *types.Profile, role types.WorkspaceRole) error {
	switch role {
	case types.RoleAdmin, types.RoleMember, types.RoleGuest:
	default:
		return fmt.Errorf("invalid role %q (want admin, member or guest)", role)
	}
	if err := ctx.Session.Store.AddWorkspaceMember(cmd.Context(), workspaceID, profile.ID, role); err != nil {
		return err
	}
	ctx.Logger.Info("workspace invite", "workspace", workspaceID, "user", profile.ID, "role", role)

	if ctx.JSONMode {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"workspace_id": workspaceID,
			"user_id":      profile.ID,
			"role":         role,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added @%s to workspace %s as %s\n", profile.DisplayName(), workspaceID, role)
	return nil
}

// requireChannelMember rejects sharing a private channel the caller cannot read.
func requireChannelMember(cmd *cobra.Command, ctx *CommandContext, channel types.Channel) error {
	members, err := ctx.Session.Store.ListMembers(cmd.Context(), channel.ID)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member.UserID == ctx.Session.UserID {
			return nil
		}
	}
	return fmt.Errorf("#%s is private and you are not a member", channel.Name)
}

func useWorkspace(ctx *CommandContext, workspaceID string) error {
	return rewriteConfig(ctx, func(cfg *core.Config) { cfg.WorkspaceID = workspaceID })
}

// rewriteConfig applies change to the config file. The file is reloaded so
// flag overrides such as --as are not persisted.
func rewriteConfig(ctx *CommandContext, change func(*core.Config)) error {
	path := ctx.Config.Path
	if path == "" {
		defaultPath, err := core.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}
	cfg, err := core.LoadConfig(path)
	if err != nil {
		return err
	}
	change(cfg)
	return core.WriteConfig(path, *cfg)
}

// parseExpiry reads an invite lifetime. Zero means the code never expires.
func parseExpiry(value string) (time.Duration, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "", "never", "0":
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid --expires %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	ttl, err := time.ParseDuration(value)
	if err != nil || ttl <= 0 {
		return 0, fmt.Errorf("invalid --expires %q", value)
	}
	return ttl, nil
}

func describeInvitation(invitation types.Invitation, now time.Time) string {
	uses := fmt.Sprintf("%d uses", invitation.UsedCount)
	if invitation.MaxUses != nil {
		uses = fmt.Sprintf("%d/%d uses", invitation.UsedCount, *invitation.MaxUses)
	}
	switch {
	case !invitation.Redeemable(now) && invitation.ExpiresAt != nil && !now.Before(*invitation.ExpiresAt):
		return uses + ", expired"
	case !invitation.Redeemable(now):
		return uses + ", used up"
	case invitation.ExpiresAt != nil:
		return uses + ", expires " + humanize.RelTime(*invitation.ExpiresAt, now, "ago", "from now")
	default:
		return uses + ", never expires"
	}
}

func findInvitation(invitations []types.Invitation, ref string) (types.Invitation, error) {
	ref = strings.TrimSpace(ref)
	for _, invitation := range invitations {
		if strings.EqualFold(invitation.Code, ref) || invitation.ID == ref || core.MatchesIDPrefix(invitation.ID, ref) {
			return invitation, nil
		}
	}
	return types.Invitation{}, fmt.Errorf("invite code not found: %s", ref)
}
