package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/platform"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/spf13/cobra"
)

const (
	defaultWorkspace = "default"
	defaultChannel   = "general"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config, create the schema and register your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			jsonMode, _ := cmd.Flags().GetBool("json")
			verbose, _ := cmd.Flags().GetBool("verbose")

			if configPath == "" {
				defaultPath, err := core.DefaultConfigPath()
				if err != nil {
					return writeCommandError(cmd, err)
				}
				configPath = defaultPath
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return writeCommandError(cmd, fmt.Errorf("already initialized at %s (use --force to overwrite)", configPath))
			}

			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := applyInitFlags(cmd, cfg); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := cfg.Validate(); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := core.WriteConfig(configPath, *cfg); err != nil {
				return writeCommandError(cmd, err)
			}

			logger, logCloser, err := core.SetupLogger(cfg.Log, verbose)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer logCloser.Close()

			session, err := platform.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer session.Close()

			ctx := cmd.Context()
			profile := types.Profile{ID: cfg.UserID, Username: cfg.Username}
			if err := session.Store.UpsertProfile(ctx, profile); err != nil {
				return writeCommandError(cmd, err)
			}

			if err := ensureWorkspace(ctx, session.Store, cfg); err != nil {
				return writeCommandError(cmd, err)
			}

			channel, err := session.Store.FindChannel(ctx, cfg.WorkspaceID, defaultChannel)
			if errors.Is(err, core.ErrNotFound) {
				created, createErr := session.Store.CreateChannel(ctx, types.Channel{
					WorkspaceID: cfg.WorkspaceID,
					Name:        defaultChannel,
					Type:        types.ChannelTypePublic,
				})
				if createErr != nil {
					return writeCommandError(cmd, createErr)
				}
				channel, err = &created, nil
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := session.Store.JoinChannel(ctx, channel.ID, cfg.UserID); err != nil {
				return writeCommandError(cmd, err)
			}
			logger.Info("initialized", "config", configPath, "backend", cfg.Backend, "user", cfg.UserID)

			if jsonMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"config":       configPath,
					"backend":      cfg.Backend,
					"user_id":      cfg.UserID,
					"username":     cfg.Username,
					"workspace_id": cfg.WorkspaceID,
					"channel_id":   channel.ID,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized threadline (%s) at %s\n", cfg.Backend, configPath)
			fmt.Fprintf(out, "  you are @%s (%s)\n", cfg.Username, cfg.UserID)
			fmt.Fprintf(out, "  joined #%s\n", channel.Name)
			return nil
		},
	}

	cmd.Flags().String("username", "", "your username")
	cmd.Flags().String("user-id", "", "your user id (generated when empty)")
	cmd.Flags().String("backend", "", "sqlite, postgres or hosted")
	cmd.Flags().String("workspace", "", "workspace id")
	cmd.Flags().String("sqlite-path", "", "sqlite database file")
	cmd.Flags().String("postgres-dsn", "", "postgres connection string")
	cmd.Flags().String("hosted-url", "", "hosted platform URL")
	cmd.Flags().String("hosted-api-key", "", "hosted platform API key")
	cmd.Flags().String("hosted-token", "", "hosted platform access token")
	cmd.Flags().String("redis-url", "", "redis URL for shared presence")
	cmd.Flags().String("bucket-url", "", "attachment bucket URL (file://, mem://, s3://)")
	cmd.Flags().Bool("force", false, "overwrite an existing config")

	return cmd
}

// applyInitFlags layers init flags over the loaded config and fills the
// identity defaults.
func applyInitFlags(cmd *cobra.Command, cfg *core.Config) error {
	stringFlags := map[string]*string{
		"username":       &cfg.Username,
		"user-id":        &cfg.UserID,
		"backend":        &cfg.Backend,
		"workspace":      &cfg.WorkspaceID,
		"sqlite-path":    &cfg.SQLite.Path,
		"postgres-dsn":   &cfg.Postgres.DSN,
		"hosted-url":     &cfg.Hosted.URL,
		"hosted-api-key": &cfg.Hosted.APIKey,
		"hosted-token":   &cfg.Hosted.Token,
		"redis-url":      &cfg.Redis.URL,
		"bucket-url":     &cfg.Storage.BucketURL,
	}
	for name, target := range stringFlags {
		if value, _ := cmd.Flags().GetString(name); strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}

	cfg.Username = strings.TrimPrefix(cfg.Username, "@")
	if cfg.Username == "" {
		return fmt.Errorf("--username is required")
	}
	if cfg.UserID == "" {
		cfg.UserID = core.NewID()
	}
	if cfg.WorkspaceID == "" {
		cfg.WorkspaceID = defaultWorkspace
	}
	return nil
}

// ensureWorkspace registers the configured workspace on the SQL backends,
// creating it owned by the user or joining it when another user created it.
// Hosted workspaces are created through the platform and joined by code.
func ensureWorkspace(ctx context.Context, store platform.Store, cfg *core.Config) error {
	if cfg.Backend == core.BackendHosted {
		return nil
	}
	_, err := store.CreateWorkspace(ctx, types.Workspace{
		ID:      cfg.WorkspaceID,
		Name:    cfg.WorkspaceID,
		Slug:    cfg.WorkspaceID,
		OwnerID: cfg.UserID,
	})
	if errors.Is(err, core.ErrConflict) {
		return store.AddWorkspaceMember(ctx, cfg.WorkspaceID, cfg.UserID, types.RoleMember)
	}
	return err
}
