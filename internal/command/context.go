package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/platform"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/spf13/cobra"
)

var errNotInitialized = errors.New("threadline is not initialized")

// CommandContext provides shared command resources.
type CommandContext struct {
	Config   *core.Config
	Session  *platform.Session
	Logger   *slog.Logger
	JSONMode bool

	logCloser io.Closer
}

// Close releases the session and flushes the log file.
func (c *CommandContext) Close() {
	if c.Session != nil {
		if err := c.Session.Close(); err != nil {
			c.Logger.Warn("session close failed", "error", err)
		}
	}
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

// loadCommandConfig reads the config named by --config, applying --as.
func loadCommandConfig(cmd *cobra.Command) (*core.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	asUser, _ := cmd.Flags().GetString("as")

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if asUser = strings.TrimSpace(asUser); asUser != "" {
		cfg.UserID = asUser
		cfg.Username = ""
	}
	if cfg.UserID == "" {
		return nil, errNotInitialized
	}
	return cfg, nil
}

// GetContext loads config, sets up logging and opens a session for a command.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := core.SetupLogger(cfg.Log, verbose)
	if err != nil {
		return nil, err
	}

	session, err := platform.Open(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}

	ctx := &CommandContext{
		Config:    cfg,
		Session:   session,
		Logger:    logger.With("command", cmd.Name()),
		JSONMode:  jsonMode,
		logCloser: logCloser,
	}
	if session.Username == "" {
		if profile, err := session.Store.GetProfile(cmd.Context(), session.UserID); err == nil {
			session.Username = profile.Username
		} else if !errors.Is(err, core.ErrNotFound) {
			ctx.Close()
			return nil, err
		}
	}
	return ctx, nil
}

// resolveChannel finds a channel by id or name in the session's workspace.
func resolveChannel(ctx context.Context, cc *CommandContext, ref string) (types.Channel, error) {
	channel, err := cc.Session.Store.FindChannel(ctx, cc.Session.WorkspaceID, ref)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return types.Channel{}, fmt.Errorf("channel not found: %s", ref)
		}
		return types.Channel{}, err
	}
	return *channel, nil
}

// resolveMessage loads a message by id, accepting a leading '#'.
func resolveMessage(ctx context.Context, cc *CommandContext, ref string) (*types.Message, error) {
	id := strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if id == "" {
		return nil, fmt.Errorf("message id is required")
	}
	msg, err := cc.Session.Store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("message not found: %s", ref)
		}
		return nil, err
	}
	return msg, nil
}

// requireOwnMessage rejects changes to messages authored by someone else.
func requireOwnMessage(cc *CommandContext, msg *types.Message) error {
	if msg.UserID != cc.Session.UserID {
		return fmt.Errorf("message #%s belongs to another user", core.ShortID(msg.ID))
	}
	if msg.DeletedAt != nil {
		return fmt.Errorf("message #%s was deleted", core.ShortID(msg.ID))
	}
	return nil
}

func workspaceFlag(cmd *cobra.Command, cc *CommandContext) string {
	if workspace, _ := cmd.Flags().GetString("workspace"); workspace != "" {
		return workspace
	}
	return cc.Session.WorkspaceID
}
