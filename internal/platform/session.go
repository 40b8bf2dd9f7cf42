package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/db"
	"github.com/adamavenir/threadline/internal/hosted"
	"github.com/adamavenir/threadline/internal/presence"
	"github.com/adamavenir/threadline/internal/realtime"
)

// Uploader stores attachment files.
type Uploader interface {
	UploadAll(ctx context.Context, userID string, files []attach.File) []attach.Result
}

// Session bundles everything an engine or command needs to talk to one data
// platform as one user. It is constructed explicitly and passed down.
type Session struct {
	UserID      string
	Username    string
	WorkspaceID string
	PageSize    int
	Backend     string

	Store    Store
	Feed     realtime.Feed
	Presence presence.Service
	Uploader Uploader
	Logger   *slog.Logger
	Metrics  Metrics

	closers []io.Closer
	cancel  context.CancelFunc
}

// NewSession builds a session from explicit parts. Nil optional parts get
// in-process defaults.
func NewSession(userID, username string, store Store, feed realtime.Feed, presenceService presence.Service, logger *slog.Logger) *Session {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	if presenceService == nil {
		presenceService = presence.NewLocal()
	}
	return &Session{
		UserID:   userID,
		Username: username,
		PageSize: core.DefaultPageSize,
		Store:    store,
		Feed:     feed,
		Presence: presenceService,
		Logger:   logger,
		Metrics:  NopMetrics{},
	}
}

// Open connects to the backend named by cfg.Backend. The returned session
// owns background watchers; Close releases them.
func Open(ctx context.Context, cfg *core.Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.DiscardLogger()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		UserID:      cfg.UserID,
		Username:    cfg.Username,
		WorkspaceID: cfg.WorkspaceID,
		PageSize:    cfg.PageSize,
		Backend:     cfg.Backend,
		Logger:      logger,
		Metrics:     NopMetrics{},
		cancel:      cancel,
	}
	if session.PageSize <= 0 {
		session.PageSize = core.DefaultPageSize
	}

	var err error
	switch cfg.Backend {
	case core.BackendSQLite, core.BackendPostgres:
		err = session.openDatabase(ctx, runCtx, cfg)
	case core.BackendHosted:
		err = session.openHosted(cfg)
	default:
		err = fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	if session.Presence == nil {
		if cfg.Redis.URL != "" {
			redisPresence, err := presence.OpenRedis(ctx, cfg.Redis.URL, logger)
			if err != nil {
				_ = session.Close()
				return nil, err
			}
			session.Presence = redisPresence
			session.closers = append(session.closers, redisPresence)
		} else {
			session.Presence = presence.NewLocal()
		}
	}

	if cfg.Storage.BucketURL != "" {
		uploader, err := attach.Open(ctx, cfg.Storage, logger)
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		session.Uploader = uploader
		session.closers = append(session.closers, uploader)
	}

	logger.Debug("session opened", "backend", cfg.Backend, "user", cfg.UserID)
	return session, nil
}

func (s *Session) openDatabase(ctx, runCtx context.Context, cfg *core.Config) error {
	var (
		store *db.Store
		wake  <-chan struct{}
		err   error
	)
	if cfg.Backend == core.BackendSQLite {
		store, err = db.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store)
		wake, err = db.WatchFile(runCtx, store.Path(), s.Logger)
		if err != nil {
			s.Logger.Warn("file watch unavailable, falling back to polling", "error", err)
			wake = nil
		}
	} else {
		store, err = db.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store)
		wake, err = db.ListenNotify(runCtx, cfg.Postgres.DSN, s.Logger)
		if err != nil {
			s.Logger.Warn("listen unavailable, falling back to polling", "error", err)
			wake = nil
		}
	}

	hub := realtime.NewHub(s.Logger)
	watcher := db.NewChangeWatcher(store, hub.Publish, db.WatcherOptions{Wake: wake, Logger: s.Logger})
	if err := watcher.Prime(ctx); err != nil {
		return fmt.Errorf("prime change watcher: %w", err)
	}
	go func() {
		if err := watcher.Run(runCtx); err != nil {
			s.Logger.Error("change watcher stopped", "error", err)
		}
	}()

	s.Store = store
	s.Feed = hub
	return nil
}

func (s *Session) openHosted(cfg *core.Config) error {
	client, err := hosted.NewClient(cfg.Hosted)
	if err != nil {
		return err
	}
	rt := hosted.NewRealtime(client, s.Logger)
	s.Store = hosted.NewStore(client)
	s.Feed = rt
	if cfg.Redis.URL == "" {
		s.Presence = rt
	}
	return nil
}

// Close stops background watchers and releases connections.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
