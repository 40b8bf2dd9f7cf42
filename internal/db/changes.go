package db

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgx/v5"
)

const (
	defaultPollInterval = 2 * time.Second
	changeBatchSize     = 200
	// postgresLookback is how many sequence values below the cursor are
	// re-read on Postgres. BIGSERIAL values are taken before commit, so a
	// lower seq can become visible after a higher one.
	postgresLookback = 512
)

// LatestChangeSeq returns the newest sequence in the changes table.
func (s *Store) LatestChangeSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM changes").Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest change: %w", err)
	}
	return seq, nil
}

// ChangesSince returns change events after seq, oldest first. Each event
// carries the current state of its row.
func (s *Store) ChangesSince(ctx context.Context, after int64, limit int) ([]types.ChangeEvent, error) {
	query := `SELECT c.seq, c.op, ` + rowColumns + `
FROM changes c
JOIN messages m ON m.id = c.row_id
WHERE c.seq > ?
ORDER BY c.seq ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), after, limit)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	var events []types.ChangeEvent
	for rows.Next() {
		var seq int64
		var op string
		row, err := scanRow(rows, &seq, &op)
		if err != nil {
			return nil, err
		}
		events = append(events, types.ChangeEvent{
			Kind:  types.ChangeKind(op),
			Table: "messages",
			Row:   row,
			Seq:   seq,
		})
	}
	return events, rows.Err()
}

// WatcherOptions tunes a ChangeWatcher.
type WatcherOptions struct {
	// Interval is the fallback poll period.
	Interval time.Duration
	// Wake, when set, triggers an immediate poll.
	Wake   <-chan struct{}
	Logger *slog.Logger
	// FromStart replays the whole changes table instead of starting at
	// the newest sequence.
	FromStart bool
	// Lookback is how many sequence values below the cursor each poll
	// re-reads for late commits. Zero picks the dialect default: none for
	// SQLite, whose writers are serialized, and postgresLookback otherwise.
	Lookback int64
}

// ChangeWatcher tails the changes table and hands each event to a sink. On
// Postgres a late-committing change may arrive after newer ones; every seq is
// still delivered once.
type ChangeWatcher struct {
	store    *Store
	sink     func(types.ChangeEvent)
	interval time.Duration
	wake     <-chan struct{}
	logger   *slog.Logger
	fromZero bool
	lookback int64
	// last is the highest seq delivered. Seqs at or below floor are never
	// delivered; seen holds delivered seqs above it.
	last  int64
	floor int64
	seen  map[int64]struct{}
}

func NewChangeWatcher(store *Store, sink func(types.ChangeEvent), opts WatcherOptions) *ChangeWatcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.DiscardLogger()
	}
	lookback := opts.Lookback
	if lookback == 0 && store.Dialect() == DialectPostgres {
		lookback = postgresLookback
	}
	return &ChangeWatcher{
		store:    store,
		sink:     sink,
		interval: interval,
		wake:     opts.Wake,
		logger:   logger,
		fromZero: opts.FromStart,
		lookback: lookback,
		seen:     map[int64]struct{}{},
	}
}

// Prime moves the cursor to the newest change so only later events are
// delivered.
func (w *ChangeWatcher) Prime(ctx context.Context) error {
	seq, err := w.store.LatestChangeSeq(ctx)
	if err != nil {
		return err
	}
	w.last = seq
	w.floor = seq
	w.seen = map[int64]struct{}{}
	return nil
}

// Poll delivers every undelivered change in the lookback window and after
// the cursor, and returns how many were sent.
func (w *ChangeWatcher) Poll(ctx context.Context) (int, error) {
	from := w.last - w.lookback
	if from < w.floor {
		from = w.floor
	}
	delivered := 0
	for {
		events, err := w.store.ChangesSince(ctx, from, changeBatchSize)
		if err != nil {
			return delivered, err
		}
		for _, event := range events {
			from = event.Seq
			if _, dup := w.seen[event.Seq]; dup {
				continue
			}
			w.sink(event)
			w.seen[event.Seq] = struct{}{}
			if event.Seq > w.last {
				w.last = event.Seq
			}
			delivered++
		}
		if len(events) < changeBatchSize {
			break
		}
	}
	w.forget()
	return delivered, nil
}

// forget raises the floor to the bottom of the lookback window and drops
// delivered seqs beneath it.
func (w *ChangeWatcher) forget() {
	floor := w.last - w.lookback
	if floor <= w.floor {
		return
	}
	w.floor = floor
	for seq := range w.seen {
		if seq <= floor {
			delete(w.seen, seq)
		}
	}
}

// Run polls on every wake signal and interval tick until ctx ends. A
// watcher that was not primed starts at the newest change.
func (w *ChangeWatcher) Run(ctx context.Context) error {
	if !w.fromZero && w.last == 0 {
		if err := w.Prime(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	wake := w.wake
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
		}
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("change poll failed", "error", err)
		}
	}
}

// WatchFile signals whenever the SQLite file at path or its WAL is written.
// Signals coalesce; the channel closes when ctx ends.
func WatchFile(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	names := map[string]bool{
		filepath.Base(path):          true,
		filepath.Base(path) + "-wal": true,
	}
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !names[filepath.Base(event.Name)] {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", "path", path, "error", err)
			}
		}
	}()
	return wake, nil
}

// ListenNotify signals on every Postgres notification sent by the change
// trigger. A dropped connection is logged and ends the signals; the
// watcher's poll interval keeps delivering.
func ListenNotify(ctx context.Context, dsn string, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen: %w", err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer conn.Close(context.Background())
		for {
			if _, err := conn.WaitForNotification(ctx); err != nil {
				if ctx.Err() == nil {
					logger.Warn("postgres notification listener stopped", "error", err)
				}
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, nil
}
