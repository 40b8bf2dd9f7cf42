package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/timeline"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Watch event kinds.
const (
	watchNew       = "new"
	watchEdited    = "edited"
	watchDeleted   = "deleted"
	watchReplies   = "replies"
	watchReactions = "reactions"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <channel>",
		Short: "Stream a channel (or thread) in real-time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			last, _ := cmd.Flags().GetInt("last")
			threadRef, _ := cmd.Flags().GetString("thread")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			channel, err := resolveChannel(cmd.Context(), ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			scope := timeline.Scope{ChannelID: channel.ID}
			if threadRef != "" {
				root, err := resolveMessage(cmd.Context(), ctx, threadRef)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				scope.ThreadID = root.ID
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				ctx.Session.Metrics = timeline.NewMetrics(registry)
				shutdown := serveMetrics(metricsAddr, registry, ctx)
				defer shutdown()
			}

			engine := timeline.New(ctx.Session, scope, timeline.Options{})
			if err := engine.Open(runCtx); err != nil {
				return writeCommandError(cmd, err)
			}
			go func() {
				<-runCtx.Done()
				_ = engine.Close()
			}()

			if !ctx.JSONMode {
				label := "#" + channel.Name
				if scope.IsThread() {
					label += " thread #" + core.ShortID(scope.ThreadID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "--- watching %s (Ctrl+C to stop) ---\n", label)
			}

			printer := newWatchPrinter(cmd.OutOrStdout(), ctx.JSONMode, last)
			for state := range engine.Updates() {
				if state.Phase == timeline.PhaseError && state.Err != nil {
					_ = engine.Close()
					return writeCommandError(cmd, state.Err)
				}
				printer.apply(state)
			}
			return nil
		},
	}

	cmd.Flags().Int("last", 10, "show this many recent messages first")
	cmd.Flags().String("thread", "", "watch the thread rooted at this message")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	return cmd
}

func serveMetrics(addr string, registry *prometheus.Registry, ctx *CommandContext) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctx.Logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	ctx.Logger.Info("serving metrics", "addr", addr)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

// watchEvent is one line of watch output.
type watchEvent struct {
	Kind    string        `json:"kind"`
	Message types.Message `json:"message"`
}

// watchPrinter diffs successive snapshots and prints what changed.
type watchPrinter struct {
	out      io.Writer
	jsonMode bool
	last     int
	ready    bool
	seen     map[string]messageMark
	now      func() time.Time
}

// messageMark is the part of a message whose change is worth reporting.
type messageMark struct {
	content   string
	replies   int
	reactions int
	message   types.Message
}

func newWatchPrinter(out io.Writer, jsonMode bool, last int) *watchPrinter {
	return &watchPrinter{out: out, jsonMode: jsonMode, last: last, seen: map[string]messageMark{}, now: time.Now}
}

func markOf(msg types.Message) messageMark {
	mark := messageMark{content: msg.Text(), reactions: len(msg.Reactions), message: msg}
	if msg.Thread != nil {
		mark.replies = msg.Thread.ReplyCount
	}
	return mark
}

func (p *watchPrinter) apply(state timeline.State) {
	if state.Phase == timeline.PhaseIdle || state.Phase == timeline.PhaseLoading {
		return
	}
	if !p.ready {
		p.ready = true
		start := len(state.Messages) - p.last
		if start < 0 {
			start = 0
		}
		for i, msg := range state.Messages {
			p.seen[msg.ID] = markOf(msg)
			if i >= start {
				p.emit(watchNew, msg)
			}
		}
		return
	}

	present := make(map[string]struct{}, len(state.Messages))
	for _, msg := range state.Messages {
		present[msg.ID] = struct{}{}
		mark := markOf(msg)
		prev, ok := p.seen[msg.ID]
		p.seen[msg.ID] = mark
		switch {
		case !ok:
			// Older pages never load here, so anything unseen is live.
			p.emit(watchNew, msg)
		case prev.content != mark.content:
			p.emit(watchEdited, msg)
		case prev.replies != mark.replies:
			p.emit(watchReplies, msg)
		case prev.reactions != mark.reactions:
			p.emit(watchReactions, msg)
		}
	}
	for id, mark := range p.seen {
		if _, ok := present[id]; !ok {
			delete(p.seen, id)
			p.emit(watchDeleted, mark.message)
		}
	}
}

func (p *watchPrinter) emit(kind string, msg types.Message) {
	if p.jsonMode {
		_ = json.NewEncoder(p.out).Encode(watchEvent{Kind: kind, Message: msg})
		return
	}
	switch kind {
	case watchNew:
		fmt.Fprintln(p.out, FormatMessage(msg, p.now()))
	case watchDeleted:
		fmt.Fprintf(p.out, "[deleted] #%s\n", core.ShortID(msg.ID))
	default:
		fmt.Fprintf(p.out, "[%s] %s\n", kind, FormatMessage(msg, p.now()))
	}
}
