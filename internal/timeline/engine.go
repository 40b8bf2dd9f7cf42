package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/platform"
	"github.com/adamavenir/threadline/internal/presence"
	"github.com/adamavenir/threadline/internal/realtime"
	"github.com/adamavenir/threadline/internal/types"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("timeline closed")

const (
	actionBuffer   = 64
	presenceBuffer = 8
)

// Options tunes an Engine. Zero values use the defaults.
type Options struct {
	Now        func() time.Time
	TypingIdle time.Duration
	// Notify is called, off the loop, for replies from other users.
	Notify func(Notify)
}

// Engine owns one view's State. A single goroutine applies every Action in
// arrival order; public methods only enqueue requests.
type Engine struct {
	session *platform.Session
	scope   Scope
	opts    Options
	logger  *slog.Logger
	metrics platform.Metrics

	actions     chan Action
	updates     chan State
	presenceOut chan types.PresenceState
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc

	startOnce  sync.Once
	closeOnce  sync.Once
	wg         sync.WaitGroup
	generation atomic.Int64

	mu     sync.RWMutex
	latest State

	linkMu sync.Mutex
	sub    realtime.Subscription
	member presence.Channel

	profileMu sync.Mutex
	profiles  map[string]*types.Profile

	// owned by the loop goroutine
	state       *State
	typing      *typingPublisher
	typingTimer *time.Timer
}

// New builds an engine for scope on session. Nothing happens until Open.
func New(session *platform.Session, scope Scope, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = presence.TypingIdleTimeout
	}
	logger := session.Logger
	if logger == nil {
		logger = core.DiscardLogger()
	}
	metrics := session.Metrics
	if metrics == nil {
		metrics = platform.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	state := NewState(scope, session.UserID, session.Username, session.PageSize)
	return &Engine{
		session:     session,
		scope:       scope,
		opts:        opts,
		logger:      logger.With("channel", scope.ChannelID, "thread", scope.ThreadID),
		metrics:     metrics,
		actions:     make(chan Action, actionBuffer),
		updates:     make(chan State, 1),
		presenceOut: make(chan types.PresenceState, presenceBuffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		latest:      state.Snapshot(),
		profiles:    map[string]*types.Profile{},
		state:       state,
		typing:      newTypingPublisher(),
	}
}

func (e *Engine) Scope() Scope { return e.scope }

// Updates delivers a snapshot after every reduction. Only the newest
// unread snapshot is kept. The channel closes after Close.
func (e *Engine) Updates() <-chan State { return e.updates }

// State returns the latest snapshot.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Open subscribes to the change feed and presence (once) and starts a fresh
// load. Calling it again reloads; results of the earlier load are ignored.
func (e *Engine) Open(ctx context.Context) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.loop()
	})

	e.linkMu.Lock()
	if e.sub == nil && e.session.Feed != nil {
		sub, err := e.session.Feed.Subscribe(e.ctx, e.scope.ChannelID)
		if err != nil {
			e.linkMu.Unlock()
			return fmt.Errorf("subscribe %s: %w", e.scope.ChannelID, err)
		}
		e.sub = sub
		e.wg.Add(1)
		go e.pumpChanges(sub)
	}
	if e.member == nil && e.session.Presence != nil {
		member, err := e.session.Presence.Join(e.ctx, e.scope.ChannelID, e.session.UserID)
		if err != nil {
			e.logger.Warn("presence unavailable", "error", err)
		} else {
			e.member = member
			e.wg.Add(2)
			go e.pumpPresence(member)
			go e.publishPresence(member)
			e.enqueuePresence(false)
		}
	}
	e.linkMu.Unlock()

	e.post(OpenRequested{Generation: int(e.generation.Add(1))})
	return nil
}

func (e *Engine) LoadOlder() { e.post(LoadOlderRequested{}) }

func (e *Engine) Send(content string, files []attach.File) {
	e.post(SendRequested{Content: content, Files: files})
}

func (e *Engine) Edit(id, content string) { e.post(EditRequested{ID: id, Content: content}) }

func (e *Engine) Delete(id string) { e.post(DeleteRequested{ID: id}) }

// React adds emoji to message id. The reaction shows locally at once.
func (e *Engine) React(id, emoji string) error {
	normalized, ok := core.NormalizeReactionText(emoji)
	if !ok {
		return fmt.Errorf("invalid reaction %q", emoji)
	}
	e.post(ReactRequested{Reaction: types.Reaction{
		ID:        core.NewID(),
		MessageID: id,
		UserID:    e.session.UserID,
		Emoji:     normalized,
		CreatedAt: e.opts.Now(),
	}})
	return nil
}

func (e *Engine) SetTyping(typing bool) { e.post(TypingChanged{Typing: typing}) }

func (e *Engine) DismissNotice() { e.post(NoticeDismissed{}) }

// Close unsubscribes, leaves presence and stops the loop. Work still in
// flight finishes unobserved.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.cancel()

		e.linkMu.Lock()
		if e.sub != nil {
			err = e.sub.Close()
		}
		if e.member != nil {
			if closeErr := e.member.Close(); err == nil {
				err = closeErr
			}
		}
		e.linkMu.Unlock()

		e.wg.Wait()
		if e.typingTimer != nil {
			e.typingTimer.Stop()
		}
		close(e.updates)
	})
	return err
}

func (e *Engine) post(action Action) {
	select {
	case e.actions <- action:
	case <-e.done:
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case action := <-e.actions:
			e.observe(action)
			effects := Reduce(e.state, action)
			e.publish()
			for _, effect := range effects {
				e.run(effect)
			}
		}
	}
}

func (e *Engine) observe(action Action) {
	change, ok := action.(ChangeReceived)
	if !ok {
		return
	}
	row := change.Event.Row
	switch {
	case change.Event.Kind == types.ChangeInsert:
		e.metrics.EventApplied("insert")
		if e.state.inScope(row) && e.state.Index(row.ID) >= 0 {
			e.metrics.DuplicateDropped()
		}
	case row.DeletedAt != nil:
		e.metrics.EventApplied("delete")
	default:
		e.metrics.EventApplied("update")
	}
}

func (e *Engine) publish() {
	snapshot := e.state.Snapshot()
	e.mu.Lock()
	e.latest = snapshot
	e.mu.Unlock()

	select {
	case e.updates <- snapshot:
	default:
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- snapshot:
		default:
		}
	}
}

func (e *Engine) async(fn func(ctx context.Context)) {
	go fn(e.ctx)
}

func (e *Engine) after(wait time.Duration, action func() Action) {
	time.AfterFunc(wait, func() { e.post(action()) })
}

func (e *Engine) run(effect Effect) {
	store := e.session.Store
	switch eff := effect.(type) {
	case FetchInitial:
		e.async(func(ctx context.Context) {
			e.post(e.fetchInitial(ctx, eff))
		})

	case FetchOlder:
		e.async(func(ctx context.Context) {
			start := time.Now()
			var (
				messages []types.Message
				err      error
			)
			before := eff.Before
			if eff.Scope.IsThread() {
				messages, err = store.FetchReplies(ctx, eff.Scope.ThreadID, &before, eff.Limit)
			} else {
				messages, err = store.FetchRootMessages(ctx, eff.Scope.ChannelID, &before, eff.Limit)
			}
			e.metrics.FetchObserved(FetchKindOlder, time.Since(start))
			if err != nil {
				e.logger.Warn("load older failed", "error", err)
			}
			e.post(OlderLoaded{Generation: eff.Generation, Messages: messages, Err: err})
		})

	case HydrateAuthor:
		e.async(func(ctx context.Context) {
			profile, err := e.profile(ctx, eff.UserID)
			if err != nil {
				e.logger.Warn("author lookup failed", "user", eff.UserID, "error", err)
				return
			}
			e.post(ProfileLoaded{UserID: eff.UserID, Profile: profile})
		})

	case CreateMessage:
		e.async(func(ctx context.Context) {
			msg, err := store.InsertMessage(ctx, eff.Input)
			if err != nil {
				e.metrics.SendFailed()
				e.logger.Warn("send failed", "error", err)
			}
			e.post(SendCompleted{Draft: eff.Draft, Message: msg, Err: err})
		})

	case UploadAttachments:
		e.async(func(ctx context.Context) {
			e.post(e.uploadAttachments(ctx, eff))
		})

	case UpdateMessage:
		e.async(func(ctx context.Context) {
			at := e.opts.Now()
			err := store.UpdateMessageContent(ctx, eff.ID, eff.Content, at)
			if err != nil {
				e.logger.Warn("edit failed", "message", eff.ID, "error", err)
			}
			e.post(EditCompleted{ID: eff.ID, Content: eff.Content, At: at, Err: err})
		})

	case DeleteMessage:
		e.async(func(ctx context.Context) {
			err := store.SoftDeleteMessage(ctx, eff.ID, e.opts.Now())
			if err != nil {
				e.logger.Warn("delete failed", "message", eff.ID, "error", err)
			}
			e.post(DeleteCompleted{ID: eff.ID, Err: err})
		})

	case InsertReaction:
		e.async(func(ctx context.Context) {
			if _, err := store.InsertReaction(ctx, eff.Reaction); err != nil {
				e.logger.Warn("reaction insert failed", "message", eff.Reaction.MessageID, "error", err)
			}
		})

	case ExpireHighlight:
		e.after(eff.Until.Sub(e.opts.Now()), func() Action {
			return HighlightExpired{ParentID: eff.ParentID, Until: eff.Until}
		})

	case ScheduleTypingTick:
		e.after(eff.Wait, func() Action { return TypingTick{At: e.opts.Now()} })

	case TrackTyping:
		e.trackTyping(eff.Typing)

	case Notify:
		if e.opts.Notify != nil {
			go e.opts.Notify(eff)
		}
	}
}

func (e *Engine) fetchInitial(ctx context.Context, eff FetchInitial) InitialLoaded {
	start := time.Now()
	result := InitialLoaded{Generation: eff.Generation}
	if eff.Scope.IsThread() {
		defer func() { e.metrics.FetchObserved(FetchKindThread, time.Since(start)) }()
		root, err := e.session.Store.GetMessage(ctx, eff.Scope.ThreadID)
		if errors.Is(err, core.ErrNotFound) {
			err = core.ErrThreadRootDeleted
		}
		if err != nil {
			result.Err = err
			return result
		}
		result.Root = root
		result.Messages, result.Err = e.session.Store.FetchReplies(ctx, eff.Scope.ThreadID, nil, eff.Limit)
		return result
	}
	defer func() { e.metrics.FetchObserved(FetchKindInitial, time.Since(start)) }()
	result.Messages, result.Err = e.session.Store.FetchRootMessages(ctx, eff.Scope.ChannelID, nil, eff.Limit)
	if result.Err != nil {
		e.logger.Warn("initial load failed", "error", result.Err)
	}
	return result
}

func (e *Engine) profile(ctx context.Context, userID string) (*types.Profile, error) {
	e.profileMu.Lock()
	cached, ok := e.profiles[userID]
	e.profileMu.Unlock()
	if ok {
		return cached, nil
	}
	profile, err := e.session.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.profileMu.Lock()
	e.profiles[userID] = profile
	e.profileMu.Unlock()
	return profile, nil
}

func (e *Engine) uploadAttachments(ctx context.Context, eff UploadAttachments) AttachmentsLinked {
	attachments, failed := e.session.AttachFiles(ctx, eff.MessageID, eff.Files)
	return AttachmentsLinked{MessageID: eff.MessageID, Attachments: attachments, Failed: failed}
}

// trackTyping runs on the loop goroutine.
func (e *Engine) trackTyping(typing bool) {
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	if typing {
		e.typingTimer = time.AfterFunc(e.opts.TypingIdle, func() { e.post(TypingIdle{}) })
		if e.typing.assert(e.opts.Now()) {
			e.enqueuePresence(true)
		}
		return
	}
	if e.typing.clear() {
		e.enqueuePresence(false)
	}
}

func (e *Engine) enqueuePresence(typing bool) {
	state := types.PresenceState{UserID: e.session.UserID, Username: e.session.Username, Typing: typing}
	select {
	case e.presenceOut <- state:
	default:
		e.logger.Debug("presence update dropped", "typing", typing)
	}
}

func (e *Engine) publishPresence(member presence.Channel) {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case state := <-e.presenceOut:
			state.At = e.opts.Now()
			if err := member.Track(e.ctx, state); err != nil {
				e.logger.Warn("presence track failed", "error", err)
			}
		}
	}
}

func (e *Engine) pumpChanges(sub realtime.Subscription) {
	defer e.wg.Done()
	for event := range sub.Events() {
		e.post(ChangeReceived{Event: event, At: e.opts.Now()})
	}
}

func (e *Engine) pumpPresence(member presence.Channel) {
	defer e.wg.Done()
	for event := range member.Events() {
		e.post(PresenceReceived{Event: event, At: e.opts.Now()})
	}
}
