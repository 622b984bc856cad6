package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxqueue/internal/observe"
	"github.com/MrWong99/voxqueue/pkg/audio"
)

// State is the lifecycle state of a [Session].
type State int32

const (
	// StateIdle means nothing is resolving or playing and the queue is empty.
	StateIdle State = iota

	// StateResolving means the head item is being connected, synthesized or
	// opened.
	StateResolving

	// StatePlaying means audio is streaming to the connection.
	StatePlaying

	// StatePaused means the current stream is suspended.
	StatePaused

	// StateTerminating is absorbing: the session accepts no further events.
	StateTerminating
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Teardown reasons used in logs and metrics.
const (
	reasonStop           = "stop"
	reasonAlone          = "alone"
	reasonIdle           = "idle"
	reasonConnectionLost = "connection_lost"
	reasonConnectFailed  = "connect_failed"
	reasonShutdown       = "shutdown"
)

const defaultConnectTimeout = 15 * time.Second

// SessionConfig holds the dependencies and limits shared by every session.
type SessionConfig struct {
	// Platform joins voice channels.
	Platform audio.Platform

	// Opener produces the audio for a dequeued item.
	Opener Opener

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// IdleTimeout is how long a drained session keeps its connection before
	// tearing down. Zero tears down as soon as playback drains; a negative
	// value disables idle teardown.
	IdleTimeout time.Duration

	// ConnectTimeout bounds a voice join. Defaults to 15s.
	ConnectTimeout time.Duration

	// ResolveTimeout bounds opening one item. Zero means no limit beyond
	// what the providers impose.
	ResolveTimeout time.Duration

	// MaxConsecutiveFailures abandons the rest of the queue after that many
	// items in a row fail. Zero means unlimited.
	MaxConsecutiveFailures int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

// Status is a point-in-time view of a session for display.
type Status struct {
	State State

	// Current is the in-flight item's title, empty when nothing is in flight.
	Current     string
	CurrentKind Kind
	Requester   Requester

	// Queued lists pending titles in play order.
	Queued []string
}

// ─── Mailbox events ───────────────────────────────────────────────────────────

type controlOp int

const (
	opSkip controlOp = iota
	opPause
	opResume
	opStop
	opShutdown
)

type (
	enqueueEvent struct {
		items []Item
	}

	// connectedEvent carries the outcome of the session's voice join.
	connectedEvent struct {
		conn audio.Connection
		err  error
	}

	resolvedEvent struct {
		gen uint64
		res *audio.Resource
		err error
	}

	doneEvent struct {
		gen uint64
		err error
	}

	controlEvent struct {
		op    controlOp
		reply chan error
	}

	statusEvent struct {
		reply chan Status
	}

	aloneEvent struct {
		conn audio.Connection
	}

	lostEvent struct {
		conn audio.Connection
		err  error
	}

	idleEvent struct {
		gen uint64
	}
)

// inflight is the item between dequeue and completion.
type inflight struct {
	item    Item
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	opening bool
	res     *audio.Resource
	started time.Time
}

// Session is the per-guild playback state machine. It owns one voice
// connection and one [Queue]. All transitions run on a single goroutine that
// drains the session's mailbox in arrival order; the exported methods only
// post events to it.
//
// Sessions are created by a [Registry] and remove themselves from it when
// they terminate.
type Session struct {
	guildID  string
	cfg      SessionConfig
	registry *Registry
	log      *slog.Logger
	queue    Queue
	state    atomic.Int32

	mu     sync.Mutex
	events []any
	closed bool
	signal chan struct{}
	done   chan struct{}

	// Owned by the run goroutine.
	conn      audio.Connection
	joining   context.CancelFunc // non-nil while a voice join is in flight
	current   *inflight
	gen       uint64
	failures  int
	idleTimer *time.Timer
	idleGen   uint64
	lastSink  ReplySink
	lastItem  Item
}

func newSession(guildID string, cfg SessionConfig, registry *Registry) *Session {
	s := &Session{
		guildID:  guildID,
		cfg:      cfg,
		registry: registry,
		log:      cfg.Logger.With("guild_id", guildID),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// GuildID returns the tenant the session belongs to.
func (s *Session) GuildID() string { return s.guildID }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has terminated and drained its mailbox.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue appends items to the queue and starts playback if the session is
// idle. Returns [ErrSessionClosed] if the session has terminated.
func (s *Session) Enqueue(items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	return s.post(enqueueEvent{items: items})
}

// Skip abandons the in-flight item and moves on to the next one.
func (s *Session) Skip(ctx context.Context) error { return s.control(ctx, opSkip) }

// Pause suspends the current stream.
func (s *Session) Pause(ctx context.Context) error { return s.control(ctx, opPause) }

// Resume continues a paused stream.
func (s *Session) Resume(ctx context.Context) error { return s.control(ctx, opResume) }

// Stop clears the queue, disconnects and terminates the session.
func (s *Session) Stop(ctx context.Context) error { return s.control(ctx, opStop) }

// Status returns a snapshot taken on the session goroutine.
func (s *Session) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := s.post(statusEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st, ok := <-reply:
		if !ok {
			return Status{}, ErrSessionClosed
		}
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (s *Session) control(ctx context.Context, op controlOp) error {
	reply := make(chan error, 1)
	if err := s.post(controlEvent{op: op, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalAlone tells the session that conn has no human occupants left.
func (s *Session) signalAlone(conn audio.Connection) error {
	return s.post(aloneEvent{conn: conn})
}

// post appends ev to the mailbox. It never blocks on the session goroutine.
func (s *Session) post(ev any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.events = append(s.events, ev)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) pop() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil, false
	}
	ev := s.events[0]
	s.events[0] = nil
	s.events = s.events[1:]
	return ev, true
}

func (s *Session) run() {
	defer close(s.done)
	for {
		<-s.signal
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			s.handle(ev)
			if s.State() == StateTerminating {
				s.drain()
				return
			}
		}
	}
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case enqueueEvent:
		s.onEnqueue(e.items)
	case connectedEvent:
		s.onConnected(e)
	case resolvedEvent:
		s.onResolved(e)
	case doneEvent:
		s.onDone(e)
	case controlEvent:
		e.reply <- s.onControl(e.op)
	case statusEvent:
		e.reply <- s.status()
	case aloneEvent:
		if s.conn != nil && e.conn == s.conn {
			s.terminate(reasonAlone)
		}
	case lostEvent:
		if s.conn != nil && e.conn == s.conn {
			s.onLost(e.err)
		}
	case idleEvent:
		if e.gen == s.idleGen && s.State() == StateIdle {
			s.terminate(reasonIdle)
		}
	default:
		s.log.Debug("playback: dropping unknown event", "event", fmt.Sprintf("%T", ev))
	}
}

// drain closes the mailbox and settles whatever arrived after termination.
func (s *Session) drain() {
	s.mu.Lock()
	s.closed = true
	events := s.events
	s.events = nil
	s.mu.Unlock()

	for _, ev := range events {
		switch e := ev.(type) {
		case enqueueEvent:
			s.reroute(e.items)
		case connectedEvent:
			s.dropConnection(e.conn)
		case resolvedEvent:
			s.discard(e)
		case controlEvent:
			e.reply <- ErrSessionClosed
		case statusEvent:
			close(e.reply)
		}
	}
}

// reroute hands items that raced with teardown to the guild's next session.
func (s *Session) reroute(items []Item) {
	if s.registry == nil {
		return
	}
	next := s.registry.GetOrCreate(s.guildID)
	if err := next.Enqueue(items...); err != nil {
		s.log.Warn("playback: dropping items after teardown", "count", len(items), "err", err)
	}
}

// discard releases a resource produced for a session that no longer wants it.
func (s *Session) discard(e resolvedEvent) {
	if e.res != nil {
		if err := e.res.Release(); err != nil {
			s.log.Warn("playback: release discarded resource", "err", err)
		}
	}
}

// dropConnection disconnects a join that completed after teardown.
func (s *Session) dropConnection(conn audio.Connection) {
	if conn == nil {
		return
	}
	if err := conn.Disconnect(); err != nil {
		s.log.Warn("playback: disconnect unused connection", "err", err)
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// ─── Transitions ──────────────────────────────────────────────────────────────

func (s *Session) onEnqueue(items []Item) {
	s.queue.Enqueue(items...)
	for _, it := range items {
		s.cfg.Metrics.RecordEnqueued(context.Background(), it.Kind().String())
	}
	s.log.Debug("playback: enqueued", "count", len(items), "queued", s.queue.Len(), "state", s.State())
	if s.State() == StateIdle {
		s.stopIdle()
		s.startNext()
	}
}

// startNext dequeues the head item and starts resolving it, or goes idle.
func (s *Session) startNext() {
	it, ok := s.queue.Dequeue()
	if !ok {
		s.enterIdle()
		return
	}
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.current = &inflight{item: it, gen: s.gen, ctx: ctx, cancel: cancel, started: time.Now()}
	s.lastItem = it
	if it.Sink() != nil {
		s.lastSink = it.Sink()
	}
	s.setState(StateResolving)
	switch {
	case s.conn != nil:
		s.open(s.current)
	case s.joining == nil:
		s.join(it.Requester().ChannelID)
	}
	// Otherwise the item is opened once the pending join completes.
}

// join starts the session's only voice join. A guild has a single voice
// link, so a second concurrent join would share it with the first.
func (s *Session) join(channelID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.joining = cancel
	go func() {
		ctx, span := observe.StartGuildSpan(ctx, "playback.connect", s.guildID,
			observe.ChannelIDKey.String(channelID))
		defer span.End()

		cctx, ccancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		conn, err := s.cfg.Platform.Connect(cctx, s.guildID, channelID)
		ccancel()
		if err != nil && ctx.Err() == nil {
			observe.FailSpan(span, err)
			observe.Logger(ctx, s.log).Warn("playback: voice join failed", "channel_id", channelID, "err", err)
		}
		if perr := s.post(connectedEvent{conn: conn, err: err}); perr != nil {
			s.dropConnection(conn)
		}
	}()
}

func (s *Session) onConnected(e connectedEvent) {
	if s.joining != nil {
		s.joining()
		s.joining = nil
	}
	if e.err != nil {
		if cur := s.current; cur != nil {
			rerr := &ResolutionError{Kind: cur.item.Kind(), Title: cur.item.Title(), Err: e.err}
			s.failCurrent(rerr, stageConnect)
		}
		s.terminate(reasonConnectFailed)
		return
	}
	s.attach(e.conn)
	if cur := s.current; cur != nil && !cur.opening {
		s.open(cur)
	}
}

// open starts resolving cur on the attached connection.
func (s *Session) open(cur *inflight) {
	cur.opening = true
	go s.resolve(cur.ctx, cur.cancel, cur.gen, cur.item)
}

// resolve runs off the session goroutine and opens the item.
func (s *Session) resolve(ctx context.Context, cancel context.CancelFunc, gen uint64, it Item) {
	ctx, span := observe.StartGuildSpan(ctx, "playback.resolve", s.guildID,
		observe.ItemKindKey.String(it.Kind().String()))
	defer span.End()

	ev := resolvedEvent{gen: gen}
	var timer *time.Timer
	if d := s.cfg.ResolveTimeout; d > 0 {
		timer = time.AfterFunc(d, cancel)
	}
	res, err := s.cfg.Opener.Open(ctx, s.guildID, it)
	if timer != nil && !timer.Stop() {
		if res != nil {
			_ = res.Release()
			res = nil
		}
		err = fmt.Errorf("timed out after %s: %w", s.cfg.ResolveTimeout, context.DeadlineExceeded)
	}
	observe.FailSpan(span, err)
	ev.res, ev.err = res, err
	s.deliver(ev)
}

func (s *Session) deliver(ev resolvedEvent) {
	if err := s.post(ev); err != nil {
		s.discard(ev)
	}
}

func (s *Session) attach(conn audio.Connection) {
	s.conn = conn
	conn.OnClose(func(err error) {
		_ = s.post(lostEvent{conn: conn, err: err})
	})
	if s.registry != nil {
		s.registry.presence.Watch(conn)
	}
	s.log.Info("playback: joined voice channel", "channel_id", conn.ChannelID())
}

func (s *Session) onResolved(e resolvedEvent) {
	cur := s.current
	if cur == nil || cur.gen != e.gen || s.State() != StateResolving {
		if e.res != nil {
			_ = e.res.Release()
		}
		s.log.Debug("playback: dropping stale resolve result", "gen", e.gen)
		return
	}
	kind := cur.item.Kind()
	s.cfg.Metrics.RecordResolve(context.Background(), kind.String(), time.Since(cur.started))

	if e.err != nil {
		rerr := &ResolutionError{Kind: kind, Title: cur.item.Title(), Err: e.err}
		s.failCurrent(rerr, stageResolve)
		s.advance()
		return
	}

	cur.res = e.res
	if err := s.conn.Play(e.res, s.playDone(cur.gen)); err != nil {
		s.failCurrent(&PlaybackError{Title: cur.item.Title(), Err: err}, stagePlayback)
		s.advance()
		return
	}
	s.failures = 0
	s.setState(StatePlaying)
	s.log.Info("playback: started", "kind", kind, "item", cur.item.Title())
	cur.item.notify(Notice{
		Kind:    NoticeStarted,
		GuildID: s.guildID,
		Message: fmt.Sprintf("Now playing: %s", cur.item.Title()),
	})
}

// playDone returns the completion callback for the stream of generation gen.
func (s *Session) playDone(gen uint64) func(error) {
	return func(err error) {
		_ = s.post(doneEvent{gen: gen, err: err})
	}
}

func (s *Session) onDone(e doneEvent) {
	cur := s.current
	if cur == nil || cur.gen != e.gen {
		return
	}
	switch {
	case e.err == nil:
		s.cfg.Metrics.RecordPlayed(context.Background(), cur.item.Kind().String())
		s.finishCurrent()
	case errors.Is(e.err, audio.ErrStopped):
		s.finishCurrent()
	default:
		s.failCurrent(&PlaybackError{Title: cur.item.Title(), Err: e.err}, stagePlayback)
	}
	s.advance()
}

func (s *Session) onControl(op controlOp) error {
	state := s.State()
	switch op {
	case opSkip:
		switch state {
		case StateResolving, StatePlaying, StatePaused:
			s.log.Info("playback: skipping", "item", s.current.item.Title())
			s.abortCurrent()
			s.startNext()
			return nil
		default:
			return ErrNothingPlaying
		}
	case opPause:
		switch state {
		case StatePlaying:
			if err := s.conn.Pause(); err != nil {
				return fmt.Errorf("playback: pause: %w", err)
			}
			s.setState(StatePaused)
			return nil
		case StatePaused:
			return ErrAlreadyPaused
		default:
			return ErrNothingPlaying
		}
	case opResume:
		if state != StatePaused {
			return ErrNotPaused
		}
		if err := s.conn.Resume(); err != nil {
			return fmt.Errorf("playback: resume: %w", err)
		}
		s.setState(StatePlaying)
		return nil
	case opStop:
		s.terminate(reasonStop)
		return nil
	case opShutdown:
		s.terminate(reasonShutdown)
		return nil
	}
	return fmt.Errorf("playback: unknown control op %d", op)
}

func (s *Session) onLost(err error) {
	lost := &ConnectionLostError{Err: err}
	s.log.Warn("playback: voice connection lost", "err", err)
	if s.lastSink != nil {
		s.lastSink.Notify(Notice{
			Kind:    NoticeFailed,
			GuildID: s.guildID,
			Item:    s.lastItem,
			Err:     lost,
			Message: "Lost the voice connection, playback stopped.",
		})
	}
	s.terminate(reasonConnectionLost)
}

// finishCurrent releases the in-flight item after it ended normally.
func (s *Session) finishCurrent() {
	cur := s.current
	s.current = nil
	cur.cancel()
	s.release(cur)
}

// abortCurrent stops the in-flight item wherever it is. Its late events are
// dropped by the generation check.
func (s *Session) abortCurrent() {
	cur := s.current
	s.current = nil
	s.gen++
	cur.cancel()
	if cur.res != nil && s.conn != nil {
		s.conn.Stop()
	}
	s.release(cur)
}

// failCurrent reports and releases a failed in-flight item.
func (s *Session) failCurrent(err error, stage string) {
	cur := s.current
	s.current = nil
	cur.cancel()
	s.release(cur)
	s.failures++

	kind := cur.item.Kind()
	s.cfg.Metrics.RecordFailed(context.Background(), kind.String(), stage)
	s.log.Warn("playback: item failed", "kind", kind, "stage", stage, "item", cur.item.Title(), "err", err)
	cur.item.notify(Notice{
		Kind:    NoticeFailed,
		GuildID: s.guildID,
		Err:     err,
		Message: fmt.Sprintf("Could not play %s.", cur.item.Title()),
	})
}

func (s *Session) release(cur *inflight) {
	if cur.res == nil {
		return
	}
	if err := cur.res.Release(); err != nil {
		s.log.Warn("playback: release resource", "item", cur.item.Title(), "err", err)
	}
}

// advance moves on after the in-flight item ended, abandoning the queue
// when too many items failed in a row.
func (s *Session) advance() {
	if limit := s.cfg.MaxConsecutiveFailures; limit > 0 && s.failures >= limit {
		dropped := s.queue.Clear()
		s.failures = 0
		s.log.Warn("playback: too many consecutive failures, abandoning queue", "limit", limit, "dropped", dropped)
		if dropped > 0 && s.lastSink != nil {
			s.lastSink.Notify(Notice{
				Kind:    NoticeInfo,
				GuildID: s.guildID,
				Message: fmt.Sprintf("%d items in a row failed; dropped the remaining %d.", limit, dropped),
			})
		}
		s.enterIdle()
		return
	}
	s.startNext()
}

func (s *Session) enterIdle() {
	s.setState(StateIdle)
	if s.cfg.IdleTimeout == 0 {
		s.terminate(reasonIdle)
		return
	}
	if s.cfg.IdleTimeout < 0 {
		return
	}
	s.idleGen++
	gen := s.idleGen
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		_ = s.post(idleEvent{gen: gen})
	})
}

func (s *Session) stopIdle() {
	s.idleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// terminate tears the session down: queue cleared, in-flight item
// released, connection dropped, then registry entry removed.
func (s *Session) terminate(reason string) {
	if s.State() == StateTerminating {
		return
	}
	s.setState(StateTerminating)
	s.stopIdle()
	dropped := s.queue.Clear()

	if s.current != nil {
		s.abortCurrent()
	}
	if s.joining != nil {
		s.joining()
		s.joining = nil
	}
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			s.log.Warn("playback: disconnect", "err", err)
		}
		s.conn = nil
	}
	if s.registry != nil {
		s.registry.remove(s)
	}

	ctx := context.Background()
	s.cfg.Metrics.RecordTeardown(ctx, reason)
	s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	s.log.Info("playback: session terminated", "reason", reason, "dropped", dropped)
}

func (s *Session) status() Status {
	st := Status{State: s.State()}
	if cur := s.current; cur != nil {
		st.Current = cur.item.Title()
		st.CurrentKind = cur.item.Kind()
		st.Requester = cur.item.Requester()
	}
	for _, it := range s.queue.Snapshot() {
		st.Queued = append(st.Queued, it.Title())
	}
	return st
}
