// Package playback implements per-guild playback sessions: a single ordered
// queue of speech utterances and media tracks per guild, played one at a
// time over that guild's voice connection.
//
// The [Manager] is the entry point for the command layer. It validates
// requests, looks tracks up, and routes everything through the [Registry]
// to the guild's [Session], a single-goroutine state machine that owns the
// connection, the [Queue] and the in-flight item.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// enqueueAttempts bounds retries when a submission races with teardown.
const enqueueAttempts = 3

const defaultLookupTimeout = 20 * time.Second

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	SessionConfig

	// Resolver looks tracks up at submit time.
	Resolver media.Resolver

	// LookupTimeout bounds one track lookup. Defaults to 20s.
	LookupTimeout time.Duration
}

// Manager is the command-layer surface. All methods are safe for
// concurrent use.
type Manager struct {
	registry      *Registry
	resolver      media.Resolver
	lookupTimeout time.Duration
	log           *slog.Logger
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	r := NewRegistry(cfg.SessionConfig)
	return &Manager{
		registry:      r,
		resolver:      cfg.Resolver,
		lookupTimeout: cfg.LookupTimeout,
		log:           r.cfg.Logger,
	}
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry { return m.registry }

// SubmitUtterance queues text to be spoken in the requester's guild.
func (m *Manager) SubmitUtterance(guildID string, req Requester, text string, sink ReplySink) error {
	return m.SubmitUtteranceLang(guildID, req, text, "", sink)
}

// SubmitUtteranceLang is [Manager.SubmitUtterance] with an explicit
// synthesis language.
func (m *Manager) SubmitUtteranceLang(guildID string, req Requester, text, language string, sink ReplySink) error {
	if req.ChannelID == "" {
		return ErrNotInVoice
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyRequest
	}
	return m.enqueue(guildID, NewUtterance(req, text, language, sink))
}

// SubmitTrack looks query up and queues the result. A playlist queues one
// item per entry, in playlist order. The lookup result is returned so the
// caller can describe what was added.
func (m *Manager) SubmitTrack(ctx context.Context, guildID string, req Requester, query string, sink ReplySink) (media.Result, error) {
	if req.ChannelID == "" {
		return media.Result{}, ErrNotInVoice
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return media.Result{}, ErrEmptyRequest
	}
	if m.resolver == nil {
		return media.Result{}, &ResolutionError{Kind: KindTrack, Title: query, Err: media.ErrUnsupported}
	}

	lctx, cancel := context.WithTimeout(ctx, m.lookupTimeout)
	defer cancel()
	res, err := m.resolver.Resolve(lctx, query)
	if err != nil {
		m.log.Warn("playback: track lookup failed", "guild_id", guildID, "query", query, "err", err)
		return media.Result{}, &ResolutionError{Kind: KindTrack, Title: query, Err: err}
	}

	items := make([]Item, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		items = append(items, NewTrack(req, t, sink))
	}
	if err := m.enqueue(guildID, items...); err != nil {
		return media.Result{}, err
	}
	return res, nil
}

func (m *Manager) enqueue(guildID string, items ...Item) error {
	for range enqueueAttempts {
		err := m.registry.GetOrCreate(guildID).Enqueue(items...)
		if !errors.Is(err, ErrSessionClosed) {
			return err
		}
	}
	return fmt.Errorf("playback: enqueue for guild %s: %w", guildID, ErrSessionClosed)
}

// Skip abandons the guild's in-flight item.
func (m *Manager) Skip(ctx context.Context, guildID string) error {
	return m.control(ctx, guildID, (*Session).Skip)
}

// Pause suspends the guild's current stream.
func (m *Manager) Pause(ctx context.Context, guildID string) error {
	return m.control(ctx, guildID, (*Session).Pause)
}

// Resume continues the guild's paused stream.
func (m *Manager) Resume(ctx context.Context, guildID string) error {
	return m.control(ctx, guildID, (*Session).Resume)
}

// Stop clears the guild's queue and leaves its voice channel.
func (m *Manager) Stop(ctx context.Context, guildID string) error {
	return m.control(ctx, guildID, (*Session).Stop)
}

func (m *Manager) control(ctx context.Context, guildID string, op func(*Session, context.Context) error) error {
	s, ok := m.registry.Get(guildID)
	if !ok {
		return ErrNoSession
	}
	if err := op(s, ctx); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return ErrNoSession
		}
		return err
	}
	return nil
}

// Status returns what the guild is playing and what is queued. Returns
// [ErrNoSession] when the guild has no session.
func (m *Manager) Status(ctx context.Context, guildID string) (Status, error) {
	s, ok := m.registry.Get(guildID)
	if !ok {
		return Status{}, ErrNoSession
	}
	st, err := s.Status(ctx)
	if errors.Is(err, ErrSessionClosed) {
		return Status{}, ErrNoSession
	}
	return st, err
}

// Shutdown terminates every live session and waits for each to finish
// disconnecting, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	sessions := m.registry.Sessions()
	for _, s := range sessions {
		if err := s.control(ctx, opShutdown); err != nil && !errors.Is(err, ErrSessionClosed) {
			m.log.Warn("playback: shutdown session", "guild_id", s.GuildID(), "err", err)
		}
	}
	var errs []error
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("playback: shutdown guild %s: %w", s.GuildID(), ctx.Err()))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.log.Info("playback: all sessions stopped", "count", len(sessions))
	return nil
}
