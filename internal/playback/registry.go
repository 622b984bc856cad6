package playback

import (
	"context"
	"sync"
)

// Registry maps guild IDs to their live [Session]. It guarantees at most one
// session per guild: [Registry.GetOrCreate] is atomic per key, and only a
// session's own teardown removes it.
type Registry struct {
	cfg      SessionConfig
	presence *PresenceMonitor

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions share cfg. The
// registry owns a [PresenceMonitor] that watches every connection its
// sessions open.
func NewRegistry(cfg SessionConfig) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
	r.presence = NewPresenceMonitor(r, r.cfg.Logger)
	return r
}

// GetOrCreate returns the guild's session, creating an idle one if there is
// none.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := newSession(guildID, r.cfg, r)
	r.sessions[guildID] = s
	r.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	r.cfg.Logger.Debug("playback: session created", "guild_id", guildID)
	return s
}

// Get returns the guild's session, if any.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the live sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Presence returns the registry's presence monitor.
func (r *Registry) Presence() *PresenceMonitor { return r.presence }

// remove detaches s. It is a no-op when the guild already maps to a
// different session.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.guildID]; ok && cur == s {
		delete(r.sessions, s.guildID)
	}
}
