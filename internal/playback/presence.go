package playback

import (
	"log/slog"

	"github.com/MrWong99/voxqueue/pkg/audio"
)

// PresenceMonitor tears sessions down when the bot is left alone in their
// voice channel. It subscribes to membership changes of each connection it
// is asked to watch and signals the owning session; it never touches
// session state itself.
type PresenceMonitor struct {
	registry *Registry
	log      *slog.Logger
}

// NewPresenceMonitor creates a monitor that looks sessions up in r.
func NewPresenceMonitor(r *Registry, logger *slog.Logger) *PresenceMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceMonitor{registry: r, log: logger}
}

// Watch subscribes to conn's membership changes.
func (p *PresenceMonitor) Watch(conn audio.Connection) {
	conn.OnParticipantChange(func(ev audio.Event) {
		p.log.Debug("playback: membership changed",
			"guild_id", conn.GuildID(),
			"event", ev.Type,
			"user_id", ev.UserID,
		)
		p.Check(conn)
	})
}

// Check signals the guild's session if the bot is the only occupant of
// conn. It reports whether a signal was sent. The session ignores the
// signal unless conn is still its connection, so repeated or late checks
// are harmless.
func (p *PresenceMonitor) Check(conn audio.Connection) bool {
	if !audio.IsSoleOccupant(conn.Occupants(), conn.SelfID()) {
		return false
	}
	s, ok := p.registry.Get(conn.GuildID())
	if !ok {
		return false
	}
	if err := s.signalAlone(conn); err != nil {
		return false
	}
	p.log.Info("playback: alone in voice channel", "guild_id", conn.GuildID(), "channel_id", conn.ChannelID())
	return true
}
