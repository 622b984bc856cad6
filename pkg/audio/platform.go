// Package audio defines the voice transport abstractions used by voxqueue
// and the playable unit that flows through them.
//
// The primary abstractions are:
//
//   - [Platform]: joins a voice channel for a guild and returns a [Connection].
//   - [Connection]: an active voice session that plays one [Resource] at a
//     time, reports membership changes and signals when it is lost.
//   - [Resource]: an exclusively owned stream of 48 kHz stereo PCM with an
//     exactly-once release obligation.
//
// Implementations of [Platform] and [Connection] live in adapter packages
// (audio/discord for production, audio/mock for tests).
package audio

import (
	"context"
	"errors"
)

// ErrStopped is delivered to a playback completion callback when the
// stream was cut short by [Connection.Stop] or [Connection.Disconnect].
var ErrStopped = errors.New("audio: playback stopped")

// ErrBusy is returned by [Connection.Play] when another resource is still
// being streamed on the same connection.
var ErrBusy = errors.New("audio: connection is already playing")

// ErrClosed is returned by [Connection] methods called after Disconnect.
var ErrClosed = errors.New("audio: connection closed")

// EventType classifies membership events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a membership change on a voice channel.
// Callbacks registered via [Connection.OnParticipantChange] receive values of this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name of the participant.
	Username string
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called or the transport reports it lost
// through the callback registered with [Connection.OnClose].
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID returns the guild this connection belongs to.
	GuildID() string

	// ChannelID returns the voice channel the connection is joined to.
	ChannelID() string

	// SelfID returns the user ID the connection speaks as.
	SelfID() string

	// Play starts streaming res to the channel and returns immediately.
	// onDone is invoked exactly once, on an internal goroutine, when the
	// stream ends: with nil on a natural end, with [ErrStopped] when cut
	// short by Stop or Disconnect, or with the transport error otherwise.
	// Play never releases res; the caller keeps that obligation.
	Play(res *Resource, onDone func(error)) error

	// Pause suspends the current stream without discarding it.
	Pause() error

	// Resume continues a paused stream.
	Resume() error

	// Stop aborts the current stream, if any. It is a no-op when idle.
	Stop()

	// Occupants returns the user IDs currently present in the channel,
	// including [Connection.SelfID].
	Occupants() []string

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves the channel. Only one callback may be registered
	// at a time; subsequent calls replace the previous registration.
	// The callback is invoked on an internal goroutine; callers must not block.
	OnParticipantChange(cb func(Event))

	// OnClose registers cb to be invoked once if the transport loses the
	// connection without Disconnect having been called. Subsequent calls
	// replace the previous registration.
	OnClose(cb func(error))

	// Disconnect tears the connection down and aborts any playback. It is safe
	// to call Disconnect more than once; subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel channelID of guild guildID and returns
	// an active [Connection]. The supplied ctx governs the connection attempt
	// only; once connected, the Connection remains alive until
	// [Connection.Disconnect] is called explicitly.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}

// IsSoleOccupant reports whether selfID is the only participant in
// occupants.
func IsSoleOccupant(occupants []string, selfID string) bool {
	return len(occupants) == 1 && occupants[0] == selfID
}
