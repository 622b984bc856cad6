package playback

import (
	"errors"
	"fmt"
)

// Sentinel conditions reported to the command layer. None of them changes
// session state.
var (
	// ErrNotInVoice is returned when a requester is not connected to any
	// voice channel. The request never reaches a queue.
	ErrNotInVoice = errors.New("playback: requester is not in a voice channel")

	// ErrNoSession is returned by control operations for a guild without a
	// live session.
	ErrNoSession = errors.New("playback: no active session")

	// ErrNothingPlaying is returned by skip and pause when no item is in flight.
	ErrNothingPlaying = errors.New("playback: nothing is playing")

	// ErrAlreadyPaused is returned by pause when playback is already paused.
	ErrAlreadyPaused = errors.New("playback: already paused")

	// ErrNotPaused is returned by resume when playback is not paused.
	ErrNotPaused = errors.New("playback: not paused")

	// ErrSessionClosed is returned when an event is posted to a session that
	// has already terminated. Callers go back through the [Registry].
	ErrSessionClosed = errors.New("playback: session is closed")

	// ErrEmptyRequest is returned for blank utterance text or track queries.
	ErrEmptyRequest = errors.New("playback: empty request")
)

// Failure stages used in logs and metrics.
const (
	stageConnect  = "connect"
	stageResolve  = "resolve"
	stagePlayback = "playback"
)

// ResolutionError reports that an item could not be turned into playable
// audio: synthesis failed, the media could not be opened, or the voice
// connection needed to play it could not be established.
type ResolutionError struct {
	Kind  Kind
	Title string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("playback: resolve %s %q: %v", e.Kind, e.Title, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PlaybackError reports that the transport failed while streaming an item.
type PlaybackError struct {
	Title string
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: play %q: %v", e.Title, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// ConnectionLostError reports that the voice connection itself went away.
// It is fatal for the session.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("playback: voice connection lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }
