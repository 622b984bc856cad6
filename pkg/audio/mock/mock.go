// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Playback started with [Connection.Play] stays in flight until the test
// finishes it with [Connection.Complete], unless AutoComplete is set:
//
//	conn := &mock.Connection{Self: "bot", OccupantsResult: []string{"bot", "alice"}}
//	platform := &mock.Platform{ConnectResult: conn}
//	// ... drive the code under test ...
//	conn.Complete(nil) // natural end of the current stream
package mock

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/MrWong99/voxqueue/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// Guild, Channel and Self are returned by GuildID, ChannelID and SelfID.
	Guild   string
	Channel string
	Self    string

	// OccupantsResult is returned by [Connection.Occupants].
	OccupantsResult []string

	// AutoComplete makes Play drain the resource and report a natural end
	// on its own instead of waiting for [Connection.Complete].
	AutoComplete bool

	// PlayError, PauseError, ResumeError and DisconnectError are returned by
	// the corresponding methods.
	PlayError       error
	PauseError      error
	ResumeError     error
	DisconnectError error

	// PlayCalls records every resource passed to Play, in order.
	PlayCalls []*audio.Resource

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedCallbacks holds the callbacks registered via OnParticipantChange,
	// in order of registration.
	RecordedCallbacks []func(audio.Event)

	onDone  func(error)
	onClose func(error)
	seq     int
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Guild
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// SelfID implements [audio.Connection].
func (c *Connection) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Self
}

// Play implements [audio.Connection]. Records res and keeps onDone until
// the stream is completed, stopped or the connection disconnected.
func (c *Connection) Play(res *audio.Resource, onDone func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PlayCalls = append(c.PlayCalls, res)
	if c.PlayError != nil {
		return c.PlayError
	}
	if c.onDone != nil {
		return audio.ErrBusy
	}
	c.seq++
	if c.AutoComplete {
		seq := c.seq
		go func() {
			_, _ = io.Copy(io.Discard, res)
			c.finishSeq(seq, nil)
		}()
	}
	c.onDone = onDone
	return nil
}

// Pause implements [audio.Connection]. Returns PauseError.
func (c *Connection) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountPause++
	return c.PauseError
}

// Resume implements [audio.Connection]. Returns ResumeError.
func (c *Connection) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountResume++
	return c.ResumeError
}

// Stop implements [audio.Connection]. Finishes the current stream with
// [audio.ErrStopped].
func (c *Connection) Stop() {
	c.mu.Lock()
	c.CallCountStop++
	c.mu.Unlock()
	c.finish(audio.ErrStopped)
}

// Occupants implements [audio.Connection]. Returns a copy of OccupantsResult.
func (c *Connection) Occupants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.OccupantsResult)
}

// OnParticipantChange implements [audio.Connection].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Connection.EmitEvent].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// OnClose implements [audio.Connection]. Use [Connection.Lose] to fire it.
func (c *Connection) OnClose(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = cb
}

// Disconnect implements [audio.Connection]. Returns DisconnectError and
// finishes any current stream with [audio.ErrStopped].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	err := c.DisconnectError
	c.mu.Unlock()
	c.finish(audio.ErrStopped)
	return err
}

// Complete finishes the current stream, delivering err to its completion
// callback. It reports whether a stream was in flight.
func (c *Connection) Complete(err error) bool {
	return c.finish(err)
}

// Playing reports whether a stream is in flight.
func (c *Connection) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onDone != nil
}

// SetOccupants replaces OccupantsResult.
func (c *Connection) SetOccupants(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OccupantsResult = ids
}

// EmitEvent calls all registered participant-change callbacks with the given event.
// Use this in tests to simulate participants joining or leaving.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := make([]func(audio.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Lose simulates the transport dropping the connection.
func (c *Connection) Lose(err error) {
	c.mu.Lock()
	cb := c.onClose
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// DisconnectCount returns CallCountDisconnect under the lock.
func (c *Connection) DisconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// Plays returns a copy of PlayCalls under the lock.
func (c *Connection) Plays() []*audio.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.PlayCalls)
}

// finishSeq completes the stream only if it is still the seq'th one.
func (c *Connection) finishSeq(seq int, err error) {
	c.mu.Lock()
	current := c.seq == seq
	c.mu.Unlock()
	if current {
		c.finish(err)
	}
}

func (c *Connection) finish(err error) bool {
	c.mu.Lock()
	cb := c.onDone
	c.onDone = nil
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(err)
	return true
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// GuildID is the guildID argument passed to Connect.
	GuildID string
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
//
// When ConnectResult and ConnectError are both nil, every Connect call
// creates a fresh [Connection] whose occupants are the bot (Self) and one
// listener, and records it in Connections.
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// Self is the SelfID given to generated connections. Defaults to "bot".
	Self string

	// AutoComplete is copied onto generated connections.
	AutoComplete bool

	// Gate, when non-nil, holds every Connect call until it is closed or the
	// call's context ends.
	Gate chan struct{}

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections records the connections generated by Connect.
	Connections []*Connection
}

// Connect implements [audio.Platform]. Records the call and returns ConnectResult / ConnectError.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	gate := p.Gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.ConnectResult != nil || p.ConnectError != nil {
		return p.ConnectResult, p.ConnectError
	}
	self := p.Self
	if self == "" {
		self = "bot"
	}
	conn := &Connection{
		Guild:           guildID,
		Channel:         channelID,
		Self:            self,
		OccupantsResult: []string{self, "listener"},
		AutoComplete:    p.AutoComplete,
	}
	p.Connections = append(p.Connections, conn)
	return conn, nil
}

// Calls returns a copy of ConnectCalls under the lock.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.ConnectCalls)
}

// Conns returns a copy of Connections under the lock.
func (p *Platform) Conns() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Connections)
}
