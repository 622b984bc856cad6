package discord

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxqueue/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// errKicked is reported through OnClose when the bot's own voice state
// leaves the channel without Disconnect having been called.
var errKicked = errors.New("discord: removed from voice channel")

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. It streams one [audio.Resource] at a time,
// encoding 20 ms PCM frames to Opus, and watches VoiceStateUpdate events for
// membership changes in its channel.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string
	selfID  string

	mu        sync.Mutex
	channelID string
	current   *stream
	changeCb  func(audio.Event)
	closeCb   func(error)
	closed    bool

	done      chan struct{}
	closeOnce sync.Once
	lostOnce  sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID, selfID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		channelID:    channelID,
		selfID:       selfID,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	return c
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.guildID }

// SelfID implements [audio.Connection].
func (c *Connection) SelfID() string { return c.selfID }

// ChannelID implements [audio.Connection]. It follows the bot if it is
// moved to another channel.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Play implements [audio.Connection].
func (c *Connection) Play(res *audio.Resource, onDone func(error)) error {
	enc, err := newOpusEncoder()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.ErrClosed
	}
	if c.current != nil {
		return audio.ErrBusy
	}
	s := &stream{
		res:    res,
		onDone: onDone,
		stop:   make(chan struct{}),
	}
	c.current = s
	go c.send(s, enc)
	return nil
}

// Pause implements [audio.Connection]. It is a no-op when nothing is playing.
func (c *Connection) Pause() error {
	c.mu.Lock()
	s := c.current
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return audio.ErrClosed
	}
	if s != nil {
		s.pause()
	}
	return nil
}

// Resume implements [audio.Connection]. It is a no-op when nothing is paused.
func (c *Connection) Resume() error {
	c.mu.Lock()
	s := c.current
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return audio.ErrClosed
	}
	if s != nil {
		s.resume()
	}
	return nil
}

// Stop implements [audio.Connection].
func (c *Connection) Stop() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s != nil {
		s.halt()
	}
}

// Occupants implements [audio.Connection]. Other bots are not counted. The
// result always contains SelfID while connected, and is nil when the
// session state cache is unavailable.
func (c *Connection) Occupants() []string {
	if c.session == nil || c.session.State == nil {
		return nil
	}
	guild, err := c.session.State.Guild(c.guildID)
	if err != nil {
		return nil
	}
	channelID := c.ChannelID()

	c.session.State.RLock()
	var userIDs []string
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID && vs.UserID != c.selfID {
			userIDs = append(userIDs, vs.UserID)
		}
	}
	c.session.State.RUnlock()

	occupants := []string{c.selfID}
	for _, id := range userIDs {
		if c.isBot(id) {
			continue
		}
		occupants = append(occupants, id)
	}
	return occupants
}

func (c *Connection) isBot(userID string) bool {
	m, err := c.session.State.Member(c.guildID, userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

// OnParticipantChange registers cb as the callback for participant join/leave events.
// Only one callback may be registered; subsequent calls replace the previous one.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeCb = cb
}

// OnClose implements [audio.Connection].
func (c *Connection) OnClose(cb func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCb = cb
}

// Disconnect cleanly tears down the voice connection and aborts playback.
// It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		s := c.current
		c.current = nil
		c.mu.Unlock()

		close(c.done)
		if s != nil {
			s.halt()
		}
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// send streams s frame by frame until it ends, is stopped or the connection
// closes. A trailing partial frame is padded with silence.
func (c *Connection) send(s *stream, enc *opusEncoder) {
	c.setSpeaking(true)
	buf := make([]byte, audio.FrameBytes)
	for {
		if err := s.waitResumed(c.done); err != nil {
			c.finish(s, err)
			return
		}
		n, err := io.ReadFull(s.res, buf)
		last := false
		switch {
		case errors.Is(err, io.EOF):
			c.finish(s, nil)
			return
		case errors.Is(err, io.ErrUnexpectedEOF):
			clear(buf[n:])
			last = true
		case err != nil:
			c.finish(s, err)
			return
		}

		packet, err := enc.encode(buf)
		if err != nil {
			c.finish(s, err)
			return
		}
		select {
		case c.vc.OpusSend <- packet:
		case <-s.stop:
			c.finish(s, audio.ErrStopped)
			return
		case <-c.done:
			c.finish(s, audio.ErrStopped)
			return
		}
		if last {
			c.finish(s, nil)
			return
		}
	}
}

// finish detaches s and delivers its result exactly once.
func (c *Connection) finish(s *stream, err error) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	idle := c.current == nil && !c.closed
	c.mu.Unlock()
	if idle {
		c.setSpeaking(false)
	}
	s.doneOnce.Do(func() {
		if s.onDone != nil {
			s.onDone(err)
		}
	})
}

// handleVoiceStateUpdate processes Discord VoiceStateUpdate events to detect
// participant joins and leaves for the voice channel this connection is on.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.VoiceState == nil || vsu.GuildID != c.guildID {
		return
	}

	if vsu.UserID == c.selfID {
		c.handleSelfUpdate(vsu.ChannelID)
		return
	}

	channelID := c.ChannelID()
	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	// Participant left our channel.
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID {
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
		return
	}

	// Participant joined our channel.
	if vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID) {
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

// handleSelfUpdate tracks moves of the bot itself. Leaving voice entirely
// without Disconnect counts as losing the connection.
func (c *Connection) handleSelfUpdate(channelID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if channelID != "" {
		moved := channelID != c.channelID
		c.channelID = channelID
		c.mu.Unlock()
		if moved {
			c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: c.selfID})
		}
		return
	}
	cb := c.closeCb
	c.mu.Unlock()

	c.lostOnce.Do(func() {
		slog.Warn("discord: voice connection lost", "guild_id", c.guildID)
		if cb != nil {
			go cb(errKicked)
		}
	})
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// emitEvent safely invokes the registered participant change callback.
func (c *Connection) emitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.changeCb
	c.mu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}

// stream is one resource in flight on a Connection.
type stream struct {
	res      *audio.Resource
	onDone   func(error)
	stop     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func (s *stream) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *stream) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.resumed = make(chan struct{})
}

func (s *stream) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resumed)
}

// waitResumed blocks while the stream is paused. It returns
// [audio.ErrStopped] if the stream is halted or done closes first.
func (s *stream) waitResumed(done <-chan struct{}) error {
	for {
		select {
		case <-s.stop:
			return audio.ErrStopped
		case <-done:
			return audio.ErrStopped
		default:
		}

		s.mu.Lock()
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		ch := s.resumed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-s.stop:
			return audio.ErrStopped
		case <-done:
			return audio.ErrStopped
		}
	}
}
