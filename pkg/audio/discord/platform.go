// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// voxqueue's PCM [audio.Resource] streams onto Discord's Opus transport.
//
// The platform shares the bot's *discordgo.Session. Each call to
// [Platform.Connect] joins one guild's voice channel and returns a
// [Connection] that plays one resource at a time and reports membership
// changes in that channel.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxqueue/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

type joinFunc func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)

// Platform implements [audio.Platform] using discordgo voice connections.
// It requires an active *discordgo.Session (owned by the bot layer).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	join    joinFunc
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{
		session: session,
		join:    session.ChannelVoiceJoin,
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins the voice channel channelID of guild guildID and returns an
// active [audio.Connection]. The supplied ctx governs the join only; a join
// that completes after ctx expired is disconnected again.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	results := make(chan joinResult, 1)
	go func() {
		// mute=false (we send audio), deaf=true (we never listen).
		vc, err := p.join(guildID, channelID, false, true)
		results <- joinResult{vc: vc, err: err}
	}()

	var r joinResult
	select {
	case r = <-results:
	case <-ctx.Done():
		go func() {
			if late := <-results; late.vc != nil {
				_ = late.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
	if r.err != nil {
		if r.vc != nil {
			_ = r.vc.Disconnect()
		}
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
	}

	return newConnection(r.vc, p.session, guildID, channelID, p.selfID(r.vc)), nil
}

func (p *Platform) selfID(vc *discordgo.VoiceConnection) string {
	if p.session != nil && p.session.State != nil && p.session.State.User != nil {
		return p.session.State.User.ID
	}
	return vc.UserID
}
