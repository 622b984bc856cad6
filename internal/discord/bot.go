// Package discord provides the Discord bot layer for voxqueue. It owns the
// discordgo.Session lifecycle, routes slash command interactions and
// prefixed text commands to registered handlers, and delivers playback
// notices back to text channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxqueue/pkg/audio"
	discordaudio "github.com/MrWong99/voxqueue/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID scopes slash command registration to one guild. Empty
	// registers global commands.
	GuildID string

	// Prefixes are the text command prefixes, e.g. "h!".
	Prefixes []string
}

// Bot owns the Discord gateway connection and routes interactions and
// messages to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	prefix    *PrefixRouter
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction
// and message handlers.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		prefix:   NewPrefixRouter(cfg.Prefixes),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.prefix.Handle(s, m)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Responder returns the session as a [Responder] for replies and notices.
func (b *Bot) Responder() Responder {
	return b.Session()
}

// Router returns the slash command router.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Prefix returns the text command router.
func (b *Bot) Prefix() *PrefixRouter {
	return b.prefix
}

// VoiceChannel returns the voice channel userID is connected to in
// guildID, or "" when they are not in one.
func (b *Bot) VoiceChannel(guildID, userID string) string {
	return VoiceChannelOf(b.Session().State, guildID, userID)
}

// VoiceChannelOf looks userID's voice channel up in the gateway state
// cache.
func VoiceChannelOf(st *discordgo.State, guildID, userID string) string {
	if st == nil || guildID == "" || userID == "" {
		return ""
	}
	vs, err := st.VoiceState(guildID, userID)
	if err != nil {
		if !errors.Is(err, discordgo.ErrStateNotFound) {
			slog.Debug("discord: voice state lookup failed", "guild_id", guildID, "user_id", userID, "err", err)
		}
		return ""
	}
	return vs.ChannelID
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters guild-scoped commands and disconnects from Discord.
// Global commands stay registered since they take long to propagate.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && b.guildID != "" && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}
