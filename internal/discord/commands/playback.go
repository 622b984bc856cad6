// Package commands implements the voxqueue Discord command handlers: slash
// commands, prefixed text commands and the player control buttons. All of
// them are thin adapters over the playback manager.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxqueue/internal/discord"
	"github.com/MrWong99/voxqueue/internal/playback"
	"github.com/MrWong99/voxqueue/internal/suggest"
	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// Player is the playback surface the commands drive.
type Player interface {
	SubmitUtterance(guildID string, req playback.Requester, text string, sink playback.ReplySink) error
	SubmitTrack(ctx context.Context, guildID string, req playback.Requester, query string, sink playback.ReplySink) (media.Result, error)
	Skip(ctx context.Context, guildID string) error
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Stop(ctx context.Context, guildID string) error
	Status(ctx context.Context, guildID string) (playback.Status, error)
}

var _ Player = (*playback.Manager)(nil)

// VoiceLocator returns the voice channel userID is connected to in
// guildID, or "".
type VoiceLocator func(guildID, userID string) string

const (
	controlTimeout = 10 * time.Second
	lookupTimeout  = 45 * time.Second

	// maxQueueLines bounds how many pending titles /queue lists.
	maxQueueLines = 15

	// maxChoices is Discord's autocomplete limit.
	maxChoices = 25

	queueEmbedColor = 0x5865F2
)

// PlaybackConfig holds the dependencies of [PlaybackCommands].
type PlaybackConfig struct {
	Player   Player
	Notifier *discord.Notifier
	Voice    VoiceLocator
	Phrases  *PhraseBook
	Logger   *slog.Logger

	// Suggest proposes the closest name for mistyped text commands and
	// phrases. Defaults to suggest.New().
	Suggest *suggest.Matcher
}

// PlaybackCommands handles /say, /play, /skip, /pause, /resume, /stop,
// /leave, /queue and /phrase, their prefixed text forms and the player
// buttons.
type PlaybackCommands struct {
	player   Player
	notifier *discord.Notifier
	voice    VoiceLocator
	phrases  *PhraseBook
	suggest  *suggest.Matcher
	log      *slog.Logger
}

// NewPlaybackCommands creates a PlaybackCommands from cfg.
func NewPlaybackCommands(cfg PlaybackConfig) *PlaybackCommands {
	if cfg.Phrases == nil {
		cfg.Phrases = NewPhraseBook(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Suggest == nil {
		cfg.Suggest = suggest.New()
	}
	return &PlaybackCommands{
		player:   cfg.Player,
		notifier: cfg.Notifier,
		voice:    cfg.Voice,
		phrases:  cfg.Phrases,
		suggest:  cfg.Suggest,
		log:      cfg.Logger,
	}
}

// Phrases returns the preset book so it can be updated on reload.
func (pc *PlaybackCommands) Phrases() *PhraseBook { return pc.phrases }

// Register installs every slash command, button and text command.
func (pc *PlaybackCommands) Register(router *discord.CommandRouter, prefix *discord.PrefixRouter) {
	for _, def := range pc.Definitions() {
		router.RegisterCommand(def.Name, def, pc.slashHandler(def.Name))
	}
	router.RegisterAutocomplete("phrase", pc.handlePhraseAutocomplete)

	router.RegisterComponent(discord.ButtonPause, pc.buttonHandler("toggle"))
	router.RegisterComponent(discord.ButtonSkip, pc.buttonHandler("skip"))
	router.RegisterComponent(discord.ButtonStop, pc.buttonHandler("stop"))

	prefix.Register("say", pc.prefixSay)
	prefix.Register("play", pc.prefixPlay)
	prefix.Register("queue", pc.prefixQueue)
	for _, op := range []string{"skip", "pause", "resume", "stop", "leave"} {
		prefix.Register(op, pc.prefixControl(op))
	}
	prefix.SetFallback(func(r discord.Responder, m *discordgo.MessageCreate, word, _ string) bool {
		if pc.prefixPhrase(r, m, word) {
			return true
		}
		return pc.suggestCommand(r, m, word, prefix.Words())
	})
}

// Definitions returns the ApplicationCommand definitions for Discord.
func (pc *PlaybackCommands) Definitions() []*discordgo.ApplicationCommand {
	textOption := func(name, desc string, autocomplete bool) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         name,
			Description:  desc,
			Required:     true,
			Autocomplete: autocomplete,
		}}
	}
	return []*discordgo.ApplicationCommand{
		{Name: "say", Description: "Speak text in your voice channel", Options: textOption("text", "What to say", false)},
		{Name: "play", Description: "Play a song, playlist or stream URL", Options: textOption("query", "Search terms or URL", false)},
		{Name: "skip", Description: "Skip the current item"},
		{Name: "pause", Description: "Pause playback"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "stop", Description: "Clear the queue and leave the voice channel"},
		{Name: "leave", Description: "Clear the queue and leave the voice channel"},
		{Name: "queue", Description: "Show what is playing and what is queued"},
		{Name: "phrase", Description: "Speak a preset phrase", Options: textOption("name", "Preset name", true)},
	}
}

// ─── Slash commands ──────────────────────────────────────────────────────────

func (pc *PlaybackCommands) slashHandler(name string) discord.HandlerFunc {
	switch name {
	case "say":
		return pc.handleSay
	case "play":
		return pc.handlePlay
	case "queue":
		return pc.handleQueue
	case "phrase":
		return pc.handlePhrase
	default:
		return pc.handleControl(name)
	}
}

func (pc *PlaybackCommands) handleSay(r discord.Responder, i *discordgo.InteractionCreate) {
	req := pc.interactionRequester(i)
	msg, err := pc.speak(i.GuildID, req, stringOption(i, "text"), pc.notifier.Interaction(i))
	pc.reply(r, i, msg, err)
}

func (pc *PlaybackCommands) handlePhrase(r discord.Responder, i *discordgo.InteractionCreate) {
	name := stringOption(i, "name")
	text, ok := pc.phrases.Get(name)
	if !ok {
		msg := fmt.Sprintf("Unknown phrase %q.", name)
		if best, _, found := pc.suggest.Closest(name, pc.phrases.Names()); found {
			msg += fmt.Sprintf(" Did you mean %q?", best)
		}
		discord.RespondEphemeral(r, i, msg)
		return
	}
	req := pc.interactionRequester(i)
	msg, err := pc.speak(i.GuildID, req, text, pc.notifier.Interaction(i))
	pc.reply(r, i, msg, err)
}

func (pc *PlaybackCommands) handlePhraseAutocomplete(r discord.Responder, i *discordgo.InteractionCreate) {
	typed := strings.ToLower(stringOption(i, "name"))
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, name := range pc.phrases.Names() {
		if !strings.Contains(name, typed) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
		if len(choices) == maxChoices {
			break
		}
	}
	discord.RespondChoices(r, i, choices)
}

func (pc *PlaybackCommands) handlePlay(r discord.Responder, i *discordgo.InteractionCreate) {
	req := pc.interactionRequester(i)
	if req.ChannelID == "" {
		discord.RespondEphemeral(r, i, userMessage(playback.ErrNotInVoice))
		return
	}
	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	msg, err := pc.play(ctx, i.GuildID, req, stringOption(i, "query"), pc.notifier.Interaction(i))
	if err != nil {
		msg = "⚠️ " + msg
	}
	discord.FollowUp(r, i, msg)
}

func (pc *PlaybackCommands) handleQueue(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	embed, err := pc.queue(ctx, i.GuildID)
	if err != nil {
		discord.RespondEphemeral(r, i, userMessage(err))
		return
	}
	discord.RespondEmbed(r, i, embed)
}

func (pc *PlaybackCommands) handleControl(op string) discord.HandlerFunc {
	return func(r discord.Responder, i *discordgo.InteractionCreate) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		msg, err := pc.control(ctx, i.GuildID, op)
		pc.reply(r, i, msg, err)
	}
}

func (pc *PlaybackCommands) buttonHandler(op string) discord.HandlerFunc {
	return func(r discord.Responder, i *discordgo.InteractionCreate) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		msg, err := pc.control(ctx, i.GuildID, op)
		if err != nil {
			discord.RespondEphemeral(r, i, msg)
			return
		}
		name := ""
		if u := interactionUser(i); u != nil {
			name = u.DisplayName()
		}
		discord.Respond(r, i, fmt.Sprintf("%s (%s)", msg, name))
	}
}

// reply answers publicly on success and ephemerally on failure.
func (pc *PlaybackCommands) reply(r discord.Responder, i *discordgo.InteractionCreate, msg string, err error) {
	if err != nil {
		discord.RespondEphemeral(r, i, msg)
		return
	}
	discord.Respond(r, i, msg)
}

// ─── Prefix commands ─────────────────────────────────────────────────────────

func (pc *PlaybackCommands) prefixSay(r discord.Responder, m *discordgo.MessageCreate, args string) {
	msg, _ := pc.speak(m.GuildID, pc.messageRequester(m), args, pc.notifier.Channel(m.ChannelID))
	discord.Send(r, m.ChannelID, msg)
}

func (pc *PlaybackCommands) prefixPlay(r discord.Responder, m *discordgo.MessageCreate, args string) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	msg, err := pc.play(ctx, m.GuildID, pc.messageRequester(m), args, pc.notifier.Channel(m.ChannelID))
	if err != nil {
		msg = "⚠️ " + msg
	}
	discord.Send(r, m.ChannelID, msg)
}

func (pc *PlaybackCommands) prefixQueue(r discord.Responder, m *discordgo.MessageCreate, _ string) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	embed, err := pc.queue(ctx, m.GuildID)
	if err != nil {
		discord.Send(r, m.ChannelID, userMessage(err))
		return
	}
	discord.SendEmbed(r, m.ChannelID, embed)
}

func (pc *PlaybackCommands) prefixControl(op string) discord.PrefixFunc {
	return func(r discord.Responder, m *discordgo.MessageCreate, _ string) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		msg, _ := pc.control(ctx, m.GuildID, op)
		discord.Send(r, m.ChannelID, msg)
	}
}

// prefixPhrase speaks the preset named by word, e.g. "h!greet".
func (pc *PlaybackCommands) prefixPhrase(r discord.Responder, m *discordgo.MessageCreate, word string) bool {
	text, ok := pc.phrases.Get(word)
	if !ok {
		return false
	}
	msg, err := pc.speak(m.GuildID, pc.messageRequester(m), text, pc.notifier.Channel(m.ChannelID))
	if err != nil {
		discord.Send(r, m.ChannelID, msg)
	}
	return true
}

// suggestCommand answers an unknown command word only when a registered
// command or phrase is close to it, so commands meant for other bots
// sharing a prefix stay unanswered.
func (pc *PlaybackCommands) suggestCommand(r discord.Responder, m *discordgo.MessageCreate, word string, commands []string) bool {
	best, _, ok := pc.suggest.Closest(word, append(commands, pc.phrases.Names()...))
	if !ok {
		return false
	}
	discord.Send(r, m.ChannelID, fmt.Sprintf("Unknown command `%s`. Did you mean `%s`?", word, best))
	return true
}

// ─── Actions ─────────────────────────────────────────────────────────────────

// speak queues text and returns the reply. err is non-nil when the reply
// describes a failure.
func (pc *PlaybackCommands) speak(guildID string, req playback.Requester, text string, sink playback.ReplySink) (string, error) {
	if err := pc.player.SubmitUtterance(guildID, req, text, sink); err != nil {
		pc.logFailure("say", guildID, err)
		return userMessage(err), err
	}
	title := playback.NewUtterance(req, text, "", nil).Title()
	return fmt.Sprintf("🗣️ Queued: %s", title), nil
}

func (pc *PlaybackCommands) play(ctx context.Context, guildID string, req playback.Requester, query string, sink playback.ReplySink) (string, error) {
	res, err := pc.player.SubmitTrack(ctx, guildID, req, query, sink)
	if err != nil {
		pc.logFailure("play", guildID, err)
		return userMessage(err), err
	}
	if res.IsPlaylist() {
		return fmt.Sprintf("🎶 Added playlist **%s** (%d tracks)", res.Playlist, len(res.Tracks)), nil
	}
	if len(res.Tracks) == 0 {
		return "Nothing found.", nil
	}
	t := res.Tracks[0]
	title := t.Title
	if title == "" {
		title = t.URL
	}
	return fmt.Sprintf("🎵 Added **%s** to the queue", title), nil
}

// control runs a session operation. "toggle" pauses or resumes depending
// on the current state.
func (pc *PlaybackCommands) control(ctx context.Context, guildID, op string) (string, error) {
	var (
		err error
		msg string
	)
	switch op {
	case "skip":
		msg = "⏭️ Skipped."
		err = pc.player.Skip(ctx, guildID)
	case "pause":
		msg = "⏸️ Paused."
		err = pc.player.Pause(ctx, guildID)
	case "resume":
		msg = "▶️ Resumed."
		err = pc.player.Resume(ctx, guildID)
	case "stop", "leave":
		msg = "⏹️ Stopped and left the voice channel."
		err = pc.player.Stop(ctx, guildID)
	case "toggle":
		var st playback.Status
		st, err = pc.player.Status(ctx, guildID)
		if err == nil {
			if st.State == playback.StatePaused {
				return pc.control(ctx, guildID, "resume")
			}
			return pc.control(ctx, guildID, "pause")
		}
	default:
		err = fmt.Errorf("commands: unknown control %q", op)
	}
	if err != nil {
		pc.logFailure(op, guildID, err)
		return userMessage(err), err
	}
	return msg, nil
}

func (pc *PlaybackCommands) queue(ctx context.Context, guildID string) (*discordgo.MessageEmbed, error) {
	st, err := pc.player.Status(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return QueueEmbed(st), nil
}

// QueueEmbed renders a session status for /queue.
func QueueEmbed(st playback.Status) *discordgo.MessageEmbed {
	now := "Nothing"
	if st.Current != "" {
		now = st.Current
		if st.State == playback.StatePaused {
			now += " (paused)"
		}
		if st.Requester.DisplayName != "" {
			now += " · " + st.Requester.DisplayName
		}
	}

	var b strings.Builder
	for n, title := range st.Queued {
		if n == maxQueueLines {
			fmt.Fprintf(&b, "…and %d more\n", len(st.Queued)-maxQueueLines)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", n+1, title)
	}
	queued := b.String()
	if queued == "" {
		queued = "Empty"
	}

	return &discordgo.MessageEmbed{
		Title: "Queue",
		Color: queueEmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Now playing", Value: now},
			{Name: fmt.Sprintf("Up next (%d)", len(st.Queued)), Value: queued},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: st.State.String()},
	}
}

func (pc *PlaybackCommands) logFailure(op, guildID string, err error) {
	if isUserError(err) {
		pc.log.Debug("commands: request rejected", "op", op, "guild_id", guildID, "err", err)
		return
	}
	pc.log.Warn("commands: request failed", "op", op, "guild_id", guildID, "err", err)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func isUserError(err error) bool {
	for _, target := range []error{
		playback.ErrNotInVoice,
		playback.ErrNoSession,
		playback.ErrNothingPlaying,
		playback.ErrAlreadyPaused,
		playback.ErrNotPaused,
		playback.ErrEmptyRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// userMessage maps a playback error to a reply.
func userMessage(err error) string {
	var re *playback.ResolutionError
	switch {
	case errors.Is(err, playback.ErrNotInVoice):
		return "You need to be in a voice channel first."
	case errors.Is(err, playback.ErrNoSession):
		return "I'm not in a voice channel in this server."
	case errors.Is(err, playback.ErrNothingPlaying):
		return "Nothing is playing right now."
	case errors.Is(err, playback.ErrAlreadyPaused):
		return "Playback is already paused."
	case errors.Is(err, playback.ErrNotPaused):
		return "Playback is not paused."
	case errors.Is(err, playback.ErrEmptyRequest):
		return "Tell me what to say or play."
	case errors.Is(err, media.ErrNotFound):
		return "Nothing found."
	case errors.Is(err, media.ErrUnsupported):
		return "I can't play that."
	case errors.As(err, &re):
		return fmt.Sprintf("Couldn't load %s: %v", re.Title, re.Err)
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

func (pc *PlaybackCommands) interactionRequester(i *discordgo.InteractionCreate) playback.Requester {
	u := interactionUser(i)
	if u == nil {
		return playback.Requester{}
	}
	name := u.DisplayName()
	if i.Member != nil && i.Member.Nick != "" {
		name = i.Member.Nick
	}
	return playback.Requester{
		UserID:      u.ID,
		DisplayName: name,
		ChannelID:   pc.voiceChannel(i.GuildID, u.ID),
	}
}

func (pc *PlaybackCommands) messageRequester(m *discordgo.MessageCreate) playback.Requester {
	name := m.Author.DisplayName()
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return playback.Requester{
		UserID:      m.Author.ID,
		DisplayName: name,
		ChannelID:   pc.voiceChannel(m.GuildID, m.Author.ID),
	}
}

func (pc *PlaybackCommands) voiceChannel(guildID, userID string) string {
	if pc.voice == nil {
		return ""
	}
	return pc.voice(guildID, userID)
}

// interactionUser extracts the invoking user, handling both guild (Member)
// and DM (User) contexts.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// stringOption returns the named top-level string option, or "".
func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name != name {
			continue
		}
		if s, ok := opt.Value.(string); ok {
			return s
		}
	}
	return ""
}
