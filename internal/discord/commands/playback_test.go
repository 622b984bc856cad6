package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxqueue/internal/discord"
	"github.com/MrWong99/voxqueue/internal/discord/mock"
	"github.com/MrWong99/voxqueue/internal/playback"
	"github.com/MrWong99/voxqueue/pkg/provider/media"
)

// fakePlayer records every call and returns scripted results.
type fakePlayer struct {
	mu sync.Mutex

	Utterances []string
	Queries    []string
	Ops        []string
	LastReq    playback.Requester
	LastSink   playback.ReplySink

	SubmitErr    error
	TrackResult  media.Result
	ControlErr   error
	StatusResult playback.Status
	StatusErr    error
}

func (f *fakePlayer) SubmitUtterance(_ string, req playback.Requester, text string, sink playback.ReplySink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Utterances = append(f.Utterances, text)
	f.LastReq, f.LastSink = req, sink
	return f.SubmitErr
}

func (f *fakePlayer) SubmitTrack(_ context.Context, _ string, req playback.Requester, query string, sink playback.ReplySink) (media.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	f.LastReq, f.LastSink = req, sink
	if f.SubmitErr != nil {
		return media.Result{}, f.SubmitErr
	}
	return f.TrackResult, nil
}

func (f *fakePlayer) op(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, name)
	return f.ControlErr
}

func (f *fakePlayer) Skip(context.Context, string) error   { return f.op("skip") }
func (f *fakePlayer) Pause(context.Context, string) error  { return f.op("pause") }
func (f *fakePlayer) Resume(context.Context, string) error { return f.op("resume") }
func (f *fakePlayer) Stop(context.Context, string) error   { return f.op("stop") }

func (f *fakePlayer) Status(context.Context, string) (playback.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StatusResult, f.StatusErr
}

type fixture struct {
	player *fakePlayer
	resp   *mock.Responder
	cmds   *PlaybackCommands
	router *discord.CommandRouter
	prefix *discord.PrefixRouter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		player: &fakePlayer{},
		resp:   &mock.Responder{},
		router: discord.NewCommandRouter(),
		prefix: discord.NewPrefixRouter([]string{"h!"}),
	}
	f.cmds = NewPlaybackCommands(PlaybackConfig{
		Player:   f.player,
		Notifier: discord.NewNotifier(f.resp, 0, nil),
		Voice: func(guildID, userID string) string {
			if guildID == "g1" && userID == "u1" {
				return "vc-1"
			}
			return ""
		},
		Phrases: NewPhraseBook(map[string]string{"Greet": "Xin chào mọi người", "bye": "Tạm biệt"}),
	})
	f.cmds.Register(f.router, f.prefix)
	return f
}

func slash(name string, userID string, opts map[string]string) *discordgo.InteractionCreate {
	var options []*discordgo.ApplicationCommandInteractionDataOption
	for k, v := range opts {
		options = append(options, &discordgo.ApplicationCommandInteractionDataOption{
			Name:  k,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: v,
		})
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "text-1",
		Member: &discordgo.Member{
			User: &discordgo.User{ID: userID, Username: "alice"},
			Nick: "Ali",
		},
		Data: discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
	}}
}

func button(customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionMessageComponent,
		GuildID: "g1",
		Member: &discordgo.Member{
			User: &discordgo.User{ID: "u1", Username: "alice"},
		},
		Data: discordgo.MessageComponentInteractionData{CustomID: customID},
	}}
}

func textMessage(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		Content:   content,
		GuildID:   "g1",
		ChannelID: "text-1",
		Author:    &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice"},
		Member:    &discordgo.Member{},
	}}
}

func isEphemeral(r *discordgo.InteractionResponse) bool {
	return r.Data != nil && r.Data.Flags&discordgo.MessageFlagsEphemeral != 0
}

func TestSay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.router.Handle(f.resp, slash("say", "u1", map[string]string{"text": "xin chào"}))

	if len(f.player.Utterances) != 1 || f.player.Utterances[0] != "xin chào" {
		t.Fatalf("utterances = %v", f.player.Utterances)
	}
	want := playback.Requester{UserID: "u1", DisplayName: "Ali", ChannelID: "vc-1"}
	if f.player.LastReq != want {
		t.Errorf("requester = %+v, want %+v", f.player.LastReq, want)
	}
	if _, ok := f.player.LastSink.(*discord.InteractionSink); !ok {
		t.Errorf("sink = %T, want *discord.InteractionSink", f.player.LastSink)
	}
	resp := f.resp.LastResponse()
	if resp == nil || isEphemeral(resp) || !strings.Contains(resp.Data.Content, "xin chào") {
		t.Errorf("response = %+v", resp)
	}
}

func TestSay_Rejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.player.SubmitErr = playback.ErrNotInVoice

	f.router.Handle(f.resp, slash("say", "u2", map[string]string{"text": "hello"}))

	resp := f.resp.LastResponse()
	if resp == nil || !isEphemeral(resp) {
		t.Fatalf("rejection should be ephemeral, got %+v", resp)
	}
	if !strings.Contains(resp.Data.Content, "voice channel") {
		t.Errorf("content = %q", resp.Data.Content)
	}
}

func TestPlay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result media.Result
		err    error
		want   string
	}{
		{
			name:   "single track",
			result: media.Result{Tracks: []media.Track{{Title: "Lofi"}}},
			want:   "Added **Lofi** to the queue",
		},
		{
			name:   "playlist",
			result: media.Result{Playlist: "Chill", Tracks: []media.Track{{Title: "a"}, {Title: "b"}}},
			want:   "Added playlist **Chill** (2 tracks)",
		},
		{
			name: "lookup failure",
			err:  &playback.ResolutionError{Kind: playback.KindTrack, Title: "lofi", Err: media.ErrNotFound},
			want: "⚠️ Nothing found.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.player.TrackResult = tt.result
			f.player.SubmitErr = tt.err

			f.router.Handle(f.resp, slash("play", "u1", map[string]string{"query": "lofi"}))

			if len(f.player.Queries) != 1 || f.player.Queries[0] != "lofi" {
				t.Fatalf("queries = %v", f.player.Queries)
			}
			if resp := f.resp.LastResponse(); resp.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
				t.Errorf("first response type = %v, want deferred", resp.Type)
			}
			fu := f.resp.LastFollowUp()
			if fu == nil || !strings.Contains(fu.Content, tt.want) {
				t.Errorf("follow-up = %+v, want %q", fu, tt.want)
			}
		})
	}
}

func TestPlay_NotInVoiceSkipsLookup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.router.Handle(f.resp, slash("play", "u2", map[string]string{"query": "lofi"}))

	if len(f.player.Queries) != 0 {
		t.Errorf("lookup should not run, queries = %v", f.player.Queries)
	}
	if resp := f.resp.LastResponse(); resp == nil || !isEphemeral(resp) {
		t.Errorf("response = %+v, want ephemeral rejection", resp)
	}
}

func TestControlCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd       string
		err       error
		wantOp    string
		wantText  string
		ephemeral bool
	}{
		{cmd: "skip", wantOp: "skip", wantText: "Skipped"},
		{cmd: "pause", wantOp: "pause", wantText: "Paused"},
		{cmd: "resume", wantOp: "resume", wantText: "Resumed"},
		{cmd: "stop", wantOp: "stop", wantText: "Stopped"},
		{cmd: "leave", wantOp: "stop", wantText: "Stopped"},
		{cmd: "skip", err: playback.ErrNothingPlaying, wantOp: "skip", wantText: "Nothing is playing", ephemeral: true},
		{cmd: "pause", err: playback.ErrAlreadyPaused, wantOp: "pause", wantText: "already paused", ephemeral: true},
		{cmd: "resume", err: playback.ErrNotPaused, wantOp: "resume", wantText: "not paused", ephemeral: true},
		{cmd: "stop", err: playback.ErrNoSession, wantOp: "stop", wantText: "not in a voice channel", ephemeral: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.cmd, tt.err), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.player.ControlErr = tt.err

			f.router.Handle(f.resp, slash(tt.cmd, "u1", nil))

			if len(f.player.Ops) != 1 || f.player.Ops[0] != tt.wantOp {
				t.Fatalf("ops = %v, want [%s]", f.player.Ops, tt.wantOp)
			}
			resp := f.resp.LastResponse()
			if !strings.Contains(resp.Data.Content, tt.wantText) {
				t.Errorf("content = %q, want %q", resp.Data.Content, tt.wantText)
			}
			if isEphemeral(resp) != tt.ephemeral {
				t.Errorf("ephemeral = %v, want %v", isEphemeral(resp), tt.ephemeral)
			}
		})
	}
}

func TestPauseButtonToggles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state  playback.State
		wantOp string
	}{
		{state: playback.StatePlaying, wantOp: "pause"},
		{state: playback.StatePaused, wantOp: "resume"},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.player.StatusResult = playback.Status{State: tt.state, Current: "Song"}

			f.router.Handle(f.resp, button(discord.ButtonPause))

			if len(f.player.Ops) != 1 || f.player.Ops[0] != tt.wantOp {
				t.Errorf("ops = %v, want [%s]", f.player.Ops, tt.wantOp)
			}
			if resp := f.resp.LastResponse(); isEphemeral(resp) || !strings.Contains(resp.Data.Content, "alice") {
				t.Errorf("response = %+v", resp.Data)
			}
		})
	}
}

func TestQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.player.StatusResult = playback.Status{
		State:     playback.StatePaused,
		Current:   "Song",
		Requester: playback.Requester{DisplayName: "Ali"},
		Queued:    []string{"a", "b"},
	}

	f.router.Handle(f.resp, slash("queue", "u1", nil))

	resp := f.resp.LastResponse()
	if resp == nil || len(resp.Data.Embeds) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	embed := resp.Data.Embeds[0]
	if got := embed.Fields[0].Value; got != "Song (paused) · Ali" {
		t.Errorf("now playing = %q", got)
	}
	if got := embed.Fields[1].Value; got != "1. a\n2. b\n" {
		t.Errorf("up next = %q", got)
	}

	f.player.StatusErr = playback.ErrNoSession
	f.router.Handle(f.resp, slash("queue", "u1", nil))
	if resp := f.resp.LastResponse(); !isEphemeral(resp) {
		t.Errorf("no-session response should be ephemeral: %+v", resp)
	}
}

func TestQueueEmbed_Truncates(t *testing.T) {
	t.Parallel()
	var queued []string
	for n := range maxQueueLines + 5 {
		queued = append(queued, fmt.Sprintf("t%d", n))
	}
	embed := QueueEmbed(playback.Status{State: playback.StateIdle, Queued: queued})

	if embed.Fields[0].Value != "Nothing" {
		t.Errorf("now playing = %q", embed.Fields[0].Value)
	}
	if !strings.Contains(embed.Fields[1].Value, "…and 5 more") {
		t.Errorf("up next = %q", embed.Fields[1].Value)
	}
	if strings.Contains(embed.Fields[1].Value, fmt.Sprintf("t%d", maxQueueLines)) {
		t.Error("titles past the limit should not be listed")
	}
	if embed.Fields[1].Name != fmt.Sprintf("Up next (%d)", maxQueueLines+5) {
		t.Errorf("field name = %q", embed.Fields[1].Name)
	}
}

func TestPhrase(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.router.Handle(f.resp, slash("phrase", "u1", map[string]string{"name": "greet"}))
	if len(f.player.Utterances) != 1 || f.player.Utterances[0] != "Xin chào mọi người" {
		t.Fatalf("utterances = %v", f.player.Utterances)
	}

	f.router.Handle(f.resp, slash("phrase", "u1", map[string]string{"name": "missing"}))
	if resp := f.resp.LastResponse(); !isEphemeral(resp) || !strings.Contains(resp.Data.Content, "Unknown phrase") {
		t.Errorf("response = %+v", resp.Data)
	}
	if len(f.player.Utterances) != 1 {
		t.Errorf("unknown phrase should not be queued")
	}
}

func TestPhraseAutocomplete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	i := slash("phrase", "u1", map[string]string{"name": "GR"})
	i.Type = discordgo.InteractionApplicationCommandAutocomplete

	f.router.Handle(f.resp, i)

	resp := f.resp.LastResponse()
	if resp.Type != discordgo.InteractionApplicationCommandAutocompleteResult {
		t.Fatalf("response type = %v", resp.Type)
	}
	if len(resp.Data.Choices) != 1 || resp.Data.Choices[0].Name != "greet" {
		t.Errorf("choices = %+v", resp.Data.Choices)
	}
}

func TestPrefixCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.player.TrackResult = media.Result{Tracks: []media.Track{{URL: "https://example.com/a.mp3"}}}

	f.prefix.Handle(f.resp, textMessage("h!say chào bạn"))
	f.prefix.Handle(f.resp, textMessage("h!bye"))
	f.prefix.Handle(f.resp, textMessage("h!play https://example.com/a.mp3"))
	f.prefix.Handle(f.resp, textMessage("h!skip"))
	f.prefix.Handle(f.resp, textMessage("h!nonsense"))

	if got := strings.Join(f.player.Utterances, "|"); got != "chào bạn|Tạm biệt" {
		t.Errorf("utterances = %q", got)
	}
	if len(f.player.Queries) != 1 {
		t.Errorf("queries = %v", f.player.Queries)
	}
	if len(f.player.Ops) != 1 || f.player.Ops[0] != "skip" {
		t.Errorf("ops = %v", f.player.Ops)
	}
	if _, ok := f.player.LastSink.(*discord.ChannelSink); !ok {
		t.Errorf("sink = %T, want *discord.ChannelSink", f.player.LastSink)
	}
	if f.player.LastReq.DisplayName != "Alice" || f.player.LastReq.ChannelID != "vc-1" {
		t.Errorf("requester = %+v", f.player.LastReq)
	}

	// say, play and skip reply; a successful phrase stays silent.
	var replies []string
	for _, m := range f.resp.Messages {
		replies = append(replies, m.Message.Content)
	}
	if len(replies) != 3 {
		t.Fatalf("replies = %q, want 3", replies)
	}
	if !strings.Contains(replies[1], "Added **https://example.com/a.mp3**") {
		t.Errorf("play reply = %q", replies[1])
	}
}

func TestSuggestions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.prefix.Handle(f.resp, textMessage("h!plya song"))
	if len(f.player.Queries) != 0 {
		t.Fatalf("a mistyped command must not run, queries = %v", f.player.Queries)
	}
	if got := f.resp.LastMessage().Message.Content; got != "Unknown command `plya`. Did you mean `play`?" {
		t.Errorf("suggestion = %q", got)
	}

	f.prefix.Handle(f.resp, textMessage("h!gret"))
	if got := f.resp.LastMessage().Message.Content; !strings.Contains(got, "Did you mean `greet`?") {
		t.Errorf("phrase suggestion = %q", got)
	}

	f.router.Handle(f.resp, slash("phrase", "u1", map[string]string{"name": "gret"}))
	if resp := f.resp.LastResponse(); !isEphemeral(resp) || !strings.Contains(resp.Data.Content, `Did you mean "greet"?`) {
		t.Errorf("slash suggestion = %+v", resp.Data)
	}
	if len(f.player.Utterances) != 0 {
		t.Errorf("utterances = %v, want none", f.player.Utterances)
	}
}

func TestPhraseBook_Reload(t *testing.T) {
	t.Parallel()
	b := NewPhraseBook(map[string]string{"a": "1"})
	b.Set(map[string]string{"B": "2"})

	if _, ok := b.Get("a"); ok {
		t.Error("old phrase should be gone after Set")
	}
	if text, ok := b.Get("b"); !ok || text != "2" {
		t.Errorf("Get(b) = %q, %v", text, ok)
	}
	if names := b.Names(); len(names) != 1 || names[0] != "b" {
		t.Errorf("Names = %v", names)
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{playback.ErrNotInVoice, "voice channel first"},
		{playback.ErrEmptyRequest, "what to say or play"},
		{fmt.Errorf("wrapped: %w", playback.ErrNothingPlaying), "Nothing is playing"},
		{&playback.ResolutionError{Title: "x", Err: media.ErrUnsupported}, "can't play that"},
		{&playback.ResolutionError{Title: "x", Err: errors.New("quota")}, "Couldn't load x: quota"},
		{errors.New("boom"), "Something went wrong: boom"},
	}
	for _, tt := range tests {
		if got := userMessage(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("userMessage(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
