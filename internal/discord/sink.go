package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxqueue/internal/playback"
)

// Custom IDs of the player control buttons attached to "now playing"
// notices.
const (
	ButtonPause = "player:pause"
	ButtonSkip  = "player:skip"
	ButtonStop  = "player:stop"
)

const (
	defaultNotifyBurst = 3

	// maxNotifyWait bounds how long a notice waits for its channel's rate
	// limiter before it is dropped.
	maxNotifyWait = 5 * time.Second

	// interactionTTL is how long an interaction token accepts follow-ups.
	// Discord allows 15 minutes.
	interactionTTL = 14 * time.Minute
)

// Notifier delivers playback notices to Discord text channels. Notify never
// blocks the session: each channel with pending notices has one worker that
// sends them in order, under that channel's own rate limit. A worker exits
// once its queue is empty and its limiter has refilled, so idle channels
// cost nothing.
type Notifier struct {
	r     Responder
	limit rate.Limit
	burst int
	log   *slog.Logger
	now   func() time.Time

	mu       sync.Mutex
	outboxes map[string]*outbox // channels with a running worker
	quit     chan struct{}
	quitOnce sync.Once

	wg sync.WaitGroup
}

// outbox is the FIFO of one channel. Its fields are guarded by Notifier.mu.
type outbox struct {
	limiter *rate.Limiter
	queue   []delivery
	wake    chan struct{}
}

type delivery struct {
	notice   playback.Notice
	send     func() error
	deadline time.Time
}

// NewNotifier creates a Notifier that sends at most perSecond messages per
// channel. Zero or negative disables rate limiting.
func NewNotifier(r Responder, perSecond float64, logger *slog.Logger) *Notifier {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		r:        r,
		limit:    limit,
		burst:    defaultNotifyBurst,
		log:      logger,
		now:      time.Now,
		outboxes: make(map[string]*outbox),
		quit:     make(chan struct{}),
	}
}

// Channel returns a sink that posts into channelID.
func (n *Notifier) Channel(channelID string) *ChannelSink {
	return &ChannelSink{n: n, channelID: channelID}
}

// Interaction returns a sink that answers with follow-ups to i while its
// token is valid and falls back to i's channel afterwards.
func (n *Notifier) Interaction(i *discordgo.InteractionCreate) *InteractionSink {
	return &InteractionSink{n: n, i: i, created: n.now()}
}

// Wait blocks until every queued notice has been sent or dropped. From then
// on workers exit as soon as their queue is empty instead of keeping their
// limiter warm.
func (n *Notifier) Wait() {
	n.quitOnce.Do(func() { close(n.quit) })
	n.wg.Wait()
}

// deliver queues send behind the notices already pending for channelID and
// starts the channel's worker if it is not running.
func (n *Notifier) deliver(channelID string, notice playback.Notice, send func() error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ob, ok := n.outboxes[channelID]
	if !ok {
		ob = &outbox{
			limiter: rate.NewLimiter(n.limit, n.burst),
			wake:    make(chan struct{}, 1),
		}
		n.outboxes[channelID] = ob
		n.wg.Go(func() { n.run(channelID, ob) })
	}
	ob.queue = append(ob.queue, delivery{
		notice:   notice,
		send:     send,
		deadline: time.Now().Add(maxNotifyWait),
	})
	select {
	case ob.wake <- struct{}{}:
	default:
	}
}

// run is the worker of one channel.
func (n *Notifier) run(channelID string, ob *outbox) {
	for {
		n.mu.Lock()
		if len(ob.queue) == 0 {
			refill := n.untilRefilled(ob.limiter)
			if refill <= 0 || n.quitting() {
				delete(n.outboxes, channelID)
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()
			t := time.NewTimer(refill)
			select {
			case <-ob.wake:
			case <-t.C:
			case <-n.quit:
			}
			t.Stop()
			continue
		}
		d := ob.queue[0]
		ob.queue[0] = delivery{}
		ob.queue = ob.queue[1:]
		n.mu.Unlock()

		n.send(channelID, ob.limiter, d)
	}
}

func (n *Notifier) send(channelID string, l *rate.Limiter, d delivery) {
	ctx, cancel := context.WithDeadline(context.Background(), d.deadline)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		n.log.Debug("discord: notice dropped by rate limit", "channel_id", channelID, "guild_id", d.notice.GuildID)
		return
	}
	if err := d.send(); err != nil {
		n.log.Warn("discord: failed to deliver notice", "channel_id", channelID, "guild_id", d.notice.GuildID, "err", err)
	}
}

// untilRefilled returns how long l needs to regain its full burst. A worker
// that exits earlier would hand its channel a fresh burst.
func (n *Notifier) untilRefilled(l *rate.Limiter) time.Duration {
	if l.Limit() == rate.Inf {
		return 0
	}
	missing := float64(l.Burst()) - l.TokensAt(time.Now())
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.Limit()) * float64(time.Second))
}

func (n *Notifier) quitting() bool {
	select {
	case <-n.quit:
		return true
	default:
		return false
	}
}

// ChannelSink posts notices as plain channel messages. Used for prefix
// commands.
type ChannelSink struct {
	n         *Notifier
	channelID string
}

var _ playback.ReplySink = (*ChannelSink)(nil)

// Notify implements [playback.ReplySink].
func (s *ChannelSink) Notify(notice playback.Notice) {
	msg, ok := RenderNotice(notice)
	if !ok {
		return
	}
	s.n.deliver(s.channelID, notice, func() error {
		_, err := s.n.r.ChannelMessageSendComplex(s.channelID, msg)
		return err
	})
}

// InteractionSink answers notices as follow-ups to the slash command that
// queued the item.
type InteractionSink struct {
	n       *Notifier
	i       *discordgo.InteractionCreate
	created time.Time
}

var _ playback.ReplySink = (*InteractionSink)(nil)

// Notify implements [playback.ReplySink].
func (s *InteractionSink) Notify(notice playback.Notice) {
	msg, ok := RenderNotice(notice)
	if !ok {
		return
	}
	channelID := s.i.ChannelID
	if s.n.now().Sub(s.created) >= interactionTTL {
		s.n.deliver(channelID, notice, func() error {
			_, err := s.n.r.ChannelMessageSendComplex(channelID, msg)
			return err
		})
		return
	}
	s.n.deliver(channelID, notice, func() error {
		_, err := s.n.r.FollowupMessageCreate(s.i.Interaction, false, &discordgo.WebhookParams{
			Content:    msg.Content,
			Components: msg.Components,
		})
		return err
	})
}

// RenderNotice turns a notice into a Discord message. Start notices for
// utterances are not posted; the speech itself is the feedback.
func RenderNotice(n playback.Notice) (*discordgo.MessageSend, bool) {
	switch n.Kind {
	case playback.NoticeStarted:
		if n.Item.Kind() != playback.KindTrack {
			return nil, false
		}
		content := fmt.Sprintf("▶️ Now playing: **%s**", n.Item.Title())
		if name := n.Item.Requester().DisplayName; name != "" {
			content += fmt.Sprintf(" (requested by %s)", name)
		}
		return &discordgo.MessageSend{
			Content:    content,
			Components: PlayerControls(),
		}, true

	case playback.NoticeFailed:
		content := "⚠️ " + n.Message
		if cause := noticeCause(n.Err); cause != nil {
			content += fmt.Sprintf("\n-# %v", cause)
		}
		return &discordgo.MessageSend{Content: content}, true

	default:
		if n.Message == "" {
			return nil, false
		}
		return &discordgo.MessageSend{Content: n.Message}, true
	}
}

// noticeCause strips the playback error wrappers so users see the
// underlying reason only.
func noticeCause(err error) error {
	var (
		re *playback.ResolutionError
		pe *playback.PlaybackError
		le *playback.ConnectionLostError
	)
	switch {
	case errors.As(err, &re):
		return re.Err
	case errors.As(err, &pe):
		return pe.Err
	case errors.As(err, &le):
		return le.Err
	}
	return err
}

// PlayerControls returns the pause, skip and stop button row.
func PlayerControls() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Pause/Resume", Style: discordgo.SecondaryButton, CustomID: ButtonPause},
				discordgo.Button{Label: "Skip", Style: discordgo.PrimaryButton, CustomID: ButtonSkip},
				discordgo.Button{Label: "Stop", Style: discordgo.DangerButton, CustomID: ButtonStop},
			},
		},
	}
}
