// Package app wires all voxqueue subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the playback manager,
// the Discord command layer and the HTTP listener, Run serves until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBot, WithMetrics,
// etc.). The audio platform and providers come in through [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxqueue/internal/config"
	"github.com/MrWong99/voxqueue/internal/discord"
	"github.com/MrWong99/voxqueue/internal/discord/commands"
	"github.com/MrWong99/voxqueue/internal/health"
	"github.com/MrWong99/voxqueue/internal/observe"
	"github.com/MrWong99/voxqueue/internal/playback"
	"github.com/MrWong99/voxqueue/pkg/audio"
	"github.com/MrWong99/voxqueue/pkg/provider/media"
	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// readinessChecker is implemented by providers that can report whether they
// are able to serve, such as resilience.TTSFallback.
type readinessChecker interface {
	Check(ctx context.Context) error
}

// ListenDisabled as server.listen_addr turns the HTTP listener off.
const ListenDisabled = "-"

const (
	readHeaderTimeout = 5 * time.Second
	serverStopTimeout = 5 * time.Second
)

// Providers holds the external collaborators built by main.go from the
// config registry.
type Providers struct {
	// TTS synthesizes utterances. Usually a resilience.TTSFallback, whose
	// Check is served on /readyz as "tts".
	TTS tts.Provider

	// Media looks tracks up and opens their streams.
	Media media.Resolver

	// Transcoder decodes synthesized clips and media streams to PCM.
	Transcoder playback.Transcoder

	// Audio joins voice channels.
	Audio audio.Platform
}

// Bot is the Discord surface the App drives. *discord.Bot satisfies it.
type Bot interface {
	Router() *discord.CommandRouter
	Prefix() *discord.PrefixRouter
	Responder() discord.Responder
	VoiceChannel(guildID, userID string) string
	Run(ctx context.Context) error
	Close() error
}

var _ Bot = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	logLevel  *slog.LevelVar
	metrics   *observe.Metrics
	checkers  []health.Checker

	manager  *playback.Manager
	bot      Bot
	notifier *discord.Notifier
	commands *commands.PlaybackCommands

	listener net.Listener
	server   *http.Server

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBot attaches the Discord bot. Without one the App only serves HTTP,
// which is how it is tested.
func WithBot(b Bot) Option {
	return func(a *App) { a.bot = b }
}

// WithMetrics injects a metrics instance instead of observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger used by the App and every session.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLogLevel hands the App the level variable behind the logger so that
// log_level can be changed on reload.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithHealthCheckers adds readiness checks served on /readyz.
func WithHealthCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithListener serves HTTP on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires the playback manager to the providers, registers the Discord
// commands when a bot is attached, and prepares the HTTP listener. It does
// not start serving; call Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio platform is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if rc, ok := providers.TTS.(readinessChecker); ok {
		a.checkers = append(a.checkers, health.Checker{Name: "tts", Check: rc.Check})
	}

	a.initManager()
	a.initCommands()
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}
	return a, nil
}

func (a *App) initManager() {
	p := a.cfg.Playback
	opener := &playback.MultiOpener{
		Track: &playback.TrackOpener{
			Resolver:   a.providers.Media,
			Transcoder: a.providers.Transcoder,
		},
	}
	if a.providers.TTS != nil {
		opener.Speech = &playback.SpeechOpener{
			TTS:         a.providers.TTS,
			Transcoder:  a.providers.Transcoder,
			ArtifactDir: p.ArtifactDir,
			Language:    p.Language,
			Voice:       p.Voice,
		}
	}

	sc := playback.SessionConfig{
		Platform:       a.providers.Audio,
		Opener:         opener,
		Logger:         a.log,
		Metrics:        a.metrics,
		ConnectTimeout: p.ConnectTimeout,
		ResolveTimeout: p.ResolveTimeout,
	}
	if p.IdleTimeout != nil {
		sc.IdleTimeout = *p.IdleTimeout
	}
	if p.MaxConsecutiveFailures != nil {
		sc.MaxConsecutiveFailures = *p.MaxConsecutiveFailures
	}

	a.manager = playback.NewManager(playback.ManagerConfig{
		SessionConfig: sc,
		Resolver:      a.providers.Media,
		LookupTimeout: p.ResolveTimeout,
	})
}

func (a *App) initCommands() {
	if a.bot == nil {
		return
	}
	a.notifier = discord.NewNotifier(a.bot.Responder(), a.cfg.Discord.NotifyRate, a.log)
	a.commands = commands.NewPlaybackCommands(commands.PlaybackConfig{
		Player:   a.manager,
		Notifier: a.notifier,
		Voice:    a.bot.VoiceChannel,
		Phrases:  commands.NewPhraseBook(a.cfg.Phrases),
		Logger:   a.log,
	})
	a.commands.Register(a.bot.Router(), a.bot.Prefix())
}

func (a *App) initHTTP() error {
	if a.listener == nil {
		addr := a.cfg.Server.ListenAddr
		if addr == "" || addr == ListenDisabled {
			return nil
		}
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		a.listener = l
	}

	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics, a.log)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// Manager returns the playback manager.
func (a *App) Manager() *playback.Manager { return a.manager }

// Addr returns the HTTP listen address, or nil when HTTP is disabled.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and the Discord bot until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Run(ctx)
		})
	}

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("http listener started", "addr", a.listener.Addr().String())
			if err := a.server.Serve(a.listener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			return a.server.Shutdown(stopCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig is the config watcher callback. It applies the settings that
// can change at runtime (log level and phrases) and warns about the rest.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PhrasesChanged && a.commands != nil {
		a.commands.Phrases().Set(new.Phrases)
		a.log.Info("phrases reloaded", "count", len(new.Phrases), "changes", len(d.PhraseChanges))
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every playback session (each disconnects from voice), then
// closes the Discord bot and waits for pending notices. It respects the ctx
// deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "sessions", a.manager.Registry().Len())

		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if a.bot != nil {
			if err := a.bot.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		if a.notifier != nil {
			done := make(chan struct{})
			go func() {
				a.notifier.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded while delivering notices")
				errs = append(errs, ctx.Err())
			}
		}

		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
