// Command voxqueue is the main entry point for the voxqueue Discord playback
// bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/MrWong99/voxqueue/internal/app"
	"github.com/MrWong99/voxqueue/internal/config"
	discordbot "github.com/MrWong99/voxqueue/internal/discord"
	"github.com/MrWong99/voxqueue/internal/health"
	"github.com/MrWong99/voxqueue/internal/observe"
	"github.com/MrWong99/voxqueue/internal/resilience"
	"github.com/MrWong99/voxqueue/pkg/audio/ffmpeg"
	"github.com/MrWong99/voxqueue/pkg/provider/media"
	"github.com/MrWong99/voxqueue/pkg/provider/media/direct"
	"github.com/MrWong99/voxqueue/pkg/provider/media/youtube"
	"github.com/MrWong99/voxqueue/pkg/provider/tts"
	"github.com/MrWong99/voxqueue/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxqueue/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voxqueue/pkg/provider/tts/gtts"
	oaitts "github.com/MrWong99/voxqueue/pkg/provider/tts/openai"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "voxqueue: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxqueue: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxqueue: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxqueue starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxqueue",
		ServiceVersion: buildVersion(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	transcoder := ffmpeg.New(cfg.Playback.FFmpegPath)
	providers.Transcoder = transcoder
	if err := transcoder.Check(ctx); err != nil {
		slog.Warn("ffmpeg not available, playback will fail until it is installed", "path", cfg.Playback.FFmpegPath, "err", err)
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:    cfg.Discord.Token,
		GuildID:  cfg.Discord.GuildID,
		Prefixes: cfg.Discord.Prefixes,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	providers.Audio = bot.Platform()
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID, "prefixes", cfg.Discord.Prefixes)

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers,
		app.WithBot(bot),
		app.WithLogger(logger),
		app.WithLogLevel(logLevel),
		app.WithHealthCheckers(
			health.Discord(bot.Session()),
			health.Binary("ffmpeg", transcoder),
		),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("bot ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// The playback language is the default for TTS providers that take one.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	lang := cfg.Playback.Language

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gtts", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []gtts.Option{gtts.WithDefaultLanguage(lang)}
		if entry.BaseURL != "" {
			opts = append(opts, gtts.WithBaseURL(entry.BaseURL))
		}
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, gtts.WithTimeout(d))
		}
		return gtts.New(opts...), nil
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if s := entry.OptionString("instructions"); s != "" {
			opts = append(opts, oaitts.WithInstructions(s))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oaitts.WithOrganization(org))
		}
		if speed, ok := entry.OptionFloat("speed"); ok {
			opts = append(opts, oaitts.WithSpeed(speed))
		}
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithLanguage(lang)}
		if l := entry.OptionString("language"); l != "" {
			opts = append(opts, coqui.WithLanguage(l))
		}
		if mode := entry.OptionString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Media ─────────────────────────────────────────────────────────────────

	reg.RegisterMedia("youtube", func(entry config.ProviderEntry) (media.Resolver, error) {
		var opts []youtube.Option
		if entry.BaseURL != "" {
			opts = append(opts, youtube.WithBaseURL(entry.BaseURL))
		}
		if n, ok := entry.OptionFloat("max_playlist"); ok {
			opts = append(opts, youtube.WithMaxPlaylist(int(n)))
		}
		return youtube.New(opts...), nil
	})

	reg.RegisterMedia("direct", func(config.ProviderEntry) (media.Resolver, error) {
		return direct.New(), nil
	})

	for _, name := range reg.TTSNames() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// buildProviders instantiates the TTS provider (wrapped with its fallbacks)
// and the media resolver chain named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary := cfg.Providers.TTS
	p, err := reg.CreateTTS(primary)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", primary.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", primary.Name)

	// Even a lone backend goes through the group so every request is counted
	// against the backend that served it.
	fb := resilience.NewTTSFallback(p, primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
	})
	for _, entry := range cfg.Providers.TTSFallbacks {
		alt, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, alt)
		slog.Info("provider created", "kind", "tts_fallback", "name", entry.Name)
	}
	ps.TTS = fb

	chain, err := reg.CreateMediaChain(cfg.Providers.Media)
	if err != nil {
		return nil, fmt.Errorf("create media resolvers: %w", err)
	}
	ps.Media = chain
	for _, m := range cfg.Providers.Media {
		slog.Info("provider created", "kind", "media", "name", m.Name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// buildVersion returns the main module version stamped by the go tool.
func buildVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxqueue startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("TTS", providerLabel(cfg.Providers.TTS.Name, cfg.Providers.TTS.Model))
	printRow("TTS fallbacks", fmt.Sprint(len(cfg.Providers.TTSFallbacks)))
	names := make([]string, 0, len(cfg.Providers.Media))
	for _, m := range cfg.Providers.Media {
		names = append(names, m.Name)
	}
	printRow("Media", fmt.Sprint(names))
	printRow("Language", cfg.Playback.Language)
	printRow("Prefixes", fmt.Sprint(cfg.Discord.Prefixes))
	printRow("Phrases", fmt.Sprint(len(cfg.Phrases)))
	if cfg.Playback.IdleTimeout != nil {
		printRow("Idle timeout", cfg.Playback.IdleTimeout.String())
	}
	if cfg.Server.ListenAddr != app.ListenDisabled {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optDuration reads a Go duration string such as "10s" from entry.Options.
func optDuration(entry config.ProviderEntry, key string) (time.Duration, bool) {
	s := entry.OptionString(key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "provider", entry.Name, "key", key, "value", s)
		return 0, false
	}
	return d, true
}
