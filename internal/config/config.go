// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the voxqueue bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the voxqueue server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults] for zero-valued fields.
const (
	DefaultListenAddr             = ":8080"
	DefaultLanguage               = "vi"
	DefaultIdleTimeout            = 30 * time.Second
	DefaultConnectTimeout         = 15 * time.Second
	DefaultResolveTimeout         = 30 * time.Second
	DefaultMaxConsecutiveFailures = 5
	DefaultNotifyRate             = 2.0
	DefaultFFmpegPath             = "ffmpeg"
	DefaultTTSProvider            = "gtts"
)

// DefaultPrefixes are the text-command prefixes used when discord.prefixes
// is empty.
var DefaultPrefixes = []string{"h!", "k!", "p!"}

// DefaultMediaResolvers is the resolver chain used when providers.media is
// empty. Order matters: the first resolver that matches a query wins.
var DefaultMediaResolvers = []string{"youtube", "direct"}

// Config is the root configuration structure for voxqueue.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Discord   DiscordConfig     `yaml:"discord"`
	Playback  PlaybackConfig    `yaml:"playback"`
	Providers ProvidersConfig   `yaml:"providers"`
	Phrases   map[string]string `yaml:"phrases" env:"-"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics listener
	// (e.g., ":8080"). Set to "-" to disable the listener.
	ListenAddr string `yaml:"listen_addr" env:"VOXQUEUE_LISTEN_ADDR"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"VOXQUEUE_LOG_LEVEL"`
}

// DiscordConfig holds the bot credentials and command surface settings.
type DiscordConfig struct {
	// Token is the bot token. Usually supplied through DISCORD_TOKEN.
	Token string `yaml:"token" env:"DISCORD_TOKEN"`

	// GuildID restricts slash command registration to one guild, which
	// makes new commands appear instantly during development. Empty
	// registers the commands globally.
	GuildID string `yaml:"guild_id" env:"DISCORD_GUILD_ID"`

	// Prefixes lists the text-command prefixes (e.g., "h!").
	Prefixes []string `yaml:"prefixes" env:"VOXQUEUE_PREFIXES"`

	// NotifyRate bounds user-facing notifications per second per channel.
	NotifyRate float64 `yaml:"notify_rate"`
}

// PlaybackConfig tunes the per-guild playback sessions.
type PlaybackConfig struct {
	// Language is the default speech language for utterances.
	Language string `yaml:"language" env:"VOXQUEUE_LANGUAGE"`

	// Voice is the provider-specific voice used for utterances.
	Voice string `yaml:"voice"`

	// IdleTimeout is how long a session may sit idle before leaving the
	// voice channel. Negative disables idle teardown; zero leaves as soon
	// as the queue drains.
	IdleTimeout *time.Duration `yaml:"idle_timeout"`

	// MaxConsecutiveFailures abandons the remaining queue after this many
	// items in a row failed to play. Zero means unlimited.
	MaxConsecutiveFailures *int `yaml:"max_consecutive_failures"`

	// ConnectTimeout bounds joining a voice channel.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ResolveTimeout bounds synthesis or opening one track.
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`

	// ArtifactDir receives synthesized speech clips while they play.
	// Empty uses the OS temp directory.
	ArtifactDir string `yaml:"artifact_dir"`

	// FFmpegPath is the ffmpeg binary used to decode audio.
	FFmpegPath string `yaml:"ffmpeg_path" env:"VOXQUEUE_FFMPEG_PATH"`
}

// ProvidersConfig declares the synthesis and media backends.
type ProvidersConfig struct {
	// TTS is the primary speech provider.
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order when the primary fails or its
	// circuit breaker is open.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks" env:"-"`

	// Media lists media resolvers by name, in match order.
	Media []ProviderEntry `yaml:"media" env:"-"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gtts", "youtube").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "tts-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or "" when absent or not
// a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionFloat returns Options[key] as a float64. YAML integers are
// accepted too.
func (e ProviderEntry) OptionFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if len(c.Discord.Prefixes) == 0 {
		c.Discord.Prefixes = append([]string(nil), DefaultPrefixes...)
	}
	if c.Discord.NotifyRate <= 0 {
		c.Discord.NotifyRate = DefaultNotifyRate
	}
	p := &c.Playback
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.IdleTimeout == nil {
		d := DefaultIdleTimeout
		p.IdleTimeout = &d
	}
	if p.MaxConsecutiveFailures == nil {
		n := DefaultMaxConsecutiveFailures
		p.MaxConsecutiveFailures = &n
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	if p.ResolveTimeout <= 0 {
		p.ResolveTimeout = DefaultResolveTimeout
	}
	if p.FFmpegPath == "" {
		p.FFmpegPath = DefaultFFmpegPath
	}
	if c.Providers.TTS.Name == "" {
		c.Providers.TTS.Name = DefaultTTSProvider
	}
	if len(c.Providers.Media) == 0 {
		for _, name := range DefaultMediaResolvers {
			c.Providers.Media = append(c.Providers.Media, ProviderEntry{Name: name})
		}
	}
}
