package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts":   {"gtts", "elevenlabs", "openai", "coqui"},
	"media": {"youtube", "direct"},
}

// secrets are read from the environment only. They fill provider entries
// that carry no inline credentials.
type secrets struct {
	LegacyToken   string `env:"TOKEN"`
	ElevenLabsKey string `env:"ELEVENLABS_API_KEY"`
	OpenAIKey     string `env:"OPENAI_API_KEY"`
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the process environment. Variables that are already set win.
// Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load dotenv: %w", err)
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.Environ())
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which keeps
// tests hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse decodes data and applies the overrides found in environ
// ("KEY=value" pairs) before defaults and validation.
func parse(data []byte, environ []string) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, environ); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with environment variables. environ holds
// "KEY=value" pairs as returned by [os.Environ].
func ApplyEnv(cfg *Config, environ []string) error {
	vars := envMap(environ)
	opts := env.Options{Environment: vars}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment overrides: %w", err)
	}
	var s secrets
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return fmt.Errorf("config: environment secrets: %w", err)
	}

	if cfg.Discord.Token == "" {
		cfg.Discord.Token = s.LegacyToken
	}
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" {
			return
		}
		switch e.Name {
		case "elevenlabs":
			e.APIKey = s.ElevenLabsKey
		case "openai":
			e.APIKey = s.OpenAIKey
		}
	}
	fill(&cfg.Providers.TTS)
	for i := range cfg.Providers.TTSFallbacks {
		fill(&cfg.Providers.TTSFallbacks[i])
	}
	return nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	for i, p := range cfg.Discord.Prefixes {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t\n") {
			errs = append(errs, fmt.Errorf("discord.prefixes[%d] %q must be non-empty and contain no whitespace", i, p))
		}
	}
	if cfg.Discord.NotifyRate < 0 {
		errs = append(errs, fmt.Errorf("discord.notify_rate %.2f must not be negative", cfg.Discord.NotifyRate))
	}

	// Playback
	p := cfg.Playback
	if p.MaxConsecutiveFailures != nil && *p.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("playback.max_consecutive_failures %d must not be negative", *p.MaxConsecutiveFailures))
	}
	if p.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.connect_timeout %s must not be negative", p.ConnectTimeout))
	}
	if p.ResolveTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.resolve_timeout %s must not be negative", p.ResolveTimeout))
	}

	// Providers
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}
	mediaSeen := make(map[string]int, len(cfg.Providers.Media))
	for i, m := range cfg.Providers.Media {
		prefix := fmt.Sprintf("providers.media[%d]", i)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := mediaSeen[m.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.media[%d]", prefix, m.Name, prev))
		}
		mediaSeen[m.Name] = i
		validateProviderName("media", m.Name)
	}

	// Phrases
	names := make([]string, 0, len(cfg.Phrases))
	for name := range cfg.Phrases {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if name == "" || strings.ContainsAny(name, " \t\n") {
			errs = append(errs, fmt.Errorf("phrases: name %q must be non-empty and contain no whitespace", name))
		}
		if strings.TrimSpace(cfg.Phrases[name]) == "" {
			errs = append(errs, fmt.Errorf("phrases.%s: text is required", name))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
