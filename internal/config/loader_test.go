package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxqueue/internal/config"
)

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
discord:
  prefixes: ["ok!", "bad prefix"]
playback:
  max_consecutive_failures: -1
providers:
  media:
    - name: youtube
    - name: youtube
    - name: ""
phrases:
  empty: "  "
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{
		"log_level",
		"discord.token",
		"discord.prefixes[1]",
		"max_consecutive_failures",
		"duplicate",
		"providers.media[2].name",
		"phrases.empty",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_PhraseNameWithSpace(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Discord: config.DiscordConfig{Token: "x"},
		Phrases: map[string]string{"good night": "Chúc ngủ ngon"},
	}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for phrase name with whitespace")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		environ []string
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name:    "discord token from env",
			environ: []string{"DISCORD_TOKEN=env-token"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Discord.Token != "env-token" {
					t.Errorf("token = %q", cfg.Discord.Token)
				}
			},
		},
		{
			name:    "legacy TOKEN alias",
			environ: []string{"TOKEN=legacy"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Discord.Token != "legacy" {
					t.Errorf("token = %q", cfg.Discord.Token)
				}
			},
		},
		{
			name:    "DISCORD_TOKEN wins over alias",
			environ: []string{"TOKEN=legacy", "DISCORD_TOKEN=primary"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Discord.Token != "primary" {
					t.Errorf("token = %q", cfg.Discord.Token)
				}
			},
		},
		{
			name:    "env overrides file",
			yaml:    "server:\n  log_level: info\n  listen_addr: \":1\"\n",
			environ: []string{"VOXQUEUE_LOG_LEVEL=debug", "VOXQUEUE_LISTEN_ADDR=:2", "VOXQUEUE_PREFIXES=a!,b!"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.LogLevel != config.LogDebug || cfg.Server.ListenAddr != ":2" {
					t.Errorf("server = %+v", cfg.Server)
				}
				if !slices.Equal(cfg.Discord.Prefixes, []string{"a!", "b!"}) {
					t.Errorf("prefixes = %v", cfg.Discord.Prefixes)
				}
			},
		},
		{
			name: "provider keys",
			yaml: `
providers:
  tts:
    name: elevenlabs
  tts_fallbacks:
    - name: openai
    - name: openai
      api_key: inline
`,
			environ: []string{"ELEVENLABS_API_KEY=el", "OPENAI_API_KEY=oa"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Providers.TTS.APIKey != "el" {
					t.Errorf("elevenlabs key = %q", cfg.Providers.TTS.APIKey)
				}
				if cfg.Providers.TTSFallbacks[0].APIKey != "oa" {
					t.Errorf("openai key = %q", cfg.Providers.TTSFallbacks[0].APIKey)
				}
				if cfg.Providers.TTSFallbacks[1].APIKey != "inline" {
					t.Errorf("inline key overwritten: %q", cfg.Providers.TTSFallbacks[1].APIKey)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			if tc.yaml != "" {
				parsed, err := config.LoadFromReader(strings.NewReader("discord:\n  token: placeholder\n" + tc.yaml))
				if err != nil {
					t.Fatalf("LoadFromReader: %v", err)
				}
				cfg = parsed
				cfg.Discord.Token = ""
			}
			if err := config.ApplyEnv(cfg, tc.environ); err != nil {
				t.Fatalf("ApplyEnv: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "voxqueue.yaml")
	if err := os.WriteFile(path, []byte("discord:\n  token: file-token\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token == "" {
		t.Error("token should be set from file or environment")
	}

	if _, err := config.Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("VOXQUEUE_DOTENV_TEST=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOXQUEUE_DOTENV_TEST", "")
	os.Unsetenv("VOXQUEUE_DOTENV_TEST")

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("VOXQUEUE_DOTENV_TEST"); got != "from-file" {
		t.Errorf("VOXQUEUE_DOTENV_TEST = %q, want from-file", got)
	}

	if err := config.LoadDotEnv(filepath.Join(dir, "nothing.env")); err != nil {
		t.Errorf("missing dotenv file should not be an error: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"tts", "media"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known provider names for %q", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["media"], "youtube") {
		t.Error("youtube should be a known media resolver")
	}
}
