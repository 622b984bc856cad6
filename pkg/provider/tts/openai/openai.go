// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxqueue/pkg/audio"
	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// DefaultVoice is used when neither the request nor the provider names one.
const DefaultVoice = oai.AudioSpeechNewParamsVoiceAlloy

// pcmFormat is the fixed layout of OpenAI's "pcm" response format.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1}

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	cfg    config
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	voice        string
	instructions string
	speed        float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithVoice sets the voice used when a request names none.
func WithVoice(v string) Option {
	return func(c *config) {
		c.voice = v
	}
}

// WithInstructions sets style instructions (ignored by tts-1 models).
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// WithSpeed sets the speaking rate, 0.25 to 4.0.
func WithSpeed(s float64) Option {
	return func(c *config) {
		c.speed = s
	}
}

// New constructs a new OpenAI speech Provider.
// If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai tts: speed %.2f out of range [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	voice := cfg.voice
	if voice == "" {
		voice = string(DefaultVoice)
	}
	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, voice: voice, cfg: cfg}, nil
}

// ModelID returns the configured speech model.
func (p *Provider) ModelID() string { return p.model }

// Synthesize implements tts.Provider. Audio is requested as raw 24 kHz mono
// PCM so it can be played without an external decoder. The OpenAI speech API
// detects the language from the text, so req.Language is not sent.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Clip, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	params := p.buildParams(req.Text, voice)
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &tts.StatusError{Provider: "openai", Status: resp.StatusCode}
	}
	return &tts.Clip{Audio: resp.Body, Encoding: tts.EncodingPCM, Format: pcmFormat}, nil
}

// buildParams assembles the speech request body.
func (p *Provider) buildParams(text, voice string) oai.AudioSpeechNewParams {
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.cfg.instructions != "" {
		params.Instructions = param.NewOpt(p.cfg.instructions)
	}
	if p.cfg.speed != 0 {
		params.Speed = param.NewOpt(p.cfg.speed)
	}
	return params
}
