package resilience

import (
	"context"

	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across speech backends.
// A single backend is still worth wrapping: its requests are counted and its
// breaker shows up in readiness.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a TTSFallback preferring primary. cfg.Kind
// defaults to "tts".
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a backend tried after the ones added before it.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Check fails while every backend's circuit is open.
func (f *TTSFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }

// Synthesize tries each healthy backend in order. Invalid requests and
// cancelled contexts are rejected before any backend sees them. Only clip
// setup is covered by failover; errors while reading the clip surface when
// the artifact is written.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Clip, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (*tts.Clip, error) {
		return p.Synthesize(ctx, req)
	})
}
