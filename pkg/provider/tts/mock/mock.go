// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled clips to consumers and to verify that the
// correct text, language and voice reach the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:    []byte("ID3..."),
//	    Encoding: tts.EncodingMP3,
//	    Errors:   map[string]error{"bad": errors.New("quota")},
//	}
//	clip, _ := p.Synthesize(ctx, tts.Request{Text: "hello", Language: "vi"})
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxqueue/pkg/audio"
	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the request passed to Synthesize.
	Request tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio is the clip body returned for every successful request.
	Audio []byte

	// Encoding and Format describe Audio. Encoding defaults to EncodingPCM
	// at the transport output format.
	Encoding tts.Encoding
	Format   audio.Format

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// Errors maps request text to a per-text error, checked before SynthesizeErr.
	Errors map[string]error

	// --- Call records ---

	// SynthesizeCalls records every Synthesize invocation in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err, ok := p.Errors[req.Text]; ok {
		return nil, err
	}
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	enc := p.Encoding
	format := p.Format
	if enc == "" {
		enc = tts.EncodingPCM
	}
	if format == (audio.Format{}) {
		format = audio.Output
	}
	return &tts.Clip{
		Audio:    io.NopCloser(bytes.NewReader(p.Audio)),
		Encoding: enc,
		Format:   format,
	}, nil
}

// CallCount returns the number of Synthesize calls under the lock.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}
