// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (Google Translate speech,
// ElevenLabs, OpenAI, a local Coqui server) and presents a uniform batch
// interface: one request in, one encoded audio [Clip] out. Clips are turned
// into playable PCM by the caller; providers never touch the voice transport.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/voxqueue/pkg/audio"
)

// ErrEmptyText is returned when a [Request] carries no text to speak.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Encoding identifies the container/codec of a [Clip].
type Encoding string

const (
	// EncodingMP3 is an MPEG-1 Layer III stream.
	EncodingMP3 Encoding = "mp3"

	// EncodingWAV is a RIFF/WAVE file.
	EncodingWAV Encoding = "wav"

	// EncodingPCM is headerless signed 16-bit little-endian PCM. The
	// sample rate and channel count are given by [Clip.Format].
	EncodingPCM Encoding = "pcm"
)

// Ext returns the file extension used for artifacts of this encoding.
func (e Encoding) Ext() string {
	switch e {
	case EncodingMP3:
		return ".mp3"
	case EncodingWAV:
		return ".wav"
	default:
		return ".pcm"
	}
}

// Request describes one utterance to synthesise.
type Request struct {
	// Text is the utterance. Must be non-empty.
	Text string

	// Language is a BCP-47 style code such as "vi" or "en".
	Language string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider default.
	Voice string
}

// Validate reports whether the request can be sent to a provider.
func (r Request) Validate() error {
	if r.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Clip is a synthesised utterance. The caller owns Audio and must close it.
type Clip struct {
	// Audio streams the encoded clip.
	Audio io.ReadCloser

	// Encoding identifies how Audio is encoded.
	Encoding Encoding

	// Format describes the PCM layout when Encoding is [EncodingPCM].
	Format audio.Format
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple guilds may
// synthesise in parallel.
type Provider interface {
	// Synthesize converts req into an encoded clip. The returned clip's
	// Audio may still be streaming from the backend; read errors surface
	// through it. Returns an error if synthesis cannot be started.
	Synthesize(ctx context.Context, req Request) (*Clip, error)
}

// StatusError is returned by HTTP-based providers for non-2xx responses.
type StatusError struct {
	Provider string
	Status   int
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Status)
}
