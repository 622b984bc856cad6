package audio

import (
	"io"
	"sync"
	"sync/atomic"
)

// PCM output format produced by every [Resource].
const (
	SampleRate = 48000
	Channels   = 2

	// FrameSamples is the number of samples per channel in one 20 ms frame.
	FrameSamples = SampleRate / 50

	// FrameBytes is the size in bytes of one 20 ms s16le stereo frame.
	FrameBytes = FrameSamples * Channels * 2
)

// Resource is an exclusively owned handle to playable audio: a stream of
// signed 16-bit little-endian PCM at [SampleRate] Hz with [Channels]
// interleaved channels, plus the obligation to free whatever backs it
// (a temporary file, a transcoder process, an HTTP body).
//
// Release must be called exactly once by the owner on every exit path.
// Extra calls are harmless no-ops, so a Resource can never be double-freed.
type Resource struct {
	title   string
	pcm     io.Reader
	release func() error

	once     sync.Once
	released atomic.Bool
}

// NewResource creates a Resource reading PCM from pcm. release frees the
// backing storage and may be nil.
func NewResource(title string, pcm io.Reader, release func() error) *Resource {
	return &Resource{title: title, pcm: pcm, release: release}
}

// Title returns the display title of the audio.
func (r *Resource) Title() string { return r.title }

// Read implements [io.Reader] over the PCM stream. After Release it
// returns [io.EOF].
func (r *Resource) Read(p []byte) (int, error) {
	if r.released.Load() {
		return 0, io.EOF
	}
	return r.pcm.Read(p)
}

// Release frees the backing storage. Only the first call runs the release
// function and returns its error; later calls return nil.
func (r *Resource) Release() error {
	var err error
	r.once.Do(func() {
		r.released.Store(true)
		if r.release != nil {
			err = r.release()
		}
	})
	return err
}

// Released reports whether Release has been called.
func (r *Resource) Released() bool { return r.released.Load() }
