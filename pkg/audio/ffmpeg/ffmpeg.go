// Package ffmpeg decodes arbitrary audio (files, URLs, piped streams) into the
// 48 kHz stereo s16le PCM carried by [audio.Resource], using an ffmpeg child
// process.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxqueue/pkg/audio"
)

// DefaultPath is the binary looked up on PATH when no path is configured.
const DefaultPath = "ffmpeg"

// maxStderr bounds how much diagnostic output is kept per process.
const maxStderr = 4 << 10

// DefaultWaitDelay bounds how long reaping a killed process waits for its
// stdin copy to finish. A piped Reader that blocks (a stalled TTS stream)
// would otherwise keep Close from returning.
const DefaultWaitDelay = 2 * time.Second

// Input describes one thing to decode. Exactly one of URL, Path or Reader
// must be set.
type Input struct {
	// URL is a remote stream. Reconnect flags are added for it.
	URL string

	// Path is a local file.
	Path string

	// Reader is piped to ffmpeg's stdin.
	Reader io.Reader

	// Format forces the input demuxer (e.g. "mp3", "s16le"). Empty lets
	// ffmpeg detect it.
	Format string

	// SampleRate and Channels describe raw PCM input. Only used when Format
	// is a raw sample format.
	SampleRate int
	Channels   int
}

func (in Input) validate() error {
	n := 0
	if in.URL != "" {
		n++
	}
	if in.Path != "" {
		n++
	}
	if in.Reader != nil {
		n++
	}
	if n != 1 {
		return errors.New("ffmpeg: exactly one of URL, Path or Reader must be set")
	}
	return nil
}

// Transcoder spawns ffmpeg processes.
type Transcoder struct {
	path string

	// prefix and env are prepended to every invocation. Tests use them to
	// re-exec the test binary in place of ffmpeg.
	prefix []string
	env    []string

	waitDelay time.Duration
}

// New creates a Transcoder using the ffmpeg binary at path, or [DefaultPath]
// when path is empty.
func New(path string) *Transcoder {
	if path == "" {
		path = DefaultPath
	}
	return &Transcoder{path: path, waitDelay: DefaultWaitDelay}
}

// Path returns the configured binary.
func (t *Transcoder) Path() string { return t.path }

// Check verifies the ffmpeg binary can be found. It backs the "ffmpeg"
// readiness check.
func (t *Transcoder) Check(_ context.Context) error {
	if _, err := exec.LookPath(t.path); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

// Args returns the ffmpeg arguments for in.
func Args(in Input) []string {
	args := []string{"-hide_banner", "-nostdin"}
	if in.Reader != nil {
		// -nostdin would block piped input.
		args = args[:1]
	}
	if in.URL != "" {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	if in.Format != "" {
		args = append(args, "-f", in.Format)
		if in.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(in.SampleRate))
		}
		if in.Channels > 0 {
			args = append(args, "-ac", strconv.Itoa(in.Channels))
		}
	}
	switch {
	case in.URL != "":
		args = append(args, "-i", in.URL)
	case in.Path != "":
		args = append(args, "-i", in.Path)
	default:
		args = append(args, "-i", "pipe:0")
	}
	return append(args,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
}

// Start launches ffmpeg for in. The process is killed when ctx is cancelled
// or when the returned Process is closed.
func (t *Transcoder) Start(ctx context.Context, in Input) (*Process, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	args := append(append([]string{}, t.prefix...), Args(in)...)
	cmd := exec.CommandContext(ctx, t.path, args...)
	if len(t.env) > 0 {
		cmd.Env = append(cmd.Environ(), t.env...)
	}
	if in.Reader != nil {
		cmd.Stdin = in.Reader
	}
	cmd.WaitDelay = t.waitDelay
	p := &Process{cmd: cmd, stderr: &limitedBuffer{max: maxStderr}}
	cmd.Stderr = p.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}
	p.stdout = stdout
	return p, nil
}

// Transcode is [Transcoder.Start] returning the process as an
// [io.ReadCloser].
func (t *Transcoder) Transcode(ctx context.Context, in Input) (io.ReadCloser, error) {
	p, err := t.Start(ctx, in)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Process is a running ffmpeg whose stdout is the decoded PCM.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer

	waitOnce sync.Once
	waitErr  error

	mu     sync.Mutex
	closed bool
}

// Read implements [io.Reader]. When the output ends because ffmpeg failed,
// the failure and its diagnostics are returned instead of io.EOF.
func (p *Process) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if err == io.EOF {
		// ErrWaitDelay means ffmpeg exited cleanly and only the stdin copy
		// was abandoned, so the output is complete.
		if werr := p.wait(); werr != nil && !errors.Is(werr, exec.ErrWaitDelay) && !p.isClosed() {
			return n, fmt.Errorf("ffmpeg: %w: %s", werr, p.stderr.String())
		}
	}
	return n, err
}

// Close kills the process if it is still running and reaps it. Reaping gives
// up on a piped Reader that is still blocked after the wait delay; closing
// that reader is the caller's job. Close is safe to call more than once.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.wait()
	return nil
}

func (p *Process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Process) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.buf.String())
}
