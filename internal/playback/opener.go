package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MrWong99/voxqueue/pkg/audio"
	"github.com/MrWong99/voxqueue/pkg/audio/ffmpeg"
	"github.com/MrWong99/voxqueue/pkg/provider/media"
	"github.com/MrWong99/voxqueue/pkg/provider/tts"
)

// Opener turns a dequeued item into playable audio. The returned resource
// is owned by the caller, which must release it. On error nothing is left
// to release.
//
// ctx stays alive for as long as the resource is being played.
type Opener interface {
	Open(ctx context.Context, guildID string, it Item) (*audio.Resource, error)
}

// OpenerFunc adapts a function to [Opener].
type OpenerFunc func(ctx context.Context, guildID string, it Item) (*audio.Resource, error)

// Open implements [Opener].
func (f OpenerFunc) Open(ctx context.Context, guildID string, it Item) (*audio.Resource, error) {
	return f(ctx, guildID, it)
}

// Transcoder decodes encoded audio into 48 kHz stereo PCM.
// [ffmpeg.Transcoder] is the production implementation.
type Transcoder interface {
	Transcode(ctx context.Context, in ffmpeg.Input) (io.ReadCloser, error)
}

var (
	_ Transcoder = (*ffmpeg.Transcoder)(nil)
	_ Opener     = (*SpeechOpener)(nil)
	_ Opener     = (*TrackOpener)(nil)
	_ Opener     = (*MultiOpener)(nil)
)

// MultiOpener dispatches by item kind.
type MultiOpener struct {
	Speech Opener
	Track  Opener
}

// Open implements [Opener].
func (m *MultiOpener) Open(ctx context.Context, guildID string, it Item) (*audio.Resource, error) {
	var o Opener
	switch it.Kind() {
	case KindUtterance:
		o = m.Speech
	case KindTrack:
		o = m.Track
	}
	if o == nil {
		return nil, fmt.Errorf("playback: no opener for %s items", it.Kind())
	}
	return o.Open(ctx, guildID, it)
}

// SpeechOpener synthesizes utterances. Raw PCM clips are converted
// in-process; encoded clips are written to an artifact file and decoded by
// the transcoder. Releasing the resource stops decoding and deletes the
// artifact.
type SpeechOpener struct {
	TTS        tts.Provider
	Transcoder Transcoder

	// ArtifactDir holds synthesized files. Defaults to os.TempDir().
	ArtifactDir string

	// Language is used when an item carries none.
	Language string

	// Voice is passed through to the provider.
	Voice string
}

// Open implements [Opener].
func (o *SpeechOpener) Open(ctx context.Context, guildID string, it Item) (*audio.Resource, error) {
	lang := it.Language()
	if lang == "" {
		lang = o.Language
	}
	req := tts.Request{Text: it.Text(), Language: lang, Voice: o.Voice}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	clip, err := o.TTS.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	if clip.Encoding == tts.EncodingPCM {
		pcm, err := audio.NewConvertReader(clip.Audio, clip.Format)
		if err != nil {
			_ = clip.Audio.Close()
			return nil, err
		}
		return audio.NewResource(it.Title(), pcm, clip.Audio.Close), nil
	}

	path, err := o.writeArtifact(guildID, clip)
	if err != nil {
		return nil, err
	}
	pcm, err := o.Transcoder.Transcode(ctx, ffmpeg.Input{Path: path, Format: string(clip.Encoding)})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("decode speech: %w", err), removeArtifact(path))
	}
	release := func() error {
		return errors.Join(pcm.Close(), removeArtifact(path))
	}
	return audio.NewResource(it.Title(), pcm, release), nil
}

// writeArtifact stores the clip and always closes its audio. The file is
// removed again if writing fails.
func (o *SpeechOpener) writeArtifact(guildID string, clip *tts.Clip) (string, error) {
	defer clip.Audio.Close()

	dir := o.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("tts_%s_%s%s", guildID, uuid.NewString(), clip.Encoding.Ext())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(f, clip.Audio); err != nil {
		_ = f.Close()
		return "", errors.Join(fmt.Errorf("write artifact: %w", err), removeArtifact(path))
	}
	if err := f.Close(); err != nil {
		return "", errors.Join(fmt.Errorf("close artifact: %w", err), removeArtifact(path))
	}
	return path, nil
}

func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// TrackOpener opens media streams and decodes them. Releasing the resource
// stops decoding and closes the stream.
type TrackOpener struct {
	Resolver   media.Resolver
	Transcoder Transcoder
}

// Open implements [Opener].
func (o *TrackOpener) Open(ctx context.Context, _ string, it Item) (*audio.Resource, error) {
	stream, err := o.Resolver.Open(ctx, it.Track())
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	in := ffmpeg.Input{URL: stream.URL}
	if stream.Body != nil {
		in = ffmpeg.Input{Reader: stream.Body}
	}
	pcm, err := o.Transcoder.Transcode(ctx, in)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("decode track: %w", err), stream.Close())
	}
	// Closing the stream first unblocks a decoder still copying from it.
	release := func() error {
		return errors.Join(stream.Close(), pcm.Close())
	}
	return audio.NewResource(it.Title(), pcm, release), nil
}
