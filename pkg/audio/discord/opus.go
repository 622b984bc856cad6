package discord

import (
	"fmt"

	"github.com/MrWong99/voxqueue/pkg/audio"
	"layeh.com/gopus"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames, which matches
// the PCM layout of every [audio.Resource].
const (
	opusSampleRate = audio.SampleRate
	opusChannels   = audio.Channels
	opusFrameSize  = audio.FrameSamples // 960 samples per channel
	opusMaxBytes   = audio.FrameBytes
)

// opusEncoder wraps a gopus encoder. One encoder is created per stream so
// that encoder state never leaks between tracks.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved little-endian s16 PCM.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	packet, err := e.enc.Encode(bytesToInt16s(frame), opusFrameSize, opusMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
