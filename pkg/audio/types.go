// Package audio holds the PCM primitives shared by the capture pipeline, the
// playback scheduler, and the live session transport.
//
// Outbound microphone audio travels as [Chunk] values: 16 kHz mono s16le PCM
// wrapped in a text-safe transport encoding. Inbound model speech is decoded
// into a [Buffer] of normalized float32 samples before it is scheduled for
// playback.
package audio

import "time"

const (
	// CaptureSampleRate is the rate of every outbound PCM chunk.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of the model's synthesised speech.
	PlaybackSampleRate = 24000

	// CaptureMIMEType describes the payload of an outbound [Chunk].
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// Chunk is a single outbound audio frame ready to be handed to a live session.
type Chunk struct {
	// Data is transport-encoded s16le PCM (see [EncodeTransport]).
	Data string

	// MIMEType describes the encoded payload, e.g. [CaptureMIMEType].
	MIMEType string
}

// Buffer is decoded PCM audio. Channels holds one slice of samples in the
// range [-1.0, 1.0) per channel; all slices have the same length.
type Buffer struct {
	// SampleRate in Hz (e.g., 24000 for model speech).
	SampleRate int

	// Channels holds de-interleaved samples, one slice per channel.
	Channels [][]float32
}

// NumChannels returns the number of channels in b.
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the number of sample frames in b.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Seconds returns the playback length of b in seconds.
func (b *Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}
