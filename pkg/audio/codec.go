package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPayload is returned when inbound audio cannot be decoded.
// Callers treat it as an isolated, recoverable corruption of one chunk.
var ErrMalformedPayload = errors.New("audio: malformed payload")

// EncodeTransport maps an arbitrary byte sequence to its text-safe transport
// representation (standard base64 with padding). The empty input encodes to
// the empty string.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport is the inverse of [EncodeTransport]. Invalid input yields an
// error wrapping [ErrMalformedPayload].
func DecodeTransport(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// DecodePCM16 interprets data as interleaved little-endian int16 PCM and
// de-interleaves it into channels separate float32 slices, each sample
// divided by 32768. A trailing partial frame is dropped silently.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format %s", ErrMalformedPayload, formatString(sampleRate, channels))
	}

	frames := len(data) / 2 / channels
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(data[off]) | int16(data[off+1])<<8
			buf.Channels[ch][i] = float32(s) / 32768
		}
	}
	return buf, nil
}

// FloatToPCM16 converts normalized float samples to little-endian int16 PCM
// by multiplying by 32768 and truncating toward zero. Values outside the
// int16 range are clamped; NaN becomes silence.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := float64(f) * 32768
		switch {
		case math.IsNaN(v):
			v = 0
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
