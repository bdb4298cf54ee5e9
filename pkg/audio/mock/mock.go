// Package mock provides in-memory mock implementations of the microphone
// ([capture.Source]) and speaker ([playback.Output]) interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts, and they expose exported fields that the test
// can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	spk := &mock.Speaker{}
//	... start the component under test ...
//	mic.Push(0.25)      // deliver one captured block
//	spk.FinishAll()     // every scheduled buffer ends
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/raisehand/pkg/audio"
	"github.com/MrWong99/raisehand/pkg/audio/capture"
	"github.com/MrWong99/raisehand/pkg/audio/playback"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [capture.Source].
type Microphone struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// Rate is the native sample rate reported by opened streams.
	// Defaults to [audio.CaptureSampleRate].
	Rate int

	onBlock func([]float32)
	stream  *Stream
	opens   int
}

var _ capture.Source = (*Microphone)(nil)

// Open implements [capture.Source].
func (m *Microphone) Open(_ context.Context, _ int, onBlock func([]float32)) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	rate := m.Rate
	if rate == 0 {
		rate = audio.CaptureSampleRate
	}
	m.onBlock = onBlock
	m.stream = &Stream{rate: rate}
	return m.stream, nil
}

// Push delivers samples as one captured block. It is a no-op before Open or
// after the stream was closed.
func (m *Microphone) Push(samples ...float32) {
	m.mu.Lock()
	cb, st := m.onBlock, m.stream
	m.mu.Unlock()
	if cb == nil || st.CloseCount() > 0 {
		return
	}
	cb(samples)
}

// OpenCount returns how many times Open was called.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Stream returns the most recently opened stream, or nil.
func (m *Microphone) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Stream is the [capture.Stream] returned by [Microphone.Open].
type Stream struct {
	mu     sync.Mutex
	rate   int
	closes int
}

// SampleRate implements [capture.Stream].
func (s *Stream) SampleRate() int { return s.rate }

// Close implements [capture.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// CloseCount returns how many times Close was called.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock [playback.Output] with a Close method. Its clock only
// moves when the test calls SetNow. Scheduled buffers end when the test
// calls FinishAll.
type Speaker struct {
	mu sync.Mutex

	now     float64
	pending []func()
	starts  []float64
	closes  int
}

var _ playback.Output = (*Speaker)(nil)

// Now implements [playback.Clock].
func (s *Speaker) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow moves the clock.
func (s *Speaker) SetNow(t float64) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Start implements [playback.Output]. The start time is recorded and
// onEnded is held until FinishAll.
func (s *Speaker) Start(_ *audio.Buffer, at float64, onEnded func()) playback.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, at)
	v := &Voice{}
	s.pending = append(s.pending, func() {
		if !v.Stopped() {
			onEnded()
		}
	})
	return v
}

// FinishAll ends every buffer started so far.
func (s *Speaker) FinishAll() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Starts returns the recorded start times.
func (s *Speaker) Starts() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.starts...)
}

// Close releases the speaker.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// CloseCount returns how many times Close was called.
func (s *Speaker) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Voice is the [playback.Voice] returned by [Speaker.Start].
type Voice struct {
	mu      sync.Mutex
	stopped bool
}

// Stop implements [playback.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}
