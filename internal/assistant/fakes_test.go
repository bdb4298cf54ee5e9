package assistant_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/raisehand/internal/assistant"
	"github.com/MrWong99/raisehand/internal/lesson"
	"github.com/MrWong99/raisehand/pkg/audio"
	"github.com/MrWong99/raisehand/pkg/audio/capture"
	"github.com/MrWong99/raisehand/pkg/audio/playback"
	"github.com/MrWong99/raisehand/pkg/provider/live/mock"
)

// ── microphone ────────────────────────────────────────────────────────────────

type fakeMic struct {
	mu      sync.Mutex
	openErr error
	onBlock func([]float32)
	opens   int
	stream  *fakeStream
}

type fakeStream struct {
	mu     sync.Mutex
	closes int
}

func (s *fakeStream) SampleRate() int { return audio.CaptureSampleRate }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (m *fakeMic) Open(_ context.Context, _ int, onBlock func([]float32)) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.onBlock = onBlock
	m.stream = &fakeStream{}
	return m.stream, nil
}

func (m *fakeMic) opened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onBlock != nil
}

// push delivers a one-sample block whose value identifies it.
func (m *fakeMic) push(v float32) {
	m.mu.Lock()
	cb := m.onBlock
	m.mu.Unlock()
	cb([]float32{v})
}

// ── speaker ───────────────────────────────────────────────────────────────────

type fakeOutput struct {
	mu      sync.Mutex
	pending []func()
	started int
	closes  int
}

type nopVoice struct{}

func (nopVoice) Stop() {}

func (o *fakeOutput) Now() float64 { return 0 }

func (o *fakeOutput) Start(_ *audio.Buffer, _ float64, onEnded func()) playback.Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
	o.pending = append(o.pending, onEnded)
	return nopVoice{}
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closes++
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) startedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

func (o *fakeOutput) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

// finishAll plays out every scheduled buffer.
func (o *fakeOutput) finishAll() {
	o.mu.Lock()
	fns := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// ── harness ───────────────────────────────────────────────────────────────────

type harness struct {
	mic      *fakeMic
	out      *fakeOutput
	player   *lesson.State
	remote   *mock.Session
	provider *mock.Provider
	session  *assistant.Session
}

var testLesson = lesson.Lesson{
	ID:         7,
	Grade:      "4th Grade",
	Subject:    "Science",
	Title:      "Why is the sky blue?",
	Transcript: "Sunlight scatters.",
}

func newHarness(t *testing.T, cfg assistant.Config, opts ...assistant.Option) *harness {
	t.Helper()
	h := &harness{
		mic:    &fakeMic{},
		out:    &fakeOutput{},
		player: lesson.NewState(nil),
		remote: mock.NewSession(),
	}
	h.provider = &mock.Provider{Session: h.remote}
	if cfg.Lesson.ID == 0 {
		cfg.Lesson = testLesson
	}
	h.session = assistant.New(h.provider, h.mic, h.openOutput, h.player, cfg, opts...)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) openOutput() (assistant.Output, error) { return h.out, nil }

// start starts the session and waits until it is connected and listening.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.session.Start(context.Background())
	waitFor(t, func() bool { return h.session.Phase() == assistant.PhaseConnected }, "connected")
	waitStatus(t, h.session, assistant.Listening)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitStatus(t *testing.T, s *assistant.Session, want assistant.Status) {
	t.Helper()
	waitFor(t, func() bool { return s.Status() == want }, "status "+want.String())
}

// speech returns a transport-encoded 10 ms speech payload.
func speech() string {
	return audio.EncodeTransport(make([]byte, 480))
}

// sample decodes the first PCM sample of a sent chunk.
func sample(t *testing.T, c audio.Chunk) int16 {
	t.Helper()
	pcm, err := audio.DecodeTransport(c.Data)
	if err != nil || len(pcm) < 2 {
		t.Fatalf("bad chunk %+v: %v", c, err)
	}
	return int16(pcm[0]) | int16(pcm[1])<<8
}

func attributeKey(k string) attribute.Key { return attribute.Key(k) }
