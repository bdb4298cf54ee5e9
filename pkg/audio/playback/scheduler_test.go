package playback_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/raisehand/pkg/audio"
	"github.com/MrWong99/raisehand/pkg/audio/playback"
)

// fakeOutput records every Start and lets the test end voices explicitly.
type fakeOutput struct {
	mu     sync.Mutex
	now    float64
	voices []*fakeVoice
}

type fakeVoice struct {
	at      float64
	dur     float64
	onEnded func()
	stopped bool
}

func (v *fakeVoice) Stop() { v.stopped = true }

func (o *fakeOutput) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) setNow(t float64) {
	o.mu.Lock()
	o.now = t
	o.mu.Unlock()
}

func (o *fakeOutput) Start(buf *audio.Buffer, at float64, onEnded func()) playback.Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{at: at, dur: buf.Seconds(), onEnded: onEnded}
	o.voices = append(o.voices, v)
	return v
}

func (o *fakeOutput) voice(i int) *fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voices[i]
}

func buffer(frames int) *audio.Buffer {
	return &audio.Buffer{
		SampleRate: audio.PlaybackSampleRate,
		Channels:   [][]float32{make([]float32, frames)},
	}
}

func TestScheduler_BackToBack(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{now: 1.0}
	s := playback.New(out)

	// 0.5 s, 0.25 s, 1 s at 24 kHz.
	sizes := []int{12000, 6000, 24000}
	want := []float64{1.0, 1.5, 1.75}
	for i, n := range sizes {
		got, err := s.Schedule(buffer(n))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if got != want[i] {
			t.Errorf("start[%d] = %v, want %v", i, got, want[i])
		}
	}
	if got := s.NextStart(); got != 2.75 {
		t.Errorf("NextStart = %v, want 2.75", got)
	}
	if got := s.InFlight(); got != 3 {
		t.Errorf("InFlight = %d, want 3", got)
	}
}

func TestScheduler_NeverStartsInThePast(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	s := playback.New(out)

	if _, err := s.Schedule(buffer(2400)); err != nil { // 0.1 s
		t.Fatal(err)
	}
	out.setNow(5.0)
	got, err := s.Schedule(buffer(2400))
	if err != nil {
		t.Fatal(err)
	}
	if got != 5.0 {
		t.Errorf("start = %v, want 5.0 (clock)", got)
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	s := playback.New(out)

	clock := []float64{0, 0.01, 0.02, 0.9, 0.91, 3.0, 3.0, 3.05}
	for i, now := range clock {
		out.setNow(now)
		if _, err := s.Schedule(buffer(1200 * (i + 1))); err != nil {
			t.Fatal(err)
		}
	}

	for i := 1; i < len(out.voices); i++ {
		prev, cur := out.voices[i-1], out.voices[i]
		if cur.at < prev.at+prev.dur-1e-9 {
			t.Errorf("voice %d starts at %v before voice %d ends at %v", i, cur.at, i-1, prev.at+prev.dur)
		}
		if cur.at < clock[i] {
			t.Errorf("voice %d starts at %v before clock %v", i, cur.at, clock[i])
		}
	}
}

func TestScheduler_DrainedFiresOnLastEnd(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	drained := 0
	s := playback.New(out, playback.WithOnDrained(func() { drained++ }))

	if !s.Draining() {
		t.Fatal("new scheduler should be draining")
	}
	for range 3 {
		if _, err := s.Schedule(buffer(240)); err != nil {
			t.Fatal(err)
		}
	}

	out.voice(1).onEnded()
	out.voice(0).onEnded()
	if drained != 0 || s.Draining() {
		t.Fatalf("drained early: hook=%d draining=%v", drained, s.Draining())
	}

	out.voice(2).onEnded()
	if drained != 1 {
		t.Errorf("drained hook calls = %d, want 1", drained)
	}
	if !s.Draining() {
		t.Error("Draining = false after all voices ended")
	}

	// A duplicate notification is ignored.
	out.voice(2).onEnded()
	if drained != 1 {
		t.Errorf("duplicate end fired hook again: %d", drained)
	}
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	drained := 0
	s := playback.New(out, playback.WithOnDrained(func() { drained++ }))

	for range 2 {
		if _, err := s.Schedule(buffer(24000)); err != nil {
			t.Fatal(err)
		}
	}

	s.Cancel()
	for i := range 2 {
		if !out.voice(i).stopped {
			t.Errorf("voice %d not stopped", i)
		}
	}
	if !s.Draining() {
		t.Error("Draining = false after Cancel")
	}
	if got := s.NextStart(); got != 0 {
		t.Errorf("NextStart = %v after Cancel, want 0", got)
	}

	// Late end notifications are ignored.
	out.voice(0).onEnded()
	if drained != 0 {
		t.Errorf("drained hook fired after Cancel")
	}

	// Idempotent.
	s.Cancel()

	if _, err := s.Schedule(buffer(10)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Schedule after Cancel err = %v, want ErrClosed", err)
	}
}
