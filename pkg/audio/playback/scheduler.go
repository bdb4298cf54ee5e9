// Package playback sequences decoded speech buffers on an output clock so
// that consecutive buffers play back to back without gaps or overlap.
package playback

import (
	"errors"
	"sync"

	"github.com/MrWong99/raisehand/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Cancel].
var ErrClosed = errors.New("playback: scheduler closed")

// Clock reports the output device's monotonic playback time in seconds.
type Clock interface {
	Now() float64
}

// Voice is one scheduled buffer on an [Output].
type Voice interface {
	// Stop silences the voice immediately. Stopping an ended voice is a no-op.
	Stop()
}

// Output plays buffers at absolute clock times.
//
// Start must not invoke onEnded synchronously; onEnded fires once, from
// any goroutine, when the buffer has fully played.
type Output interface {
	Clock
	Start(buf *audio.Buffer, at float64, onEnded func()) Voice
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithOnDrained registers fn to be called whenever the last in-flight buffer
// finishes playing. fn is called without any scheduler lock held.
func WithOnDrained(fn func()) Option {
	return func(s *Scheduler) {
		s.onDrained = fn
	}
}

// Scheduler keeps a non-decreasing next start time and the set of buffers
// that have been scheduled but not yet finished.
// All methods are safe for concurrent use.
type Scheduler struct {
	out       Output
	onDrained func()

	mu       sync.Mutex
	next     float64
	seq      uint64
	inFlight map[uint64]Voice
	closed   bool
}

// New creates a Scheduler that plays on out.
func New(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		inFlight: make(map[uint64]Voice),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule queues buf to start at max(next start time, now) and returns the
// chosen start time. Empty buffers are scheduled too and simply end at once.
func (s *Scheduler) Schedule(buf *audio.Buffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	start := max(s.next, s.out.Now())
	s.next = start + buf.Seconds()

	s.seq++
	id := s.seq
	s.inFlight[id] = s.out.Start(buf, start, func() { s.ended(id) })
	return start, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.inFlight[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.inFlight, id)
	drained := len(s.inFlight) == 0
	s.mu.Unlock()

	if drained && s.onDrained != nil {
		s.onDrained()
	}
}

// Draining reports whether nothing is currently scheduled or playing.
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) == 0
}

// InFlight returns the number of buffers scheduled but not yet finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// NextStart returns the time at which the next buffer would start if the
// clock has not passed it.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Cancel stops every in-flight buffer, forgets them, and resets the next
// start time to zero. Ended notifications that arrive afterwards are
// ignored and the drained hook is not called. Calling Cancel again is a no-op.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	voices := make([]Voice, 0, len(s.inFlight))
	for _, v := range s.inFlight {
		voices = append(voices, v)
	}
	clear(s.inFlight)
	s.next = 0
	s.mu.Unlock()

	for _, v := range voices {
		if v != nil {
			v.Stop()
		}
	}
}
