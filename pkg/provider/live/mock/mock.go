// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to push inbound events and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.OutputTranscription{Text: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/raisehand/pkg/audio"
	"github.com/MrWong99/raisehand/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until it is closed or ctx ends.
	// Tests use it to hold a caller in its connecting phase.
	Gate chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	events    chan live.Event
	finished  bool
	sent      []audio.Chunk
	sentCh    chan audio.Chunk
	closeHits int

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 256),
		sentCh: make(chan audio.Chunk, 1024),
	}
}

// SendAudio records chunk.
func (s *Session) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if s.closeHits > 0 {
		return live.ErrClosed
	}
	s.sent = append(s.sent, chunk)
	select {
	case s.sentCh <- chunk:
	default:
	}
	return nil
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close records the call and ends the event stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHits++
	s.finishLocked()
	return nil
}

// Emit pushes ev onto the event stream. Events emitted after the stream
// ended are dropped.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events <- ev
}

// Fail emits a terminal live.Error wrapping err and ends the stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events <- live.Error{Err: err}
	s.finishLocked()
}

func (s *Session) finishLocked() {
	if !s.finished {
		s.finished = true
		close(s.events)
	}
}

// Sent returns a copy of every chunk passed to SendAudio, in order.
func (s *Session) Sent() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.sent...)
}

// SentCh receives a copy of each chunk as it is sent.
func (s *Session) SentCh() <-chan audio.Chunk { return s.sentCh }

// CloseCallCount returns the number of Close calls.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeHits
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
