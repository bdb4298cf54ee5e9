package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/raisehand/internal/lesson"
	"github.com/MrWong99/raisehand/pkg/audio/capture"
	"github.com/MrWong99/raisehand/pkg/provider/live"
)

// ErrResourceBusy is returned by [Manager.Open] while a previous session
// still holds the microphone, the speaker, or a live session handle.
var ErrResourceBusy = errors.New("assistant: audio resources busy")

// Guard is exclusive ownership of the audio devices and the live session
// handle. The zero value is free.
type Guard struct {
	mu   sync.Mutex
	held bool
}

// TryAcquire takes the guard. It returns [ErrResourceBusy] if it is held.
func (g *Guard) TryAcquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return ErrResourceBusy
	}
	g.held = true
	return nil
}

// Release frees the guard. Releasing a free guard is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}

// Held reports whether the guard is taken.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	SessionID string
	LessonID  int
	StartedAt time.Time
}

// Manager opens raise-hand sessions one at a time.
// All exported methods are safe for concurrent use.
type Manager struct {
	provider   live.Provider
	mic        capture.Source
	openOutput OutputFactory
	player     lesson.Player
	base       Config
	opts       []Option

	guard Guard

	mu     sync.Mutex
	active *Session
	info   SessionInfo
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Provider   live.Provider
	Microphone capture.Source
	OpenOutput OutputFactory
	Player     lesson.Player

	// Session is the template for every session; its Lesson is replaced by
	// the lesson passed to Open.
	Session Config

	// Options are applied to every session.
	Options []Option
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		provider:   cfg.Provider,
		mic:        cfg.Microphone,
		openOutput: cfg.OpenOutput,
		player:     cfg.Player,
		base:       cfg.Session,
		opts:       cfg.Options,
	}
}

// Open raises the learner's hand for l: it creates and starts a session.
// It fails with [ErrResourceBusy] without creating anything while a previous
// session has not finished its teardown.
func (m *Manager) Open(ctx context.Context, l lesson.Lesson) (*Session, error) {
	if err := m.guard.TryAcquire(); err != nil {
		return nil, err
	}

	cfg := m.base
	cfg.Lesson = l

	var s *Session
	opts := append(append([]Option(nil), m.opts...), withRelease(func() {
		m.mu.Lock()
		if m.active == s {
			m.active = nil
			m.info = SessionInfo{}
		}
		m.mu.Unlock()
		m.guard.Release()
	}))
	s = New(m.provider, m.mic, m.openOutput, m.player, cfg, opts...)

	m.mu.Lock()
	m.active = s
	m.info = SessionInfo{SessionID: s.ID(), LessonID: l.ID, StartedAt: time.Now().UTC()}
	m.mu.Unlock()

	s.Start(ctx)
	return s, nil
}

// Active returns the open session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns metadata about the open session. ok is false when none is open.
func (m *Manager) Info() (info SessionInfo, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, m.active != nil
}

// Busy reports whether a session currently owns the audio resources.
func (m *Manager) Busy() bool { return m.guard.Held() }

// Close tears down the open session, if any.
func (m *Manager) Close() error {
	if s := m.Active(); s != nil {
		return s.Close()
	}
	return nil
}
