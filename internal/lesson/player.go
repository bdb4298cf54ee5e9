package lesson

import "sync"

// Player is the lesson video collaborator. The assistant keeps it paused
// while a session is active and resumes it once the learner confirms.
type Player interface {
	SetPaused(paused bool)
	Resume()
}

// State is an in-process [Player] that remembers whether the lesson is
// paused. The TUI renders from it; observers are notified on every change.
type State struct {
	mu       sync.Mutex
	paused   bool
	resumes  int
	onChange func(paused bool)
}

var _ Player = (*State)(nil)

// NewState returns a playing State. onChange may be nil.
func NewState(onChange func(paused bool)) *State {
	return &State{onChange: onChange}
}

// SetPaused implements Player.
func (s *State) SetPaused(paused bool) {
	s.set(paused, false)
}

// Resume implements Player.
func (s *State) Resume() {
	s.set(false, true)
}

func (s *State) set(paused, resume bool) {
	s.mu.Lock()
	changed := s.paused != paused
	s.paused = paused
	if resume {
		s.resumes++
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil && (changed || resume) {
		fn(paused)
	}
}

// Paused reports whether the lesson is currently paused.
func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Resumes returns how many times Resume was called.
func (s *State) Resumes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumes
}
