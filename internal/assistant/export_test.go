package assistant

import (
	"slices"

	"github.com/MrWong99/raisehand/pkg/audio"
)

// QueuedChunks returns the chunks held while connecting.
func QueuedChunks(s *Session) []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

// StopPlayback cancels the session's scheduler as teardown would.
func StopPlayback(s *Session) {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched != nil {
		sched.Cancel()
	}
}
