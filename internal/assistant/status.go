package assistant

// Status is the learner-facing conversational state of a session.
type Status int

const (
	// Initializing is reported while the microphone is being requested.
	Initializing Status = iota
	// Listening means the learner may speak.
	Listening
	// Speaking means model speech is scheduled or playing.
	Speaking
	// AwaitingConfirmation asks the learner whether the doubt is cleared.
	AwaitingConfirmation
	// Error is terminal; a new session is needed to recover.
	Error
	// Closed is reported once teardown has finished.
	Closed
)

// String returns the lower-case name of s.
func (s Status) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Error:
		return "error"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle of the remote session handle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
