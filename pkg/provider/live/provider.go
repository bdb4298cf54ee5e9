// Package live defines the Provider interface for real-time conversational
// voice backends.
//
// A live provider accepts a continuous stream of microphone audio and answers
// with a single ordered stream of [Event] values: transcription fragments for
// both sides of the conversation, web citations, synthesised speech, and a
// turn-complete marker. Consumers must process events in the order received;
// the order carries meaning (e.g. all fragments of a turn precede its
// [TurnComplete]).
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/raisehand/pkg/audio"
)

var (
	// ErrTransport is wrapped by every [Error] event and by Connect failures
	// caused by the network or the remote service.
	ErrTransport = errors.New("live: transport failure")

	// ErrClosed is returned by [Session.SendAudio] after Close.
	ErrClosed = errors.New("live: session closed")
)

// SessionConfig is the configuration sent when a session opens.
type SessionConfig struct {
	// Voice is the name of a prebuilt voice preset, e.g. "Zephyr".
	Voice string

	// Instructions is the system prompt for the whole session.
	Instructions string

	// InputTranscription requests text transcription of the learner's speech.
	InputTranscription bool

	// OutputTranscription requests text transcription of the model's speech.
	OutputTranscription bool

	// WebSearch enables the provider's web-search grounding tool.
	WebSearch bool
}

// WebSource is a citation attached to a model answer.
type WebSource struct {
	URI   string
	Title string
}

// Event is one inbound item on [Session.Events]. The concrete types are
// [InputTranscription], [OutputTranscription], [Grounding], [Audio],
// [TurnComplete] and [Error].
type Event interface {
	event()
}

// InputTranscription is a fragment of the learner's transcribed speech.
type InputTranscription struct{ Text string }

// OutputTranscription is a fragment of the model's transcribed speech.
type OutputTranscription struct{ Text string }

// Grounding carries citations for the current model turn in arrival order.
type Grounding struct{ Sources []WebSource }

// Audio is one synthesised speech payload. Data is still transport-encoded;
// decoding is left to the consumer so malformed payloads can be counted.
type Audio struct {
	Data     string
	MIMEType string
}

// TurnComplete marks the end of a model turn.
type TurnComplete struct{}

// Error reports a fatal session failure. Err wraps [ErrTransport]. No further
// events follow an Error.
type Error struct{ Err error }

func (InputTranscription) event()  {}
func (OutputTranscription) event() {}
func (Grounding) event()           {}
func (Audio) event()               {}
func (TurnComplete) event()        {}
func (Error) event()               {}

// Session is an open conversation.
type Session interface {
	// SendAudio streams one microphone chunk to the model.
	SendAudio(chunk audio.Chunk) error

	// Events returns the ordered inbound event stream. The channel is closed
	// when the session ends, after any final [Error] event.
	Events() <-chan Event

	// Close ends the session. It is idempotent.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect dials the backend and returns once the session is ready to
	// accept audio.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
