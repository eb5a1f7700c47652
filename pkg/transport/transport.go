// Package transport defines the contract between a voice session and the
// remote conversational backend.
//
// The session core is protocol-agnostic: it only needs to push encoded audio
// chunks upstream and consume a stream of inbound events. Concrete adapters
// (e.g. transport/geminilive) wrap a vendor's realtime API behind the two
// narrow interfaces defined here, so backends can be swapped without touching
// the session state machine.
//
// All implementations must be safe for concurrent use.
package transport

import "context"

// Config carries the parameters negotiated when a connection is opened.
// Voice and language selection are resolved by the backend, never by local
// device matching.
type Config struct {
	// InputSampleRate is the PCM sample rate in Hz of outbound audio chunks
	// (16000 by convention with the concierge endpoint).
	InputSampleRate int

	// OutputSampleRate is the requested sample rate in Hz of inbound
	// synthesised audio (typically 24000).
	OutputSampleRate int

	// Language is the natural-language response hint, e.g. "es" or "English".
	Language string

	// Voice is the backend's prebuilt voice name, e.g. "Zephyr".
	Voice string

	// Instructions is the system-level persona prompt for the session.
	Instructions string
}

// EventType classifies inbound events on a [Conn].
type EventType int

const (
	// EventAudio carries one decoded PCM16 audio chunk of synthesised speech.
	EventAudio EventType = iota

	// EventInterrupted signals that the model's in-progress utterance was cut
	// off (barge-in). Any audio already delivered but not yet played must be
	// discarded by the consumer.
	EventInterrupted
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound message from the backend.
type Event struct {
	// Type discriminates the payload.
	Type EventType

	// Audio is the raw PCM16 payload for [EventAudio]; nil otherwise.
	// The transport removes its binary-to-text framing before delivery.
	Audio []byte
}

// Conn is an open bidirectional streaming channel to the backend.
//
// The inbound side is channel-based so the session's run loop can multiplex
// it with capture frames. The Events channel is closed when the connection
// ends — cleanly (remote close or [Conn.Close]) or on error. After the
// channel closes, call [Conn.Err] to distinguish the two.
//
// Callers must call Close when the connection is no longer needed.
type Conn interface {
	// Send delivers one encoded audio chunk upstream. Fire-and-forget:
	// implementations must not wait for acknowledgment, and backpressure is
	// the transport's responsibility. Send preserves call order. Returns an
	// error if the connection is closed or the write fails.
	Send(chunk []byte) error

	// Events returns the read-only inbound event stream. Consumers must
	// drain it promptly to prevent backpressure from stalling the
	// transport's receive loop.
	Events() <-chan Event

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the connection ended cleanly.
	Err() error

	// Close terminates the connection and closes the Events channel.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Dialer opens connections to a concrete backend.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	// Dial establishes a connection with the given configuration. The
	// returned Conn is ready to accept audio immediately. The supplied ctx
	// governs the lifetime of the connection attempt only.
	Dial(ctx context.Context, cfg Config) (Conn, error)
}
