// Package device abstracts exclusive audio device handles.
//
// A Host hands out input and output streams as explicit resources owned by
// whoever opened them, never as process-wide singletons. This keeps device
// lifetime visible to the session that acquired it and lets tests substitute
// a deterministic fake host (see device/fake) for the real PortAudio-backed
// one (see device/portaudio).
//
// Samples cross this boundary as float32 in [-1, 1]; quantization to the
// wire format is the caller's concern.
package device

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by Host.OpenInput / Host.OpenOutput when the
// requested device cannot be acquired (missing hardware, permission denied,
// already claimed exclusively).
var ErrUnavailable = errors.New("device: unavailable")

// ErrDisconnected is the terminal error of a stream whose underlying device
// went away mid-session. Surfaced via InputStream.Err after the block
// channel closes.
var ErrDisconnected = errors.New("device: disconnected")

// InputConfig describes the capture stream to open.
type InputConfig struct {
	// SampleRate in Hz.
	SampleRate int
	// Channels per interleaved block. The concierge endpoint expects mono.
	Channels int
	// BlockSize is the number of samples delivered per block on the Blocks
	// channel.
	BlockSize int
}

// OutputConfig describes the playback stream to open.
type OutputConfig struct {
	// SampleRate in Hz.
	SampleRate int
	// Channels per interleaved buffer.
	Channels int
}

// Host opens audio streams. Each open stream is an exclusive handle that
// must be closed by its owner.
type Host interface {
	// OpenInput acquires the capture device. Fails with an error wrapping
	// ErrUnavailable when the device cannot be acquired.
	OpenInput(cfg InputConfig) (InputStream, error)

	// OpenOutput acquires the playback device. Fails with an error wrapping
	// ErrUnavailable when the device cannot be acquired.
	OpenOutput(cfg OutputConfig) (OutputStream, error)
}

// InputStream delivers captured sample blocks.
//
// The Blocks channel closes when capture ends, whether by Close or by the
// device disappearing. After the channel closes, Err reports a non-nil
// error (wrapping ErrDisconnected) for the latter case.
type InputStream interface {
	// Blocks returns the stream of captured blocks, each BlockSize samples
	// long. The slice is owned by the receiver.
	Blocks() <-chan []float32

	// Err returns the error that terminated capture, or nil if the stream
	// was closed locally.
	Err() error

	// Close releases the device handle. Idempotent.
	Close() error
}

// OutputStream plays sample buffers at scheduled positions on its own
// monotonic clock. The clock starts at zero when the stream opens and only
// moves forward; it is unrelated to wall time.
type OutputStream interface {
	// Now returns the current position of the playback clock.
	Now() time.Duration

	// Play schedules samples to begin at the given clock position. A start
	// in the past begins as soon as possible. Buffers scheduled at
	// non-overlapping positions play gaplessly back to back.
	Play(samples []float32, start time.Duration) error

	// StopAll discards every scheduled buffer immediately, including any
	// currently sounding. The clock keeps running.
	StopAll()

	// Close stops playback and releases the device handle. Idempotent.
	Close() error
}
