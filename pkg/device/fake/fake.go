// Package fake provides a deterministic in-memory device.Host for tests.
//
// The fake host counts acquisitions and releases so tests can assert that
// stopping a session leaves zero live handles. Input streams are driven by
// hand with Push and Disconnect; output streams run on a manual clock
// advanced with Advance and record every scheduled buffer.
package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/paraguayconcierge/voicecore/pkg/device"
)

var _ device.Host = (*Host)(nil)

// Host is an in-memory device.Host.
type Host struct {
	// InputErr, if non-nil, makes OpenInput fail with it.
	InputErr error
	// OutputErr, if non-nil, makes OpenOutput fail with it.
	OutputErr error
	// SupportedRates, if non-empty, restricts the sample rates the fake
	// hardware will open; other rates fail with device.ErrUnavailable.
	// Empty means every rate opens.
	SupportedRates []int

	mu       sync.Mutex
	acquired int
	released int
	inputs   []*Input
	outputs  []*Output
}

// NewHost creates an empty fake host.
func NewHost() *Host { return &Host{} }

func (h *Host) supports(rate int) bool {
	if len(h.SupportedRates) == 0 {
		return true
	}
	for _, r := range h.SupportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// OpenInput returns a new hand-driven input stream, or InputErr if set.
func (h *Host) OpenInput(cfg device.InputConfig) (device.InputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.InputErr != nil {
		return nil, h.InputErr
	}
	if !h.supports(cfg.SampleRate) {
		return nil, fmt.Errorf("%w: unsupported input rate %d", device.ErrUnavailable, cfg.SampleRate)
	}
	in := &Input{
		cfg:    cfg,
		host:   h,
		blocks: make(chan []float32, 16),
		done:   make(chan struct{}),
	}
	h.acquired++
	h.inputs = append(h.inputs, in)
	return in, nil
}

// OpenOutput returns a new manual-clock output stream, or OutputErr if set.
func (h *Host) OpenOutput(cfg device.OutputConfig) (device.OutputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.OutputErr != nil {
		return nil, h.OutputErr
	}
	if !h.supports(cfg.SampleRate) {
		return nil, fmt.Errorf("%w: unsupported output rate %d", device.ErrUnavailable, cfg.SampleRate)
	}
	out := &Output{cfg: cfg, host: h}
	h.acquired++
	h.outputs = append(h.outputs, out)
	return out, nil
}

// Acquired returns how many streams were successfully opened.
func (h *Host) Acquired() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquired
}

// Released returns how many streams were closed.
func (h *Host) Released() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Input returns the most recently opened input stream, or nil.
func (h *Host) Input() *Input {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.inputs) == 0 {
		return nil
	}
	return h.inputs[len(h.inputs)-1]
}

// Output returns the most recently opened output stream, or nil.
func (h *Host) Output() *Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.outputs) == 0 {
		return nil
	}
	return h.outputs[len(h.outputs)-1]
}

func (h *Host) release() {
	h.mu.Lock()
	h.released++
	h.mu.Unlock()
}

// ── Input ──────────────────────────────────────────────────────────────────────

// Input is a hand-driven capture stream.
type Input struct {
	cfg  device.InputConfig
	host *Host

	blocks chan []float32
	done   chan struct{}

	mu        sync.Mutex
	errVal    error
	ended     bool
	closeOnce sync.Once
	doneOnce  sync.Once
	blocksCls sync.Once
}

var _ device.InputStream = (*Input)(nil)

// Blocks returns the capture channel.
func (in *Input) Blocks() <-chan []float32 { return in.blocks }

// Rate returns the sample rate the stream was opened at.
func (in *Input) Rate() int { return in.cfg.SampleRate }

// Err returns the disconnect error, if any.
func (in *Input) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.errVal
}

// Push delivers one captured block. Blocks pushed after Close or Disconnect
// are dropped. The mutex is held across the send so a concurrent Close
// cannot close the channel mid-send; end closes done first, which unblocks
// the send before it takes the lock.
func (in *Input) Push(samples []float32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ended {
		return
	}
	select {
	case in.blocks <- samples:
	case <-in.done:
	}
}

// end finalises the stream: done unblocks any in-flight Push, then the
// block channel closes once no sender can hold it.
func (in *Input) end(err error) {
	in.doneOnce.Do(func() { close(in.done) })
	in.mu.Lock()
	if err != nil && in.errVal == nil {
		in.errVal = err
	}
	in.ended = true
	in.mu.Unlock()
	in.blocksCls.Do(func() { close(in.blocks) })
}

// Disconnect simulates the device disappearing mid-session: the block
// channel closes and Err reports the given error (device.ErrDisconnected
// when nil).
func (in *Input) Disconnect(err error) {
	if err == nil {
		err = device.ErrDisconnected
	}
	in.end(err)
}

// Close releases the handle. Idempotent.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		in.end(nil)
		in.host.release()
	})
	return nil
}

// ── Output ─────────────────────────────────────────────────────────────────────

// Unit records one scheduled buffer.
type Unit struct {
	// Start is the clock position the buffer was scheduled at.
	Start time.Duration
	// Duration is derived from the sample count and the stream format.
	Duration time.Duration
	// Samples is the scheduled buffer.
	Samples []float32
}

// End returns Start + Duration.
func (u Unit) End() time.Duration { return u.Start + u.Duration }

// Output is a playback stream on a manual clock.
type Output struct {
	cfg  device.OutputConfig
	host *Host

	mu        sync.Mutex
	now       time.Duration
	history   []Unit
	stopCalls int
	closed    bool
	closeOnce sync.Once
}

var _ device.OutputStream = (*Output)(nil)

// Rate returns the sample rate the stream was opened at.
func (out *Output) Rate() int { return out.cfg.SampleRate }

// Now returns the manual clock position.
func (out *Output) Now() time.Duration {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.now
}

// Advance moves the manual clock forward.
func (out *Output) Advance(d time.Duration) {
	out.mu.Lock()
	out.now += d
	out.mu.Unlock()
}

// Play records the scheduled buffer.
func (out *Output) Play(samples []float32, start time.Duration) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return fmt.Errorf("fake: output closed")
	}
	frames := len(samples) / out.cfg.Channels
	out.history = append(out.history, Unit{
		Start:    start,
		Duration: time.Duration(frames) * time.Second / time.Duration(out.cfg.SampleRate),
		Samples:  samples,
	})
	return nil
}

// StopAll records the call. Scheduled history is preserved so tests can
// assert on everything that was ever submitted.
func (out *Output) StopAll() {
	out.mu.Lock()
	out.stopCalls++
	out.mu.Unlock()
}

// Scheduled returns every buffer ever submitted, in submission order.
func (out *Output) Scheduled() []Unit {
	out.mu.Lock()
	defer out.mu.Unlock()
	units := make([]Unit, len(out.history))
	copy(units, out.history)
	return units
}

// StopCalls returns how many times StopAll was invoked.
func (out *Output) StopCalls() int {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.stopCalls
}

// Close releases the handle. Idempotent.
func (out *Output) Close() error {
	out.closeOnce.Do(func() {
		out.mu.Lock()
		out.closed = true
		out.mu.Unlock()
		out.host.release()
	})
	return nil
}
