// Package session implements the duplex voice session state machine.
//
// A Session owns one transport connection, one capture pipeline and one
// playback scheduler. A single run-loop goroutine is the sole mutator of
// session state: capture frames and inbound transport events are
// message-passed into it over channels, so device callbacks and the network
// receive loop never touch shared state directly.
//
// Lifecycle: Idle → Connecting → Active → Closing → Closed, with Errored as
// the terminal state for any mid-session failure. Stop is idempotent and
// reachable from every state; after it returns, no device handles or
// background goroutines remain.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/paraguayconcierge/voicecore/internal/capture"
	"github.com/paraguayconcierge/voicecore/internal/observe"
	"github.com/paraguayconcierge/voicecore/internal/playback"
	"github.com/paraguayconcierge/voicecore/pkg/audio"
	"github.com/paraguayconcierge/voicecore/pkg/device"
	"github.com/paraguayconcierge/voicecore/pkg/transport"
)

// Sentinel errors of the session taxonomy. Wrapped failures can be tested
// with errors.Is.
var (
	// ErrAlreadyActive is returned by Start when the session is already
	// connecting or active.
	ErrAlreadyActive = errors.New("session: already active")

	// ErrFinished is returned by Start after the session reached a terminal
	// state; sessions are single-use.
	ErrFinished = errors.New("session: already finished")

	// ErrCaptureUnavailable covers device acquisition failures at start.
	ErrCaptureUnavailable = errors.New("session: capture unavailable")

	// ErrDeviceDisconnected covers a device disappearing mid-session.
	ErrDeviceDisconnected = errors.New("session: device disconnected")

	// ErrTransport covers connection failures, remote protocol errors, and
	// a degraded inbound stream exceeding the malformed-chunk budget.
	ErrTransport = errors.New("session: transport error")
)

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Connecting
	Active
	Closing
	Closed
	Errored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s == Closed || s == Errored }

// Defaults applied by New for zero config fields.
const (
	defaultCaptureRate    = 16000
	defaultPlaybackRate   = 24000
	defaultFrameSize      = 4096
	defaultFaultThreshold = 5
	defaultFaultWindow    = 10 * time.Second
	defaultStopTimeout    = 2 * time.Second

	// deviceNativeRate is retried when a device refuses the negotiated
	// rate; 48 kHz is what consumer hardware opens natively. Audio is
	// resampled to and from the negotiated rates around the device.
	deviceNativeRate = 48000
)

// Config holds the dependencies and tuning of a Session.
type Config struct {
	// Dialer opens the backend connection.
	Dialer transport.Dialer

	// Host provides the audio devices.
	Host device.Host

	// CaptureRate is the microphone sample rate in Hz. Default 16000.
	CaptureRate int

	// PlaybackRate is the synthesized-audio sample rate in Hz. Default 24000.
	PlaybackRate int

	// FrameSize is the number of samples per outbound chunk. Default 4096.
	FrameSize int

	// Voice is the backend voice profile name passed at dial time.
	Voice string

	// Instructions is the persona prompt; the transport substitutes the
	// session language into it.
	Instructions string

	// FaultThreshold is the number of malformed inbound chunks within
	// FaultWindow that forces transport-error termination. Default 5.
	FaultThreshold int

	// FaultWindow bounds the malformed-chunk counter. Default 10s.
	FaultWindow time.Duration

	// StopTimeout bounds how long teardown waits for device handles to
	// release before forcing shutdown. Default 2s.
	StopTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Session is one duplex voice session. Create with New, drive with Start
// and Stop. All exported methods are safe for concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger
	met *observe.Metrics

	// lifecycle serialises Start and Stop so Stop never observes a
	// half-acquired Connecting session.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	errVal    error
	subs      []func(State)
	startedAt time.Time

	// Owned resources, set during Start and released by the run loop.
	conn  transport.Conn
	pipe  *capture.Pipeline
	out   device.OutputStream
	sched *playback.Scheduler

	// conv resamples inbound audio when the output device opened at its
	// native rate instead of the negotiated playback rate.
	conv *audio.FormatConverter

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates an idle session. Dialer and Host are required.
func New(cfg Config) *Session {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = defaultCaptureRate
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = defaultPlaybackRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaultFrameSize
	}
	if cfg.FaultThreshold <= 0 {
		cfg.FaultThreshold = defaultFaultThreshold
	}
	if cfg.FaultWindow <= 0 {
		cfg.FaultWindow = defaultFaultWindow
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:    cfg,
		log:    cfg.Logger,
		met:    cfg.Metrics,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start acquires the audio devices, dials the backend, and begins
// streaming. It is synchronous through the Connecting phase: on return the
// session is Active or the failure has already released every
// partially-acquired resource. A re-entrant Start fails fast with
// ErrAlreadyActive and leaves the running session untouched.
func (s *Session) Start(ctx context.Context, language string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	switch s.state {
	case Connecting, Active, Closing:
		s.mu.Unlock()
		return ErrAlreadyActive
	case Closed, Errored:
		s.mu.Unlock()
		return ErrFinished
	}
	s.state = Connecting
	subs := append(([]func(State))(nil), s.subs...)
	s.mu.Unlock()
	notify(subs, Connecting)

	out, outRate, pipe, conn, err := s.acquire(ctx, language)
	if err != nil {
		s.mu.Lock()
		s.state = Errored
		s.errVal = err
		subs = append(([]func(State))(nil), s.subs...)
		s.mu.Unlock()
		notify(subs, Errored)
		s.met.RecordSessionError(context.Background(), errorReason(err))
		return err
	}

	s.mu.Lock()
	s.out = out
	s.pipe = pipe
	s.conn = conn
	s.sched = playback.New(out, outRate, 1)
	if outRate != s.cfg.PlaybackRate {
		s.conv = &audio.FormatConverter{
			Target: audio.Format{SampleRate: outRate, Channels: 1},
		}
	}
	s.state = Active
	s.startedAt = time.Now()
	subs = append(([]func(State))(nil), s.subs...)
	s.mu.Unlock()
	notify(subs, Active)

	s.met.ActiveSessions.Add(context.Background(), 1)
	s.log.Info("session active",
		"language", language,
		"capture_rate", s.cfg.CaptureRate,
		"playback_rate", s.cfg.PlaybackRate,
	)

	go s.run()
	return nil
}

// acquire opens the output device, the capture pipeline, and the transport,
// in that order, releasing earlier acquisitions when a later one fails.
// Devices that refuse the negotiated rate are retried at their native rate;
// the returned rate is what the output actually opened at.
func (s *Session) acquire(ctx context.Context, language string) (device.OutputStream, int, *capture.Pipeline, transport.Conn, error) {
	outRate := s.cfg.PlaybackRate
	out, err := s.cfg.Host.OpenOutput(device.OutputConfig{
		SampleRate: s.cfg.PlaybackRate,
		Channels:   1,
	})
	if err != nil && s.cfg.PlaybackRate != deviceNativeRate {
		outRate = deviceNativeRate
		out, err = s.cfg.Host.OpenOutput(device.OutputConfig{
			SampleRate: deviceNativeRate,
			Channels:   1,
		})
		if err == nil {
			s.log.Warn("output device refused playback rate, using native rate",
				"playback_rate", s.cfg.PlaybackRate, "device_rate", deviceNativeRate)
		}
	}
	if err != nil {
		return nil, 0, nil, nil, fmt.Errorf("%w: open output: %w", ErrCaptureUnavailable, err)
	}

	pipe, err := capture.Start(s.cfg.Host, capture.Config{
		SampleRate:   s.cfg.CaptureRate,
		Channels:     1,
		FrameSize:    s.cfg.FrameSize,
		FallbackRate: deviceNativeRate,
	})
	if err != nil {
		out.Close()
		return nil, 0, nil, nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	conn, err := s.cfg.Dialer.Dial(ctx, transport.Config{
		InputSampleRate:  s.cfg.CaptureRate,
		OutputSampleRate: s.cfg.PlaybackRate,
		Language:         language,
		Voice:            s.cfg.Voice,
		Instructions:     s.cfg.Instructions,
	})
	if err != nil {
		pipe.Stop()
		out.Close()
		return nil, 0, nil, nil, fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}

	return out, outRate, pipe, conn, nil
}

// Stop tears the session down. Idempotent, safe from any state, bounded by
// StopTimeout. After it returns, every device handle is released.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	switch s.state {
	case Idle:
		s.state = Closed
		subs := append(([]func(State))(nil), s.subs...)
		s.mu.Unlock()
		notify(subs, Closed)
		return
	case Closed, Errored:
		s.mu.Unlock()
		return
	}
	if s.state == Active {
		s.state = Closing
		subs := append(([]func(State))(nil), s.subs...)
		s.mu.Unlock()
		notify(subs, Closing)
	} else {
		s.mu.Unlock()
	}

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// Status returns the current state.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error after the session reached Errored, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// OnStatus registers a callback invoked on every state transition. The
// callback runs outside the session lock and must not block for long.
func (s *Session) OnStatus(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// run is the single mutator of in-session state. It multiplexes capture
// frames, inbound transport events, and the stop signal until the session
// ends, then performs the bounded teardown.
func (s *Session) run() {
	ctx := context.Background()
	var faults []time.Time

	for {
		select {
		case <-s.stopCh:
			s.finish(Closed, nil)
			return

		case frame, ok := <-s.pipe.Frames():
			if !ok {
				cause := s.pipe.Err()
				if cause == nil {
					cause = device.ErrDisconnected
				}
				s.finish(Errored, fmt.Errorf("%w: %w", ErrDeviceDisconnected, cause))
				return
			}
			s.met.FramesCaptured.Add(ctx, 1)
			if err := s.conn.Send(frame.Data); err != nil {
				s.finish(Errored, fmt.Errorf("%w: send: %w", ErrTransport, err))
				return
			}
			s.met.ChunksSent.Add(ctx, 1)

		case ev, ok := <-s.conn.Events():
			if !ok {
				if err := s.conn.Err(); err != nil {
					s.finish(Errored, fmt.Errorf("%w: %w", ErrTransport, err))
				} else {
					s.finish(Closed, nil)
				}
				return
			}
			switch ev.Type {
			case transport.EventInterrupted:
				s.sched.Interrupt()
				s.met.Interruptions.Add(ctx, 1)
				s.log.Debug("playback interrupted by barge-in")

			case transport.EventAudio:
				samples, err := audio.DecodePCM16(ev.Audio, 1)
				if err != nil {
					s.met.MalformedChunks.Add(ctx, 1)
					faults = s.recordFault(faults)
					if len(faults) >= s.cfg.FaultThreshold {
						s.finish(Errored, fmt.Errorf(
							"%w: %d malformed chunks within %v",
							ErrTransport, len(faults), s.cfg.FaultWindow))
						return
					}
					s.log.Warn("dropped malformed inbound chunk",
						"error", err, "faults", len(faults))
					continue
				}
				s.met.ChunksReceived.Add(ctx, 1)
				if s.conv != nil {
					// Alignment was already validated above; the resampled
					// bytes decode cleanly.
					converted := s.conv.Convert(audio.AudioFrame{
						Data:       ev.Audio,
						SampleRate: s.cfg.PlaybackRate,
						Channels:   1,
					})
					samples, _ = audio.DecodePCM16(converted.Data, 1)
				}
				start, err := s.sched.Enqueue(samples)
				if err != nil {
					s.finish(Errored, fmt.Errorf("%w: %w", ErrDeviceDisconnected, err))
					return
				}
				s.met.PlaybackBacklog.Record(ctx, (start - s.out.Now()).Seconds())
			}
		}
	}
}

// recordFault appends one malformed-chunk fault and drops faults older than
// the window.
func (s *Session) recordFault(faults []time.Time) []time.Time {
	now := time.Now()
	cutoff := now.Add(-s.cfg.FaultWindow)
	live := faults[:0]
	for _, ts := range faults {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	return append(live, now)
}

// finish releases every owned resource and records the terminal state. The
// release is bounded: a hung device close is abandoned after StopTimeout
// rather than wedging Stop forever.
func (s *Session) finish(final State, cause error) {
	released := make(chan struct{})
	go func() {
		s.pipe.Stop()
		s.conn.Close()
		s.sched.Interrupt()
		s.out.Close()
		close(released)
	}()
	// The run loop no longer consumes these; keep their producers unblocked
	// until close finishes.
	go audio.Drain(s.pipe.Frames())
	go audio.Drain(s.conn.Events())
	select {
	case <-released:
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn("device release timed out, forcing shutdown",
			"timeout", s.cfg.StopTimeout)
	}

	s.mu.Lock()
	s.state = final
	s.errVal = cause
	subs := append(([]func(State))(nil), s.subs...)
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()
	notify(subs, final)

	ctx := context.Background()
	s.met.ActiveSessions.Add(ctx, -1)
	outcome := "closed"
	if final == Errored {
		outcome = "error"
		s.met.RecordSessionError(ctx, errorReason(cause))
	}
	s.met.SessionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("outcome", outcome)))

	if cause != nil {
		s.log.Error("session ended", "state", final, "error", cause, "duration", elapsed)
	} else {
		s.log.Info("session ended", "state", final, "duration", elapsed)
	}
	close(s.done)
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}

// errorReason maps a terminal error to its taxonomy label for metrics.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrCaptureUnavailable):
		return "capture_unavailable"
	case errors.Is(err, ErrDeviceDisconnected):
		return "device_disconnected"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
