// Package portaudio implements device.Host on top of PortAudio.
//
// One Host wraps one PortAudio initialization; close it to release the
// library. Streams use the default system devices.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/paraguayconcierge/voicecore/pkg/device"
)

// outputBlock is the number of frames written to the device per cycle.
// Small enough that StopAll takes effect within ~20 ms at 24 kHz.
const outputBlock = 512

var _ device.Host = (*Host)(nil)

// Host is a PortAudio-backed device.Host.
type Host struct {
	log       *slog.Logger
	closeOnce sync.Once
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used for stream-level warnings.
func WithLogger(log *slog.Logger) Option {
	return func(h *Host) { h.log = log }
}

// NewHost initializes PortAudio and returns a Host. The caller must Close
// it to terminate the library.
func NewHost(opts ...Option) (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	h := &Host{log: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Close terminates the PortAudio library. Idempotent.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() { err = portaudio.Terminate() })
	return err
}

// OpenInput opens the default capture device.
func (h *Host) OpenInput(cfg device.InputConfig) (device.InputStream, error) {
	buf := make([]float32, cfg.BlockSize*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.BlockSize, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w: %w", device.ErrUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input: %w: %w", device.ErrUnavailable, err)
	}

	in := &inputStream{
		stream: stream,
		buf:    buf,
		blocks: make(chan []float32, 4),
		done:   make(chan struct{}),
		log:    h.log,
	}
	in.wg.Add(1)
	go in.readLoop()
	return in, nil
}

// OpenOutput opens the default playback device.
func (h *Host) OpenOutput(cfg device.OutputConfig) (device.OutputStream, error) {
	buf := make([]float32, outputBlock*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), outputBlock, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w: %w", device.ErrUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w: %w", device.ErrUnavailable, err)
	}

	out := &outputStream{
		stream:     stream,
		buf:        buf,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		done:       make(chan struct{}),
		log:        h.log,
	}
	out.wg.Add(1)
	go out.writeLoop()
	return out, nil
}

// ── Input ──────────────────────────────────────────────────────────────────────

type inputStream struct {
	stream *portaudio.Stream
	buf    []float32
	blocks chan []float32
	log    *slog.Logger

	mu     sync.Mutex
	errVal error

	done      chan struct{}
	closeOnce sync.Once
	blocksCls sync.Once
	wg        sync.WaitGroup
}

func (in *inputStream) Blocks() <-chan []float32 { return in.blocks }

func (in *inputStream) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.errVal
}

func (in *inputStream) readLoop() {
	defer in.wg.Done()
	defer in.blocksCls.Do(func() { close(in.blocks) })

	for {
		if err := in.stream.Read(); err != nil {
			select {
			case <-in.done:
				return // local close unblocked the read
			default:
			}
			in.mu.Lock()
			in.errVal = fmt.Errorf("portaudio: read: %w: %w", device.ErrDisconnected, err)
			in.mu.Unlock()
			return
		}

		block := make([]float32, len(in.buf))
		copy(block, in.buf)
		select {
		case in.blocks <- block:
		case <-in.done:
			return
		}
	}
}

// Close releases the capture device. Idempotent.
func (in *inputStream) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.done)
		in.stream.Abort() // unblocks a pending Read
		in.wg.Wait()
		err = in.stream.Close()
	})
	return err
}

// ── Output ─────────────────────────────────────────────────────────────────────

// outUnit is one scheduled buffer. start is a frame index on the stream's
// clock; offset counts interleaved samples already consumed.
type outUnit struct {
	start   int64
	samples []float32
	offset  int
}

type outputStream struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
	channels   int
	log        *slog.Logger

	pos atomic.Int64 // frames written to the device so far

	mu    sync.Mutex
	queue []*outUnit

	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	warnedOnce sync.Once
}

func (out *outputStream) Now() time.Duration {
	return time.Duration(out.pos.Load()) * time.Second / time.Duration(out.sampleRate)
}

func (out *outputStream) Play(samples []float32, start time.Duration) error {
	select {
	case <-out.done:
		return fmt.Errorf("portaudio: output closed")
	default:
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	startFrame := int64(start) * int64(out.sampleRate) / int64(time.Second)

	out.mu.Lock()
	out.queue = append(out.queue, &outUnit{start: startFrame, samples: cp})
	out.mu.Unlock()
	return nil
}

func (out *outputStream) StopAll() {
	out.mu.Lock()
	out.queue = nil
	out.mu.Unlock()
}

func (out *outputStream) writeLoop() {
	defer out.wg.Done()

	for {
		select {
		case <-out.done:
			return
		default:
		}

		out.fill()
		if err := out.stream.Write(); err != nil {
			select {
			case <-out.done:
				return
			default:
			}
			// Underflow is routine on a loaded machine; anything worse
			// repeats, so one warning is enough either way.
			out.warnedOnce.Do(func() {
				out.log.Warn("output stream write error", "error", err)
			})
		}
		out.pos.Add(outputBlock)
	}
}

// fill assembles the next device block from the scheduled queue, silence
// where nothing is due, and drops finished units.
func (out *outputStream) fill() {
	for i := range out.buf {
		out.buf[i] = 0
	}

	blockStart := out.pos.Load()
	blockEnd := blockStart + outputBlock

	out.mu.Lock()
	defer out.mu.Unlock()

	live := out.queue[:0]
	for _, u := range out.queue {
		cursor := u.start + int64(u.offset/out.channels)
		if cursor >= blockEnd {
			live = append(live, u) // not due yet
			continue
		}

		// A unit scheduled in the past starts as soon as possible.
		if cursor < blockStart {
			cursor = blockStart
		}
		for f := cursor; f < blockEnd && u.offset < len(u.samples); f++ {
			base := int(f-blockStart) * out.channels
			for c := 0; c < out.channels && u.offset < len(u.samples); c++ {
				out.buf[base+c] += u.samples[u.offset]
				u.offset++
			}
		}
		if u.offset < len(u.samples) {
			live = append(live, u)
		}
	}
	out.queue = live
}

// Close stops playback and releases the device. Idempotent.
func (out *outputStream) Close() error {
	var err error
	out.closeOnce.Do(func() {
		close(out.done)
		out.stream.Abort()
		out.wg.Wait()
		err = out.stream.Close()
	})
	return err
}
