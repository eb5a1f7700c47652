// Package capture owns the microphone side of a voice session.
//
// A Pipeline holds one exclusive input stream and re-chunks whatever block
// size the device delivers into fixed-size frames, quantized to s16le and
// ready for the transport. Frames are message-passed on a channel so the
// session run loop can multiplex them with inbound transport events; no
// callback ever runs on the device's delivery goroutine beyond the
// re-chunker itself.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/paraguayconcierge/voicecore/pkg/audio"
	"github.com/paraguayconcierge/voicecore/pkg/device"
)

// defaultDeviceBlock is the block size requested from the device when the
// config does not specify one. Independent of the emitted frame size.
const defaultDeviceBlock = 1024

// Config describes the capture format.
type Config struct {
	// SampleRate in Hz (16000 by convention with the concierge endpoint).
	SampleRate int
	// Channels per frame; mono in practice.
	Channels int
	// FrameSize is the number of samples per emitted frame (4096 by
	// convention).
	FrameSize int
	// DeviceBlock is the block size requested from the device. Defaults to
	// defaultDeviceBlock; the pipeline re-chunks regardless, so the two
	// sizes need not divide each other.
	DeviceBlock int
	// FallbackRate, when non-zero, is retried if the device will not open
	// at SampleRate. Blocks captured at the fallback rate are resampled to
	// SampleRate before framing, so the emitted frames are identical either
	// way.
	FallbackRate int
}

// Pipeline is one running capture. Obtain with Start; release with Stop.
type Pipeline struct {
	in  device.InputStream
	cfg Config

	// deviceRate is the rate the device actually opened at; conv is set
	// when it differs from the configured SampleRate.
	deviceRate int
	conv       *audio.FormatConverter

	frames chan audio.AudioFrame
	done   chan struct{}

	mu     sync.Mutex
	errVal error

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Start acquires the input device and begins capturing. Acquisition
// failure is synchronous; once started, a device disconnect closes the
// Frames channel and is reported by Err.
func Start(host device.Host, cfg Config) (*Pipeline, error) {
	if cfg.DeviceBlock <= 0 {
		cfg.DeviceBlock = defaultDeviceBlock
	}
	deviceRate := cfg.SampleRate
	in, err := host.OpenInput(device.InputConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BlockSize:  cfg.DeviceBlock,
	})
	if err != nil && cfg.FallbackRate > 0 && cfg.FallbackRate != cfg.SampleRate {
		deviceRate = cfg.FallbackRate
		in, err = host.OpenInput(device.InputConfig{
			SampleRate: cfg.FallbackRate,
			Channels:   cfg.Channels,
			BlockSize:  cfg.DeviceBlock,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("capture: open input: %w", err)
	}

	p := &Pipeline{
		in:         in,
		cfg:        cfg,
		deviceRate: deviceRate,
		frames:     make(chan audio.AudioFrame, 8),
		done:       make(chan struct{}),
	}
	if deviceRate != cfg.SampleRate {
		p.conv = &audio.FormatConverter{
			Target: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		}
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Frames returns the stream of encoded frames. The channel closes when
// capture ends; Err distinguishes a local Stop from a device disconnect.
func (p *Pipeline) Frames() <-chan audio.AudioFrame { return p.frames }

// Err returns the error that terminated capture, or nil after a local Stop.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errVal
}

// Stop releases the input device and waits for the frame channel to close.
// Idempotent and safe to call from a stopped state.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.in.Close()
		p.wg.Wait()
	})
}

// run re-chunks device blocks into FrameSize frames until the input stream
// ends. Blocks are quantized per arrival and, when the device opened at a
// fallback rate, resampled to the configured rate before framing.
func (p *Pipeline) run() {
	defer p.wg.Done()
	defer close(p.frames)

	frameBytes := p.cfg.FrameSize * p.cfg.Channels * 2
	pending := make([]byte, 0, 2*frameBytes)
	var emitted int // total samples emitted, for frame timestamps

	for block := range p.in.Blocks() {
		data := audio.EncodePCM16(block)
		if p.conv != nil {
			data = p.conv.Convert(audio.AudioFrame{
				Data:       data,
				SampleRate: p.deviceRate,
				Channels:   p.cfg.Channels,
			}).Data
		}
		pending = append(pending, data...)
		for len(pending) >= frameBytes {
			chunk := make([]byte, frameBytes)
			copy(chunk, pending[:frameBytes])
			frame := audio.AudioFrame{
				Data:       chunk,
				SampleRate: p.cfg.SampleRate,
				Channels:   p.cfg.Channels,
				Timestamp:  p.timestamp(emitted),
			}
			emitted += p.cfg.FrameSize * p.cfg.Channels
			pending = append(pending[:0], pending[frameBytes:]...)
			select {
			case p.frames <- frame:
			case <-p.done:
				return
			}
		}
	}

	// A trailing partial frame is dropped: the endpoint expects fixed-size
	// chunks and the remainder is under one frame of audio.
	if err := p.in.Err(); err != nil {
		p.mu.Lock()
		p.errVal = fmt.Errorf("capture: %w", err)
		p.mu.Unlock()
	}
}

func (p *Pipeline) timestamp(samples int) time.Duration {
	frames := samples / p.cfg.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.cfg.SampleRate)
}
