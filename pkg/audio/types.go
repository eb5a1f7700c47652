package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the playback duration of a PCM16 byte buffer of length n
// in this format. Returns 0 for an invalid format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// AudioFrame represents a single frame of audio data flowing through the
// session pipeline. Frames are the atomic unit of audio transport — captured
// from the input device, quantised by the PCM codec, sent over the transport,
// and scheduled for playback on the output device. A frame is owned by exactly
// one pipeline stage at a time and is never retained past one processing step.
type AudioFrame struct {
	// PCM audio data, 16-bit little-endian signed integer samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for synthesised output).
	SampleRate int

	// Channels: 1 for mono. The concierge endpoint negotiates mono in both
	// directions; stereo only appears when a device cannot open mono natively.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's samples.
func (f AudioFrame) Duration() time.Duration {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}.Duration(len(f.Data))
}
