// Package audio provides the PCM primitives shared by the capture and
// playback sides of a voice session: the float ↔ 16-bit quantisation codec,
// the base64 transport framing for chunk payloads, and format conversion for
// devices that cannot open the negotiated rate natively.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedChunk is returned when an inbound payload cannot be decoded:
// the base64 framing is invalid or the byte length is not a whole number of
// samples for the declared channel count. Check with [errors.Is].
var ErrMalformedChunk = errors.New("audio: malformed chunk")

// EncodePCM16 quantises float samples in [-1, 1] to 16-bit little-endian
// signed integers. Each sample is multiplied by 32768 and truncated; values
// at or beyond ±1.0 saturate to the int16 range instead of wrapping.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM back to float samples by
// dividing each sample by 32768. The byte length must be a whole number of
// channel-interleaved sample groups (a multiple of 2*channels); otherwise
// [ErrMalformedChunk] is returned.
func DecodePCM16(data []byte, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", ErrMalformedChunk, channels)
	}
	if len(data)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedChunk, len(data), 2*channels)
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// MarshalChunk applies the binary-to-text transport framing to a PCM16
// payload. The framing is lossless; only the quantisation step of
// [EncodePCM16] loses precision.
func MarshalChunk(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// UnmarshalChunk reverses [MarshalChunk]. Invalid framing is reported as
// [ErrMalformedChunk].
func UnmarshalChunk(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	return data, nil
}
