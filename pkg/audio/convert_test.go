package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/paraguayconcierge/voicecore/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_SameRatePassthrough(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3, 4})
	out := audio.ResampleMono16(in, 24000, 24000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 24 kHz → 48 kHz doubles the sample count.
	in := samplesToBytes(make([]int16, 240))
	out := audio.ResampleMono16(in, 24000, 48000)
	if got, want := len(out)/2, 480; got != want {
		t.Errorf("output samples = %d, want %d", got, want)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	in := samplesToBytes(make([]int16, 480))
	out := audio.ResampleMono16(in, 48000, 24000)
	if got, want := len(out)/2, 240; got != want {
		t.Errorf("output samples = %d, want %d", got, want)
	}
}

func TestResampleMono16_PreservesConstantSignal(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = 1000
	}
	out := bytesToSamples(audio.ResampleMono16(samplesToBytes(samples), 16000, 24000))
	for i, s := range out {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000 (linear interpolation of a constant)", i, s)
		}
	}
}

func TestFormatConverter_FastPath(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	frame := audio.AudioFrame{
		Data:       samplesToBytes([]int16{5, 6, 7}),
		SampleRate: 24000,
		Channels:   1,
	}
	out := conv.Convert(frame)
	if &out.Data[0] != &frame.Data[0] {
		t.Error("matching format should return the frame unchanged")
	}
}

func TestFormatConverter_DownmixAndResample(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	frame := audio.AudioFrame{
		Data:       samplesToBytes([]int16{100, 100, 200, 200, 300, 300, 400, 400}),
		SampleRate: 24000,
		Channels:   2,
		Timestamp:  50 * time.Millisecond,
	}
	out := conv.Convert(frame)
	if out.Channels != 1 {
		t.Errorf("channels = %d, want 1", out.Channels)
	}
	if out.SampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", out.SampleRate)
	}
	// 4 stereo groups at 24 kHz → 8 mono samples at 48 kHz.
	if got, want := len(out.Data)/2, 8; got != want {
		t.Errorf("output samples = %d, want %d", got, want)
	}
	if out.Timestamp != frame.Timestamp {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, frame.Timestamp)
	}
}

func TestFormatConverter_DropsMisalignedFrame(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	out := conv.Convert(audio.AudioFrame{
		Data:       []byte{1, 2, 3}, // odd byte count
		SampleRate: 24000,
		Channels:   1,
	})
	if len(out.Data) != 0 {
		t.Errorf("misaligned frame should be dropped, got %d bytes", len(out.Data))
	}
}
