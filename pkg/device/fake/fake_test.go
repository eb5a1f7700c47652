package fake_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/paraguayconcierge/voicecore/pkg/device"
	"github.com/paraguayconcierge/voicecore/pkg/device/fake"
)

func openInput(t *testing.T, h *fake.Host) *fake.Input {
	t.Helper()
	if _, err := h.OpenInput(device.InputConfig{SampleRate: 16000, Channels: 1, BlockSize: 1024}); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	return h.Input()
}

func TestInput_PushRacesClose(t *testing.T) {
	t.Parallel()
	host := fake.NewHost()
	in := openInput(t, host)

	// Fill the buffered channel so the next Push blocks in the send.
	for i := 0; i < 16; i++ {
		in.Push(make([]float32, 4))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Must not panic with a send on a closed channel, and must return
		// once Close ends the stream.
		in.Push(make([]float32, 4))
	}()

	in.Close()
	wg.Wait()

	// Later pushes are dropped silently.
	in.Push(make([]float32, 4))
}

func TestInput_PushRacesDisconnect(t *testing.T) {
	t.Parallel()
	host := fake.NewHost()
	in := openInput(t, host)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				in.Push(make([]float32, 4))
			}
		}()
	}
	go func() {
		// Nobody consumes, so pushers end up blocked mid-send.
		in.Disconnect(nil)
	}()
	wg.Wait()

	if !errors.Is(in.Err(), device.ErrDisconnected) {
		t.Errorf("Err = %v, want ErrDisconnected", in.Err())
	}
}

func TestHost_SupportedRatesRestrictOpens(t *testing.T) {
	t.Parallel()
	host := fake.NewHost()
	host.SupportedRates = []int{48000}

	if _, err := host.OpenInput(device.InputConfig{SampleRate: 16000}); !errors.Is(err, device.ErrUnavailable) {
		t.Errorf("OpenInput(16000) = %v, want ErrUnavailable", err)
	}
	if _, err := host.OpenOutput(device.OutputConfig{SampleRate: 24000}); !errors.Is(err, device.ErrUnavailable) {
		t.Errorf("OpenOutput(24000) = %v, want ErrUnavailable", err)
	}
	if _, err := host.OpenInput(device.InputConfig{SampleRate: 48000}); err != nil {
		t.Errorf("OpenInput(48000) = %v, want success", err)
	}
	if _, err := host.OpenOutput(device.OutputConfig{SampleRate: 48000}); err != nil {
		t.Errorf("OpenOutput(48000) = %v, want success", err)
	}
}
