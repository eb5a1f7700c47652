package playback_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/paraguayconcierge/voicecore/internal/playback"
	"github.com/paraguayconcierge/voicecore/pkg/device"
	"github.com/paraguayconcierge/voicecore/pkg/device/fake"
)

func newOutput(t *testing.T, sampleRate int) *fake.Output {
	t.Helper()
	host := fake.NewHost()
	if _, err := host.OpenOutput(device.OutputConfig{SampleRate: sampleRate, Channels: 1}); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	return host.Output()
}

func TestEnqueue_FirstBufferStartsNow(t *testing.T) {
	t.Parallel()
	out := newOutput(t, 24000)
	out.Advance(130 * time.Millisecond)

	sched := playback.New(out, 24000, 1)
	start, err := sched.Enqueue(make([]float32, 2400))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if start != 130*time.Millisecond {
		t.Errorf("start = %v, want 130ms (the clock position)", start)
	}
}

func TestEnqueue_BackToBack(t *testing.T) {
	t.Parallel()
	out := newOutput(t, 24000)
	sched := playback.New(out, 24000, 1)

	// 2400 samples at 24 kHz = 100 ms each. Second arrives long before the
	// first finishes; it must still start exactly where the first ends.
	if _, err := sched.Enqueue(make([]float32, 2400)); err != nil {
		t.Fatal(err)
	}
	out.Advance(5 * time.Millisecond)
	start2, err := sched.Enqueue(make([]float32, 2400))
	if err != nil {
		t.Fatal(err)
	}
	if start2 != 100*time.Millisecond {
		t.Errorf("second start = %v, want 100ms (end of first)", start2)
	}
}

func TestEnqueue_LateArrivalStartsAtNow(t *testing.T) {
	t.Parallel()
	out := newOutput(t, 24000)
	sched := playback.New(out, 24000, 1)

	if _, err := sched.Enqueue(make([]float32, 2400)); err != nil { // ends at 100ms
		t.Fatal(err)
	}
	out.Advance(250 * time.Millisecond) // past the end of the first
	start2, err := sched.Enqueue(make([]float32, 2400))
	if err != nil {
		t.Fatal(err)
	}
	if start2 != 250*time.Millisecond {
		t.Errorf("second start = %v, want 250ms (now, not the stale cursor)", start2)
	}
}

// Gapless property: random frame lengths, random arrival delays that stay
// within the accumulating backlog; scheduled starts must be contiguous and
// the total span must equal the sum of durations.
func TestEnqueue_GaplessUnderJitter(t *testing.T) {
	t.Parallel()
	const rate = 24000
	out := newOutput(t, rate)
	sched := playback.New(out, rate, 1)
	rng := rand.New(rand.NewSource(7))

	var total time.Duration
	for i := 0; i < 50; i++ {
		frames := 240 + rng.Intn(4800) // 10..210 ms
		dur := time.Duration(frames) * time.Second / rate
		total += dur

		if _, err := sched.Enqueue(make([]float32, frames)); err != nil {
			t.Fatal(err)
		}
		// Arrival jitter strictly below each frame's duration keeps every
		// later arrival ahead of the cursor.
		out.Advance(time.Duration(rng.Int63n(int64(dur))))
	}

	units := out.Scheduled()
	if len(units) != 50 {
		t.Fatalf("scheduled %d units, want 50", len(units))
	}
	for i := 1; i < len(units); i++ {
		if units[i].Start != units[i-1].End() {
			t.Fatalf("unit %d starts at %v, previous ends at %v (gap or overlap)",
				i, units[i].Start, units[i-1].End())
		}
	}
	if span := units[len(units)-1].End() - units[0].Start; span != total {
		t.Errorf("total span = %v, want %v", span, total)
	}
}

// Interruption clears the future, not the past: after enqueue(a), enqueue(b),
// interrupt, enqueue(c), unit c starts at the interruption-time clock and is
// independent of b's cancelled end time.
func TestInterrupt_ClearsFutureNotPast(t *testing.T) {
	t.Parallel()
	out := newOutput(t, 24000)
	sched := playback.New(out, 24000, 1)

	if _, err := sched.Enqueue(make([]float32, 2400)); err != nil { // a: 0..100ms
		t.Fatal(err)
	}
	if _, err := sched.Enqueue(make([]float32, 2400)); err != nil { // b: 100..200ms
		t.Fatal(err)
	}

	out.Advance(30 * time.Millisecond)
	sched.Interrupt()
	if got := out.StopCalls(); got != 1 {
		t.Fatalf("StopAll calls = %d, want 1", got)
	}
	if got := sched.InFlight(); got != 0 {
		t.Fatalf("in-flight after interrupt = %d, want 0", got)
	}

	startC, err := sched.Enqueue(make([]float32, 2400))
	if err != nil {
		t.Fatal(err)
	}
	if startC != 30*time.Millisecond {
		t.Errorf("c starts at %v, want 30ms (now), not 200ms (b's cancelled end)", startC)
	}
}

// Three 4096-sample frames at 16 kHz (256 ms each) echoed back with 50, 10
// and 200 ms of arrival delay. The schedule must be three contiguous units
// spanning exactly 768 ms regardless of the jitter.
func TestEnqueue_EchoScenario(t *testing.T) {
	t.Parallel()
	const rate = 16000
	out := newOutput(t, rate)
	sched := playback.New(out, rate, 1)

	for _, delay := range []time.Duration{
		50 * time.Millisecond,
		10 * time.Millisecond,
		200 * time.Millisecond,
	} {
		out.Advance(delay)
		if _, err := sched.Enqueue(make([]float32, 4096)); err != nil {
			t.Fatal(err)
		}
	}

	units := out.Scheduled()
	if len(units) != 3 {
		t.Fatalf("scheduled %d units, want 3", len(units))
	}
	if units[0].Start != 50*time.Millisecond {
		t.Errorf("unit 1 starts at %v, want 50ms", units[0].Start)
	}
	for i := 1; i < 3; i++ {
		if units[i].Start != units[i-1].End() {
			t.Errorf("unit %d starts at %v, want %v (end of unit %d)",
				i+1, units[i].Start, units[i-1].End(), i)
		}
	}
	if span := units[2].End() - units[0].Start; span != 768*time.Millisecond {
		t.Errorf("total span = %v, want 768ms", span)
	}
}

func TestInFlight_PrunedLazily(t *testing.T) {
	t.Parallel()
	out := newOutput(t, 24000)
	sched := playback.New(out, 24000, 1)

	if _, err := sched.Enqueue(make([]float32, 2400)); err != nil { // ends at 100ms
		t.Fatal(err)
	}
	if got := sched.InFlight(); got != 1 {
		t.Fatalf("in-flight = %d, want 1", got)
	}

	// Past the end of the first unit, the next enqueue prunes it.
	out.Advance(150 * time.Millisecond)
	if _, err := sched.Enqueue(make([]float32, 2400)); err != nil {
		t.Fatal(err)
	}
	if got := sched.InFlight(); got != 1 {
		t.Errorf("in-flight = %d, want 1 (finished unit pruned)", got)
	}
}
