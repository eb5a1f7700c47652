// Package playback schedules decoded audio for gapless output.
//
// The scheduler keeps a cumulative cursor on the output stream's monotonic
// clock: each buffer starts where the previous one ends, or now, whichever
// is later. Arrival jitter therefore never produces gaps or overlap — the
// schedule is derived from the cursor, not from when chunks happen to
// arrive. Interrupt cuts everything in flight and resets the cursor so the
// next buffer starts immediately.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/paraguayconcierge/voicecore/pkg/device"
)

// unit is the bookkeeping record of one scheduled buffer.
type unit struct {
	start time.Duration
	end   time.Duration
}

// Scheduler sequences sample buffers on one output stream.
//
// Enqueue is expected to be called from a single goroutine (the session run
// loop); Interrupt may race with it and is safe to call concurrently.
type Scheduler struct {
	out        device.OutputStream
	sampleRate int
	channels   int

	mu       sync.Mutex
	next     time.Duration
	hasNext  bool
	inflight []unit
}

// New creates a scheduler writing to out, which must be open at the given
// format.
func New(out device.OutputStream, sampleRate, channels int) *Scheduler {
	return &Scheduler{out: out, sampleRate: sampleRate, channels: channels}
}

// Enqueue schedules samples to play immediately after everything already
// scheduled. It returns the start position assigned on the output clock.
func (s *Scheduler) Enqueue(samples []float32) (time.Duration, error) {
	if len(samples) == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.hasNext {
			return s.next, nil
		}
		return s.out.Now(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Now()
	s.prune(now)

	start := now
	if s.hasNext && s.next > now {
		start = s.next
	}
	if err := s.out.Play(samples, start); err != nil {
		return 0, fmt.Errorf("playback: %w", err)
	}

	frames := len(samples) / s.channels
	dur := time.Duration(frames) * time.Second / time.Duration(s.sampleRate)
	s.next = start + dur
	s.hasNext = true
	s.inflight = append(s.inflight, unit{start: start, end: s.next})
	return start, nil
}

// Interrupt stops every in-flight buffer and unsets the cursor, so the next
// Enqueue starts at the clock's current position rather than a stale future
// time.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.StopAll()
	s.inflight = nil
	s.hasNext = false
}

// InFlight returns the number of buffers not yet known to have finished.
// The output device gives no completion callback, so the set is pruned
// lazily on each Enqueue by scheduled end time; the count is a bookkeeping
// upper bound, not a realtime truth.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// prune drops units whose scheduled end has passed. Callers hold s.mu.
func (s *Scheduler) prune(now time.Duration) {
	live := s.inflight[:0]
	for _, u := range s.inflight {
		if u.end > now {
			live = append(live, u)
		}
	}
	s.inflight = live
}
