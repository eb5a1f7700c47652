package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paraguayconcierge/voicecore/pkg/transport"
)

// Default retry parameters for [Dialer].
const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
)

// DialerOption configures a [Dialer].
type DialerOption func(*Dialer)

// WithMaxAttempts sets how many dial attempts are made before giving up.
func WithMaxAttempts(n int) DialerOption {
	return func(d *Dialer) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial and maximum backoff between attempts. The
// delay doubles per attempt up to max.
func WithBackoff(initial, max time.Duration) DialerOption {
	return func(d *Dialer) {
		if initial > 0 {
			d.backoff = initial
		}
		if max > 0 {
			d.maxBackoff = max
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) DialerOption {
	return func(d *Dialer) { d.breaker = b }
}

// Dialer wraps a [transport.Dialer] with retries and a circuit breaker.
// Dial stays synchronous: the caller either gets a live connection or the
// last failure, it just rides out transient refusals in between.
type Dialer struct {
	inner       transport.Dialer
	breaker     *Breaker
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer wraps inner with retry and breaker protection.
func NewDialer(inner transport.Dialer, opts ...DialerOption) *Dialer {
	d := &Dialer{
		inner:       inner,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
	for _, o := range opts {
		o(d)
	}
	if d.breaker == nil {
		d.breaker = NewBreaker(BreakerConfig{Name: "transport-dial"})
	}
	return d
}

// Dial attempts to connect, retrying with exponential backoff on failure.
// It returns immediately when the breaker is open or ctx is cancelled.
func (d *Dialer) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	delay := d.backoff
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		var conn transport.Conn
		err := d.breaker.Execute(func() error {
			var dialErr error
			conn, dialErr = d.inner.Dial(ctx, cfg)
			return dialErr
		})
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrBreakerOpen) {
			return nil, fmt.Errorf("resilience: dial rejected: %w", err)
		}
		lastErr = err

		if attempt < d.maxAttempts {
			slog.Warn("dial attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", d.maxAttempts,
				"backoff", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("resilience: dial cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > d.maxBackoff {
				delay = d.maxBackoff
			}
		}
	}

	return nil, fmt.Errorf("resilience: dial failed after %d attempts: %w", d.maxAttempts, lastErr)
}
