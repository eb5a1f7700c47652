// Package mock provides test doubles for the transport package interfaces.
//
// Use Dialer to verify Dial calls and feed controlled connections.
// Use Conn to drive the inbound event stream and inspect the chunks the
// session sent upstream.
//
// Example:
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Conn: conn}
//	// ... start the session with d, then:
//	conn.EmitAudio(pcm)
//	conn.EmitInterrupted()
//	conn.CloseWithErr(io.ErrUnexpectedEOF)
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/paraguayconcierge/voicecore/pkg/transport"
)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Cfg is the Config passed to Dial.
	Cfg transport.Config
}

// Dialer is a mock implementation of transport.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Conn is the connection returned by Dial. If nil, Dial returns a new
	// default Conn.
	Conn transport.Conn

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Conn, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg transport.Config) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Conn != nil {
		return d.Conn, nil
	}
	return NewConn(), nil
}

// LastConfig returns the Config of the most recent Dial call, or the zero
// value if Dial was never called.
func (d *Dialer) LastConfig() transport.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.DialCalls) == 0 {
		return transport.Config{}
	}
	return d.DialCalls[len(d.DialCalls)-1].Cfg
}

// Ensure Dialer implements transport.Dialer at compile time.
var _ transport.Dialer = (*Dialer)(nil)

// Conn is a mock implementation of transport.Conn. Drive the inbound side
// with EmitAudio / EmitInterrupted / CloseWithErr; inspect the outbound side
// with SentChunks.
type Conn struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned from every Send call.
	SendErr error

	sent    [][]byte
	events  chan transport.Event
	errVal  error
	closed  bool
	onceCls sync.Once
}

// NewConn creates a Conn with a buffered event stream.
func NewConn() *Conn {
	return &Conn{events: make(chan transport.Event, 64)}
}

// Ensure Conn implements transport.Conn at compile time.
var _ transport.Conn = (*Conn)(nil)

// Send records a copy of chunk and returns SendErr.
func (c *Conn) Send(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("mock: conn closed")
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.sent = append(c.sent, cp)
	return nil
}

// SentChunks returns copies of all chunks passed to Send, in order.
func (c *Conn) SentChunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Events returns the inbound event stream.
func (c *Conn) Events() <-chan transport.Event { return c.events }

// Err returns the error set by CloseWithErr, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close closes the event stream cleanly. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.onceCls.Do(func() { close(c.events) })
	return nil
}

// EmitAudio delivers one inbound audio chunk to the session.
func (c *Conn) EmitAudio(pcm []byte) {
	c.events <- transport.Event{Type: transport.EventAudio, Audio: pcm}
}

// EmitInterrupted delivers an interruption event to the session.
func (c *Conn) EmitInterrupted() {
	c.events <- transport.Event{Type: transport.EventInterrupted}
}

// CloseWithErr records err as the terminal error and closes the event
// stream, simulating a mid-session transport failure.
func (c *Conn) CloseWithErr(err error) {
	c.mu.Lock()
	c.errVal = err
	c.closed = true
	c.mu.Unlock()
	c.onceCls.Do(func() { close(c.events) })
}
