// Package channeltest provides in-memory channel transports for tests.
package channeltest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/liliang-cn/crawldesk/internal/channel"
	"github.com/liliang-cn/crawldesk/internal/wire"
)

// Dialer hands out in-memory connections
type Dialer struct {
	mu     sync.Mutex
	err    error
	conns  []*Conn
	dialed chan *Conn
}

// NewDialer creates a dialer that succeeds until Fail is called
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 32)}
}

// Fail makes subsequent dials return err; nil restores success
func (d *Dialer) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Dial implements channel.Dialer
func (d *Dialer) Dial(ctx context.Context) (channel.Conn, error) {
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := NewConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// Dials returns how many connections were opened
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Next waits for the next dialed connection
func (d *Dialer) Next(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-d.dialed:
		return c, nil
	case <-time.After(timeout):
		return nil, errors.New("no connection dialed")
	}
}

// Conn is an in-memory connection. Push delivers frames to the reader,
// Written returns what the client wrote.
type Conn struct {
	in     chan wire.Frame
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	written  []wire.Frame
	writeErr error
}

// NewConn creates an open connection
func NewConn() *Conn {
	return &Conn{
		in:     make(chan wire.Frame, 64),
		closed: make(chan struct{}),
	}
}

// Push queues an inbound frame
func (c *Conn) Push(f wire.Frame) {
	select {
	case c.in <- f:
	case <-c.closed:
	}
}

// PushJSON queues an inbound frame with a raw JSON payload
func (c *Conn) PushJSON(frameType, data string) {
	c.Push(wire.Frame{Type: frameType, Data: []byte(data)})
}

// Drop simulates a transport failure
func (c *Conn) Drop() { c.Close() }

// FailWrites makes subsequent writes return err
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Written returns a copy of the frames written so far
func (c *Conn) Written() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, len(c.written))
	copy(out, c.written)
	return out
}

// Closed reports whether the connection was closed
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) Write(ctx context.Context, f wire.Frame) error {
	if c.Closed() {
		return io.ErrClosedPipe
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, f)
	return nil
}

func (c *Conn) Read(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return wire.Frame{}, io.EOF
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
