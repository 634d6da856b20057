package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/events"
)

// StreamConn is a Sender for transports that pull frames, such as a gRPC
// server stream. The transport reads Frames until Done is closed.
type StreamConn struct {
	id   string
	user data.UserRef

	frames chan events.Frame
	closed chan struct{}
	once   sync.Once
}

// NewStreamConn returns a StreamConn for user buffering up to buffer frames.
func NewStreamConn(user data.UserRef, buffer int) *StreamConn {
	if buffer <= 0 {
		buffer = DefaultConnBuffer
	}
	return &StreamConn{
		id:     uuid.NewString(),
		user:   user,
		frames: make(chan events.Frame, buffer),
		closed: make(chan struct{}),
	}
}

var _ Sender = (*StreamConn)(nil)

func (c *StreamConn) ID() string { return c.id }

func (c *StreamConn) User() data.UserRef { return c.user }

// Send enqueues f. A full buffer closes the connection.
func (c *StreamConn) Send(f events.Frame) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.frames <- f:
		return nil
	default:
		c.Close()
		return ErrQueueFull
	}
}

// Frames yields queued frames in order.
func (c *StreamConn) Frames() <-chan events.Frame { return c.frames }

// Done is closed once the connection is closed.
func (c *StreamConn) Done() <-chan struct{} { return c.closed }

// Close is idempotent.
func (c *StreamConn) Close() {
	c.once.Do(func() { close(c.closed) })
}
