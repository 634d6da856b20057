package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/events"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4 << 10

	// DefaultConnBuffer is the outbound buffer of a connection in frames.
	DefaultConnBuffer = 128
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionTyping      = "typing"
)

// Command is a frame sent by the client.
type Command struct {
	Action     string `json:"action"`
	Channel    string `json:"channel,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// TypingFunc handles the typing action of a connected user.
type TypingFunc func(ctx context.Context, senderID, receiverID string) error

// Conn is a websocket connection of one authenticated user. Outbound frames
// go through a bounded buffer drained by a single writer goroutine; a client
// that lets the buffer fill is disconnected.
type Conn struct {
	id   string
	user data.UserRef
	ws   *websocket.Conn
	log  zerolog.Logger

	send     chan []byte
	closed   chan struct{}
	once     sync.Once
	closeMsg []byte
}

// NewConn wraps ws for user.
func NewConn(ws *websocket.Conn, user data.UserRef, buffer int, log zerolog.Logger) *Conn {
	if buffer <= 0 {
		buffer = DefaultConnBuffer
	}
	id := uuid.NewString()
	return &Conn{
		id:     id,
		user:   user,
		ws:     ws,
		log:    log.With().Str("conn_id", id).Str("user_id", user.ID).Logger(),
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

var _ Sender = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

func (c *Conn) User() data.UserRef { return c.user }

// Send enqueues f without blocking.
func (c *Conn) Send(f events.Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- raw:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrQueueFull
	}
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Close marks the connection closed without blocking. The writer goroutine
// sends the close frame and releases the socket. Safe to call more than once
// and from any goroutine.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.closed)
	})
}

func (c *Conn) teardown() {
	c.Close(websocket.CloseGoingAway, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
	_ = c.ws.Close()
}

// Serve registers the connection with hub and processes client commands
// until the client leaves, the connection fails or ctx ends. typing may be
// nil.
func (c *Conn) Serve(ctx context.Context, hub *Hub, typing TypingFunc) {
	hub.Register(c)
	defer hub.Unregister(c)
	defer c.Close(websocket.CloseNormalClosure, "")

	go c.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close(websocket.CloseGoingAway, "server shutting down")
		case <-c.closed:
		}
	}()

	c.log.Debug().Msg("connected")
	c.readLoop(ctx, hub, typing)
	c.log.Debug().Msg("disconnected")
}

func (c *Conn) readLoop(ctx context.Context, hub *Hub, typing TypingFunc) {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.log.Debug().Err(err).Msg("malformed command")
			continue
		}
		c.handle(ctx, hub, typing, cmd)
	}
}

func (c *Conn) handle(ctx context.Context, hub *Hub, typing TypingFunc, cmd Command) {
	switch cmd.Action {
	case ActionSubscribe:
		if err := hub.Subscribe(c, cmd.Channel); err != nil {
			c.log.Debug().Err(err).Str("channel", cmd.Channel).Msg("subscription refused")
			f, ferr := events.NewFrame(cmd.Channel, events.SubscriptionError, map[string]string{
				"channel": cmd.Channel,
				"error":   err.Error(),
			})
			if ferr == nil {
				_ = c.Send(f)
			}
		}
	case ActionUnsubscribe:
		hub.Unsubscribe(c, cmd.Channel)
	case ActionTyping:
		if typing == nil {
			return
		}
		if err := typing(ctx, c.user.ID, cmd.ReceiverID); err != nil {
			c.log.Debug().Err(err).Str("receiver_id", cmd.ReceiverID).Msg("typing rejected")
		}
	default:
		c.log.Debug().Str("action", cmd.Action).Msg("unknown action")
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.teardown()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
