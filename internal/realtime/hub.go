package realtime

import (
	"context"
	"sync"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/events"
	"github.com/rs/zerolog"
)

// Sender is one live connection as seen by the hub. Send must not block: a
// connection that cannot keep up returns an error and closes itself.
type Sender interface {
	ID() string
	User() data.UserRef
	Send(f events.Frame) error
}

// Hub maps channels to the live connections subscribed to them and drives
// presence from connection lifecycle.
//
// Lock order: Tracker.mu before Hub.mu. The hub never calls into the tracker
// while holding its own lock.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]Sender
	channels map[string]map[string]Sender // channel -> connection id -> sender
	joined   map[string]map[string]struct{}
	presence *Tracker
	log      zerolog.Logger
}

// NewHub creates an empty hub with its own presence tracker.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		conns:    make(map[string]Sender),
		channels: make(map[string]map[string]Sender),
		joined:   make(map[string]map[string]struct{}),
		log:      log,
	}
	h.presence = NewTracker(h, log)
	return h
}

var _ Sink = (*Hub)(nil)

// Presence returns the hub's presence tracker.
func (h *Hub) Presence() *Tracker { return h.presence }

// Register adds a connection and marks its user online.
func (h *Hub) Register(s Sender) {
	h.mu.Lock()
	h.conns[s.ID()] = s
	h.joined[s.ID()] = make(map[string]struct{})
	h.mu.Unlock()

	u := s.User()
	h.presence.Connect(Member{ID: u.ID, Name: u.Name}, s.ID())
}

// Unregister removes a connection and all of its subscriptions. Calling it
// more than once is safe.
func (h *Hub) Unregister(s Sender) {
	h.mu.Lock()
	h.detach(s.ID())
	h.mu.Unlock()

	h.presence.Disconnect(s.User().ID, s.ID())
}

// Subscribe authorizes and joins s to channel and acknowledges with
// subscription.succeeded. Joining the presence channel also delivers
// presence.here with the current online set, atomically with the join.
func (h *Hub) Subscribe(s Sender, channel string) error {
	if err := Authorize(s.User().ID, channel); err != nil {
		return err
	}
	if channel != events.PresenceChannel {
		if err := h.join(s, channel); err != nil {
			return err
		}
		return h.ack(s, channel)
	}

	var err error
	h.presence.WithSnapshot(func(online []Member) {
		if err = h.join(s, channel); err != nil {
			return
		}
		if err = h.ack(s, channel); err != nil {
			return
		}
		var here events.Frame
		if here, err = events.NewFrame(channel, events.PresenceHere, online); err != nil {
			return
		}
		err = s.Send(here)
	})
	return err
}

// Unsubscribe removes s from channel.
func (h *Hub) Unsubscribe(s Sender, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(s.ID(), channel)
	if j, ok := h.joined[s.ID()]; ok {
		delete(j, channel)
	}
}

// Subscribers returns how many connections are joined to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Broadcast sends f to every subscriber of channel. Connections that fail
// to accept the frame are dropped from the hub; their own serve loop reports
// the disconnect to presence.
func (h *Hub) Broadcast(channel string, f events.Frame) {
	h.mu.RLock()
	subs := make([]Sender, 0, len(h.channels[channel]))
	for _, s := range h.channels[channel] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var failed []string
	for _, s := range subs {
		if err := s.Send(f); err != nil {
			h.log.Debug().Err(err).Str("conn_id", s.ID()).Str("channel", channel).Msg("dropping connection")
			failed = append(failed, s.ID())
		}
	}
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range failed {
		h.detach(id)
	}
	h.mu.Unlock()
}

// Deliver pushes every event of b to its channel. It implements Sink.
func (h *Hub) Deliver(ctx context.Context, b events.Batch) error {
	for _, ev := range b.Events {
		h.Broadcast(ev.Channel, ev)
	}
	return nil
}

func (h *Hub) join(s Sender, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	j, ok := h.joined[s.ID()]
	if !ok {
		return ErrConnClosed
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]Sender)
		h.channels[channel] = subs
	}
	subs[s.ID()] = s
	j[channel] = struct{}{}
	return nil
}

func (h *Hub) ack(s Sender, channel string) error {
	f, err := events.NewFrame(channel, events.SubscriptionSucceeded, map[string]string{"channel": channel})
	if err != nil {
		return err
	}
	return s.Send(f)
}

// detach must be called with h.mu held.
func (h *Hub) detach(id string) {
	for ch := range h.joined[id] {
		h.leave(id, ch)
	}
	delete(h.joined, id)
	delete(h.conns, id)
}

// leave must be called with h.mu held.
func (h *Hub) leave(id, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}
