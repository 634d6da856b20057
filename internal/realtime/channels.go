// Package realtime delivers committed events to live connections. It owns
// the channel registry, presence, ordered fan-out and the optional Redis
// relay between nodes.
package realtime

import (
	"errors"
	"strings"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
)

var (
	// ErrForbidden is returned when a user tries to join another user's
	// private channel.
	ErrForbidden = errors.New("not allowed to join this channel")
	// ErrUnknownChannel is returned for channel names outside the protocol.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrConnClosed is returned when writing to a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrQueueFull is a delivery failure: the batch was dropped.
	ErrQueueFull = errors.New("delivery queue full")
	// ErrDispatcherClosed is returned by Publish after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Authorize reports whether userID may join channel. Private channels belong
// to the user named in their suffix; the presence channel is open to every
// authenticated user.
func Authorize(userID, channel string) error {
	if channel == events.PresenceChannel {
		return nil
	}
	for _, prefix := range []string{events.ChatPrefix, events.ContactsPrefix} {
		owner, ok := strings.CutPrefix(channel, prefix)
		if !ok {
			continue
		}
		if owner == "" {
			return ErrUnknownChannel
		}
		if userID == "" || owner != userID {
			return ErrForbidden
		}
		return nil
	}
	return ErrUnknownChannel
}
