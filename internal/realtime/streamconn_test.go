package realtime

import (
	"errors"
	"testing"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/events"
)

func TestStreamConn(t *testing.T) {
	c := NewStreamConn(data.UserRef{ID: "u1"}, 2)
	if c.ID() == "" || c.User().ID != "u1" {
		t.Fatalf("bad identity: %q %+v", c.ID(), c.User())
	}
	if err := c.Send(events.Frame{Name: "a"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Send(events.Frame{Name: "b"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f := <-c.Frames(); f.Name != "a" {
		t.Fatalf("frames out of order: %s", f.Name)
	}

	_ = c.Send(events.Frame{Name: "c"})
	if err := c.Send(events.Frame{Name: "d"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("overflow should close the connection")
	}
	if err := c.Send(events.Frame{Name: "e"}); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	c.Close()
}
