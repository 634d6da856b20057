package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
	"github.com/rs/zerolog"
)

// sink records delivered batches; block, when set, holds every delivery.
type sink struct {
	mu      sync.Mutex
	batches []events.Batch
	block   chan struct{}
	fail    error
}

func (s *sink) Deliver(ctx context.Context, b events.Batch) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return s.fail
}

func (s *sink) seqs(key string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, b := range s.batches {
		if b.Key == key {
			out = append(out, b.Seq)
		}
	}
	return out
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestDispatcher_DeliversPerKeyInOrder(t *testing.T) {
	out := &sink{}
	d := NewDispatcher(out, 4, 256, zerolog.Nop())
	d.Start(context.Background())

	keys := []string{"c1", "c2", "c3"}
	for seq := int64(1); seq <= 50; seq++ {
		for _, k := range keys {
			if err := d.Publish(context.Background(), events.Batch{Key: k, Seq: seq}); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}
	d.Close()

	for _, k := range keys {
		got := out.seqs(k)
		if len(got) != 50 {
			t.Fatalf("%s: expected 50 batches, got %d", k, len(got))
		}
		for i, seq := range got {
			if seq != int64(i+1) {
				t.Fatalf("%s: batch %d has seq %d", k, i, seq)
			}
		}
	}
}

func TestDispatcher_FullQueueFailsFast(t *testing.T) {
	out := &sink{block: make(chan struct{})}
	d := NewDispatcher(out, 1, 2, zerolog.Nop())
	d.Start(context.Background())

	// one batch is taken by the blocked worker, two fill the queue
	var full error
	for i := 0; i < 10 && full == nil; i++ {
		done := make(chan error, 1)
		go func(i int) { done <- d.Publish(context.Background(), events.Batch{Key: "k", Seq: int64(i + 1)}) }(i)
		select {
		case full = <-done:
		case <-time.After(time.Second):
			t.Fatal("Publish blocked")
		}
		if full == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !errors.Is(full, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", full)
	}

	close(out.block)
	d.Close()
	if err := d.Publish(context.Background(), events.Batch{Key: "k"}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcher_SinkErrorsDoNotStopWorkers(t *testing.T) {
	out := &sink{fail: errors.New("hub gone")}
	d := NewDispatcher(out, 2, 16, zerolog.Nop())
	d.Start(context.Background())
	for i := 0; i < 5; i++ {
		_ = d.Publish(context.Background(), events.Batch{Key: fmt.Sprintf("k%d", i)})
	}
	d.Close()
	if out.count() != 5 {
		t.Fatalf("expected every batch attempted, got %d", out.count())
	}
}
