package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
	"github.com/rs/zerolog"
)

// DefaultGapTimeout is how long a missing seq is waited for.
const DefaultGapTimeout = 2 * time.Second

// Sequencer releases the batches of each key in seq order.
//
// A key the sequencer does not know yet settles first: its batches are held
// for a settle window (a tenth of the gap timeout) and the lowest seq seen in
// that window becomes the baseline. After that, a batch ahead of the next
// expected seq is held until the gap fills or the gap timeout passes, after
// which the sequencer skips to the lowest held seq. A batch behind the
// expected seq arrived after its gap was skipped and is delivered at once.
// Batches with seq 0 bypass ordering.
//
// Delivery to next happens under the sequencer lock, so next must not block.
type Sequencer struct {
	next Sink
	gap    time.Duration
	settle time.Duration
	idle   time.Duration
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	next    int64
	pending map[int64]events.Batch
	waiting time.Time // when the current gap opened
	settled time.Time // zero until the baseline is chosen
	touched time.Time
}

// NewSequencer returns a Sequencer in front of next.
func NewSequencer(next Sink, gap time.Duration, log zerolog.Logger) *Sequencer {
	if gap <= 0 {
		gap = DefaultGapTimeout
	}
	settle := gap / 10
	if settle < time.Millisecond {
		settle = time.Millisecond
	}
	idle := 30 * gap
	if idle < time.Minute {
		idle = time.Minute
	}
	return &Sequencer{
		next:    next,
		gap:     gap,
		settle:  settle,
		idle:    idle,
		log:     log,
		now:     time.Now,
		streams: make(map[string]*stream),
	}
}

var _ Sink = (*Sequencer)(nil)

// Deliver implements Sink.
func (s *Sequencer) Deliver(ctx context.Context, b events.Batch) error {
	if b.Seq == 0 || b.Key == "" {
		return s.next.Deliver(ctx, b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st, ok := s.streams[b.Key]
	if !ok {
		st = &stream{pending: make(map[int64]events.Batch), settled: now.Add(s.settle)}
		s.streams[b.Key] = st
	}
	st.touched = now

	if st.next == 0 {
		st.pending[b.Seq] = b
		return nil
	}

	switch {
	case b.Seq < st.next:
		s.log.Debug().Str("key", b.Key).Int64("seq", b.Seq).Int64("expected", st.next).Msg("late batch")
		s.emit(ctx, b)
	case b.Seq == st.next:
		s.emit(ctx, b)
		st.next++
		s.drain(ctx, b.Key, st)
	default:
		st.pending[b.Seq] = b
		if st.waiting.IsZero() {
			st.waiting = now
		}
	}
	return nil
}

// Run settles new keys, expires gaps and forgets idle keys until ctx is
// done.
func (s *Sequencer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Expire(ctx)
		}
	}
}

// Expire releases keys whose settle window has passed, skips every gap
// older than the timeout and drops idle keys.
func (s *Sequencer) Expire(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, st := range s.streams {
		if st.next == 0 {
			if now.Before(st.settled) {
				continue
			}
			st.next = lowestSeq(st.pending)
			s.drain(ctx, key, st)
			continue
		}
		if len(st.pending) == 0 {
			if now.Sub(st.touched) >= s.idle {
				delete(s.streams, key)
			}
			continue
		}
		if now.Sub(st.waiting) < s.gap {
			continue
		}
		lowest := lowestSeq(st.pending)
		s.log.Warn().Str("key", key).Int64("from", st.next).Int64("to", lowest).Msg("skipping missing batches")
		st.next = lowest
		s.drain(ctx, key, st)
	}
}

// Pending returns how many batches are held for key.
func (s *Sequencer) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[key]; ok {
		return len(st.pending)
	}
	return 0
}

// drain releases consecutive held batches. Called with s.mu held.
func (s *Sequencer) drain(ctx context.Context, key string, st *stream) {
	for {
		b, ok := st.pending[st.next]
		if !ok {
			break
		}
		delete(st.pending, st.next)
		s.emit(ctx, b)
		st.next++
	}
	if len(st.pending) == 0 {
		st.waiting = time.Time{}
	} else {
		st.waiting = s.now()
	}
}

func lowestSeq(pending map[int64]events.Batch) int64 {
	lowest := int64(0)
	for seq := range pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	return lowest
}

func (s *Sequencer) emit(ctx context.Context, b events.Batch) {
	if err := s.next.Deliver(ctx, b); err != nil {
		s.log.Warn().Err(err).Str("key", b.Key).Int64("seq", b.Seq).Msg("delivery failed")
	}
}
