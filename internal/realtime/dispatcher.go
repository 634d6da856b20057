package realtime

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
	"github.com/rs/zerolog"
)

// Sink receives event batches.
type Sink interface {
	Deliver(ctx context.Context, b events.Batch) error
}

// Dispatcher moves batches off the request path. Batches are sharded by key
// onto bounded queues, each drained by one worker, so batches of one
// conversation keep their enqueue order while unrelated conversations
// proceed in parallel. Publish never blocks.
type Dispatcher struct {
	sink   Sink
	queues []chan events.Batch
	log    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a Dispatcher with the given number of shards, each
// holding up to queueSize batches.
func NewDispatcher(sink Sink, shards, queueSize int, log zerolog.Logger) *Dispatcher {
	if shards <= 0 {
		shards = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{sink: sink, queues: make([]chan events.Batch, shards), log: log}
	for i := range d.queues {
		d.queues[i] = make(chan events.Batch, queueSize)
	}
	return d
}

// Start launches one worker per shard. Workers run until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, i, q)
	}
}

// Publish enqueues b. It fails with ErrQueueFull when the shard is saturated
// and the batch is dropped.
func (d *Dispatcher) Publish(ctx context.Context, b events.Batch) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queues[d.shard(b.Key)] <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting batches, drains what is queued and waits for the
// workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) work(ctx context.Context, shard int, q <-chan events.Batch) {
	defer d.wg.Done()
	for b := range q {
		if err := d.sink.Deliver(ctx, b); err != nil {
			d.log.Warn().Err(err).Int("shard", shard).Str("key", b.Key).Int64("seq", b.Seq).Msg("delivery failed")
		}
	}
}
