package streaming

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of streaming throughput and health.
type Stats struct {
	BytesSent        uint64    `json:"bytes_sent"`
	ChunksSent       uint64    `json:"chunks_sent"`
	BatchesSent      uint64    `json:"batches_sent"`
	ChunksReceived   uint64    `json:"chunks_received"`
	ChunksDiscarded  uint64    `json:"chunks_discarded"`
	Errors           uint64    `json:"errors"`
	SendFailures     uint64    `json:"send_failures"`
	Retries          uint64    `json:"retries"`
	BytesPerSecond   float64   `json:"bytes_per_second"`
	BatchesPerSecond float64   `json:"batches_per_second"`
	BufferDepth      int       `json:"buffer_depth"`
	QueueDepth       int       `json:"queue_depth"`
	ErrorRate        float64   `json:"error_rate"`
	Since            time.Time `json:"since"`
}

type counters struct {
	bytesSent    atomic.Uint64
	chunksSent   atomic.Uint64
	batchesSent  atomic.Uint64
	received     atomic.Uint64
	discarded    atomic.Uint64
	errors       atomic.Uint64
	sendFailures atomic.Uint64
	retries      atomic.Uint64
	depth        atomic.Int64

	mu    sync.Mutex
	since time.Time
}

func (c *counters) reset() {
	c.bytesSent.Store(0)
	c.chunksSent.Store(0)
	c.batchesSent.Store(0)
	c.received.Store(0)
	c.discarded.Store(0)
	c.errors.Store(0)
	c.sendFailures.Store(0)
	c.retries.Store(0)

	c.mu.Lock()
	c.since = time.Now()
	c.mu.Unlock()
}

// Stats computes a snapshot with rates over the time since the last reset.
func (b *Batcher) Stats() Stats {
	b.stats.mu.Lock()
	since := b.stats.since
	b.stats.mu.Unlock()

	s := Stats{
		BytesSent:       b.stats.bytesSent.Load(),
		ChunksSent:      b.stats.chunksSent.Load(),
		BatchesSent:     b.stats.batchesSent.Load(),
		ChunksReceived:  b.stats.received.Load(),
		ChunksDiscarded: b.stats.discarded.Load(),
		Errors:          b.stats.errors.Load(),
		SendFailures:    b.stats.sendFailures.Load(),
		Retries:         b.stats.retries.Load(),
		BufferDepth:     int(b.stats.depth.Load()),
		QueueDepth:      b.queue.Len(),
		Since:           since,
	}

	if elapsed := time.Since(since).Seconds(); elapsed > 0 {
		s.BytesPerSecond = float64(s.BytesSent) / elapsed
		s.BatchesPerSecond = float64(s.BatchesSent) / elapsed
	}
	if total := s.BatchesSent + s.Errors; total > 0 {
		s.ErrorRate = float64(s.Errors) / float64(total)
	}
	return s
}

// ResetStats zeroes the counters and restarts the rate window.
// The current buffer depth is left untouched.
func (b *Batcher) ResetStats() {
	b.stats.reset()
}
