package audio

import (
	"context"
	"time"
)

// DefaultQueueCapacity is the hand-off queue size between capture and streaming.
const DefaultQueueCapacity = 50

// ChunkQueue is the bounded hand-off between the capture worker (single producer)
// and the streaming worker (single consumer). Pushes never block.
type ChunkQueue struct {
	ch chan Chunk
}

// NewChunkQueue creates a queue; capacity <= 0 uses DefaultQueueCapacity.
func NewChunkQueue(capacity int) *ChunkQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ChunkQueue{ch: make(chan Chunk, capacity)}
}

// TryPush enqueues c and reports false without blocking when the queue is full.
func (q *ChunkQueue) TryPush(c Chunk) bool {
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

// Pop waits up to timeout for the next chunk. It returns false on timeout or
// when ctx is done. A non-positive timeout only checks for a ready chunk.
func (q *ChunkQueue) Pop(ctx context.Context, timeout time.Duration) (Chunk, bool) {
	if timeout <= 0 {
		select {
		case c := <-q.ch:
			return c, true
		default:
			return Chunk{}, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-q.ch:
		return c, true
	case <-timer.C:
		return Chunk{}, false
	case <-ctx.Done():
		return Chunk{}, false
	}
}

// Drain removes and returns every chunk currently queued.
func (q *ChunkQueue) Drain() []Chunk {
	var out []Chunk
	for {
		select {
		case c := <-q.ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

// Len returns the number of queued chunks.
func (q *ChunkQueue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *ChunkQueue) Cap() int {
	return cap(q.ch)
}
