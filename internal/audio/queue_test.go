package audio

import (
	"context"
	"testing"
	"time"
)

func TestChunkQueue_TryPushFull(t *testing.T) {
	q := NewChunkQueue(2)

	if !q.TryPush(Chunk{Sequence: 1}) || !q.TryPush(Chunk{Sequence: 2}) {
		t.Fatal("Expected first two pushes to succeed")
	}

	start := time.Now()
	if q.TryPush(Chunk{Sequence: 3}) {
		t.Error("Expected push to fail on full queue")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Expected non-blocking push, took %v", elapsed)
	}
	if q.Len() != 2 {
		t.Errorf("Expected length 2, got %d", q.Len())
	}
}

func TestChunkQueue_PopOrder(t *testing.T) {
	q := NewChunkQueue(4)
	for i := uint64(1); i <= 3; i++ {
		q.TryPush(Chunk{Sequence: i})
	}

	for i := uint64(1); i <= 3; i++ {
		c, ok := q.Pop(context.Background(), 10*time.Millisecond)
		if !ok {
			t.Fatalf("Expected chunk %d", i)
		}
		if c.Sequence != i {
			t.Errorf("Expected sequence %d, got %d", i, c.Sequence)
		}
	}
}

func TestChunkQueue_PopTimeout(t *testing.T) {
	q := NewChunkQueue(1)

	start := time.Now()
	if _, ok := q.Pop(context.Background(), 20*time.Millisecond); ok {
		t.Error("Expected pop to time out on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Expected pop to wait for timeout, returned after %v", elapsed)
	}
}

func TestChunkQueue_PopCancelled(t *testing.T) {
	q := NewChunkQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := q.Pop(ctx, time.Second); ok {
		t.Error("Expected pop to return false on cancelled context")
	}
}

func TestChunkQueue_DefaultCapacity(t *testing.T) {
	q := NewChunkQueue(0)
	if q.Cap() != DefaultQueueCapacity {
		t.Errorf("Expected capacity %d, got %d", DefaultQueueCapacity, q.Cap())
	}
}
