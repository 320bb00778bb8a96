package audio

import (
	"math"
	"testing"
)

func TestRingBuffer_Push(t *testing.T) {
	rb := NewRingBuffer(3)

	rb.Push(1)
	rb.Push(2)
	if rb.Len() != 2 {
		t.Errorf("Expected length 2, got %d", rb.Len())
	}
	if rb.IsFull() {
		t.Error("Expected buffer not to be full")
	}

	rb.Push(3)
	if !rb.IsFull() {
		t.Error("Expected buffer to be full after 3 pushes")
	}
}

func TestRingBuffer_EvictsOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		rb.Push(v)
	}

	if rb.Len() != 3 {
		t.Errorf("Expected length 3, got %d", rb.Len())
	}

	got := rb.Values()
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected values %v, got %v", want, got)
			break
		}
	}
	if rb.Mean() != 4 {
		t.Errorf("Expected mean 4, got %f", rb.Mean())
	}
}

func TestRingBuffer_StdDev(t *testing.T) {
	rb := NewRingBuffer(8)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		rb.Push(v)
	}

	if math.Abs(rb.StdDev()-2.0) > 1e-9 {
		t.Errorf("Expected stddev 2.0, got %f", rb.StdDev())
	}
}

func TestRingBuffer_Empty(t *testing.T) {
	rb := NewRingBuffer(4)
	if rb.Mean() != 0 || rb.StdDev() != 0 {
		t.Errorf("Expected zero mean and stddev on empty buffer, got %f and %f", rb.Mean(), rb.StdDev())
	}

	rb.Push(10)
	rb.Clear()
	if rb.Len() != 0 {
		t.Errorf("Expected length 0 after clear, got %d", rb.Len())
	}
}
