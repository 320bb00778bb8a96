package audio

import "math"

// RingBuffer is a fixed-capacity window of float values; pushing past capacity
// evicts the oldest value. It is not safe for concurrent use.
type RingBuffer struct {
	values []float64
	size   int
	next   int
	count  int
}

// NewRingBuffer creates a ring buffer holding at most size values.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		values: make([]float64, size),
		size:   size,
	}
}

// Push appends v, evicting the oldest value when full.
func (rb *RingBuffer) Push(v float64) {
	rb.values[rb.next] = v
	rb.next = (rb.next + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Len returns the number of stored values.
func (rb *RingBuffer) Len() int {
	return rb.count
}

// Cap returns the window capacity.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// IsFull returns true once the window has wrapped.
func (rb *RingBuffer) IsFull() bool {
	return rb.count == rb.size
}

// Mean returns the average of stored values, or 0 when empty.
func (rb *RingBuffer) Mean() float64 {
	if rb.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < rb.count; i++ {
		sum += rb.values[i]
	}
	return sum / float64(rb.count)
}

// StdDev returns the population standard deviation of stored values.
func (rb *RingBuffer) StdDev() float64 {
	if rb.count < 2 {
		return 0
	}
	mean := rb.Mean()
	sum := 0.0
	for i := 0; i < rb.count; i++ {
		d := rb.values[i] - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(rb.count))
}

// Values returns stored values oldest first.
func (rb *RingBuffer) Values() []float64 {
	out := make([]float64, 0, rb.count)
	start := (rb.next - rb.count + rb.size) % rb.size
	for i := 0; i < rb.count; i++ {
		out = append(out, rb.values[(start+i)%rb.size])
	}
	return out
}

// Clear empties the window.
func (rb *RingBuffer) Clear() {
	rb.next = 0
	rb.count = 0
}
