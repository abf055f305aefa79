// Package ring provides a generic bounded circular buffer that keeps the
// most recent N pushed values.
package ring

// Buffer is a fixed-capacity circular buffer. Once full, each Push evicts the
// oldest value. The zero value is not usable; use New.
type Buffer[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int
}

// New creates a Buffer with the given capacity. Capacities below 1 are
// clamped to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.n < len(b.buf) {
		b.buf[(b.head+b.n)%len(b.buf)] = v
		b.n++
		return
	}
	b.buf[b.head] = v
	b.head = (b.head + 1) % len(b.buf)
}

// Len returns the number of stored values.
func (b *Buffer[T]) Len() int { return b.n }

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int { return len(b.buf) }

// Values returns the stored values oldest-first in a freshly allocated slice.
func (b *Buffer[T]) Values() []T {
	out := make([]T, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.buf[(b.head+i)%len(b.buf)]
	}
	return out
}

// Last returns the most recently pushed value. ok is false when empty.
func (b *Buffer[T]) Last() (v T, ok bool) {
	if b.n == 0 {
		return v, false
	}
	return b.buf[(b.head+b.n-1)%len(b.buf)], true
}
