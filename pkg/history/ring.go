// Package history provides the bounded buffer that feeds recent
// measurements to a forecast oracle.
package history

// Ring is a fixed-capacity FIFO buffer. Appending to a full ring evicts the
// oldest element.
//
// Ring is not safe for concurrent use. The owner appends and hands out
// Snapshot copies to readers.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing creates an empty ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds v as the newest element.
func (r *Ring[T]) Append(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns the contents oldest first. The slice is a copy.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Latest returns the newest element.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full reports whether the next Append will evict.
func (r *Ring[T]) Full() bool { return r.n == len(r.buf) }
