package healing

// Ring is a fixed-capacity circular buffer. Pushing into a full ring
// overwrites the oldest element. It is not safe for concurrent use.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing creates a ring holding at most capacity elements. A capacity
// below one is treated as one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v and reports whether an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Contains reports whether any stored element satisfies match.
func (r *Ring[T]) Contains(match func(T) bool) bool {
	for i := 0; i < r.n; i++ {
		if match(r.buf[(r.start+i)%len(r.buf)]) {
			return true
		}
	}
	return false
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Newest returns up to limit elements, newest first. A limit of zero or
// less returns everything.
func (r *Ring[T]) Newest(limit int) []T {
	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]T, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, r.buf[(r.start+r.n-1-i)%len(r.buf)])
	}
	return out
}
