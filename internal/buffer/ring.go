// Package buffer provides the bounded scrollback kept for display surfaces.
package buffer

import "sync"

// Ring is a fixed-capacity byte ring. Writes past capacity overwrite the
// oldest bytes, so a Ring always holds the most recent output.
//
// Panels replay it to browser tabs that attach after output was produced.
type Ring struct {
	mu    sync.RWMutex
	buf   []byte
	start int
	size  int
}

// NewRing creates a Ring holding at most capacity bytes. A capacity below one
// is raised to one.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes on overflow. It never fails.
func (r *Ring) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.buf)
	if n >= capacity {
		copy(r.buf, p[n-capacity:])
		r.start = 0
		r.size = capacity
		return n, nil
	}

	end := (r.start + r.size) % capacity
	first := copy(r.buf[end:], p)
	copy(r.buf, p[first:])

	r.size += n
	if r.size > capacity {
		r.start = (r.start + r.size - capacity) % capacity
		r.size = capacity
	}
	return n, nil
}

// Bytes returns a copy of the buffered bytes, oldest first.
func (r *Ring) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	first := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[first:], r.buf[:r.size-first])
	return out
}

// Reset drops all buffered bytes.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.start, r.size = 0, 0
	r.mu.Unlock()
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
