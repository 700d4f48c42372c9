package cache

import (
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// HistoryEntry is one recorded value of a device property.
type HistoryEntry struct {
	Value     device.Value `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// ring is a fixed-capacity buffer that overwrites its oldest entry
// when full.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns entries oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int { return r.n }
