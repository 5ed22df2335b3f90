// Package store holds the single shared object between the capture
// domain and the pipeline domain: a one-slot frame rendezvous. The
// producer overwrites, the consumer copies out. Old frames are dropped
// on purpose; for a live stream the newest frame is the only one worth
// sending.
package store

import (
	"sync"
)

// FrameStore is a mutex-protected single-slot buffer holding the bytes
// of the most recently captured frame. The byte region is owned by the
// store and grows as needed; it is reused across publications so the
// steady state allocates nothing.
type FrameStore struct {
	mu  sync.Mutex
	buf []byte
	n   int
	gen uint64
}

func New() *FrameStore {
	return &FrameStore{}
}

// Publish atomically replaces the stored frame with a copy of p. The
// generation counter increments on every call and never decreases. The
// caller keeps ownership of p; the mutex is held only for the copy.
func (s *FrameStore) Publish(p []byte) {
	s.mu.Lock()
	if cap(s.buf) < len(p) {
		s.buf = make([]byte, len(p))
	}
	s.n = copy(s.buf[:cap(s.buf)], p)
	s.gen++
	s.mu.Unlock()
}

// Snapshot copies the current frame into dst (grown if needed) and
// returns the filled slice along with the generation it observed. A
// zero generation means nothing has ever been published, and the
// returned slice is empty. Two snapshots reporting the same generation
// hold identical bytes.
func (s *FrameStore) Snapshot(dst []byte) ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == 0 {
		return dst[:0], 0
	}
	if cap(dst) < s.n {
		dst = make([]byte, s.n)
	}
	dst = dst[:s.n]
	copy(dst, s.buf[:s.n])
	return dst, s.gen
}

// Generation returns the current generation counter without copying.
func (s *FrameStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}
