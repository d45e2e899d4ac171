// Package blockarrival tracks which block hashes arrived recently over
// UDP, so the block processor can distinguish gossip-fresh forks (worth
// logging only) from bootstrap-fetched ones (worth forwarding to pull).
// The single-mutex-guarded map-with-aging shape is grounded on the
// teacher's general guarded-map idiom (e.g. addrmgr's knownAddress map).
package blockarrival

import (
	"sync"
	"time"

	"github.com/razenet/razed/hash"
)

// Age is how long an arrival is remembered before it ages out.
const Age = 60 * time.Second

// Set is a recent-block-hash set with 60-second aging.
type Set struct {
	mu       sync.Mutex
	arrivals map[hash.Digest]time.Time
}

// New creates an empty Set.
func New() *Set {
	return &Set{arrivals: make(map[hash.Digest]time.Time)}
}

// Add records h as having just arrived.
func (s *Set) Add(h hash.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrivals[h] = time.Now()
}

// Recent reports whether h arrived within the last Age, evicting it first
// if it has aged out.
func (s *Set) Recent(h hash.Digest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	arrivedAt, ok := s.arrivals[h]
	if !ok {
		return false
	}
	if time.Since(arrivedAt) > Age {
		delete(s.arrivals, h)
		return false
	}
	return true
}

// Purge removes every entry older than Age. Intended to be called
// periodically by the alarm scheduler rather than relying solely on the
// lazy eviction in Recent.
func (s *Set) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-Age)
	for h, arrivedAt := range s.arrivals {
		if arrivedAt.Before(cutoff) {
			delete(s.arrivals, h)
		}
	}
}

// Len returns the number of tracked arrivals, including any not yet
// lazily evicted.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.arrivals)
}
