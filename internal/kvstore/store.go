// Package kvstore models the shared key-value medium that same-machine
// participants use for matchmaking and signaling. It is the Go analog of
// cross-tab localStorage: a handful of well-known keys, mutated by every
// participant without locking. Matchmaking re-validates state after every
// delay instead of relying on mutual exclusion, so the interface stays
// deliberately narrow: read, write, compare-and-write, delete, subscribe.
package kvstore

import "sync"

// Store is the narrow contract the matchmaking and broadcast signaling
// layers operate through. All methods are safe for concurrent use.
type Store interface {
	// Read returns the current value of key and whether it exists.
	Read(key string) (string, bool)

	// Write unconditionally replaces the value of key.
	Write(key, value string)

	// CompareAndWrite replaces the value of key only if the current value
	// equals expect, and reports whether the write happened. A missing key
	// compares equal to the empty string.
	CompareAndWrite(key, expect, value string) bool

	// Delete removes key. Subscribers observe an empty value.
	Delete(key string)

	// Subscribe returns a channel receiving every subsequent value written
	// to key, and a cancel function. Slow subscribers lose updates rather
	// than blocking writers; only the latest value of a signaling key
	// matters.
	Subscribe(key string) (<-chan string, func())
}

// MemoryStore is the in-process Store shared by all participants in one
// process. It is the production store for the "local" variant and the test
// double for everything built on Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[string][]*subscription
}

type subscription struct {
	ch     chan string
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		subs:   make(map[string][]*subscription),
	}
}

// Read implements Store.
func (s *MemoryStore) Read(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Write implements Store.
func (s *MemoryStore) Write(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.notifyLocked(key, value)
}

// CompareAndWrite implements Store.
func (s *MemoryStore) CompareAndWrite(key, expect, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] != expect {
		return false
	}
	s.values[key] = value
	s.notifyLocked(key, value)
	return true
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.notifyLocked(key, "")
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(key string) (<-chan string, func()) {
	sub := &subscription{ch: make(chan string, 64)}

	s.mu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.ch)
		subs := s.subs[key]
		for i, candidate := range subs {
			if candidate == sub {
				s.subs[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return sub.ch, cancel
}

func (s *MemoryStore) notifyLocked(key, value string) {
	for _, sub := range s.subs[key] {
		select {
		case sub.ch <- value:
		default:
			// Subscriber is not keeping up; drop the update.
		}
	}
}
