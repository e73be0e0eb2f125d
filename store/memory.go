package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBackend is the in-process storage shared by every MemoryStore view.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string]string
	views    map[*MemoryStore]struct{}
	revision uint64
}

// NewMemoryBackend creates an empty shared backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]string),
		views: make(map[*MemoryStore]struct{}),
	}
}

// Open returns a new view whose writes are stamped with origin.
func (b *MemoryBackend) Open(origin string) *MemoryStore {
	s := &MemoryStore{backend: b, origin: origin}
	b.mu.Lock()
	b.views[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Snapshot returns a copy of every stored entry.
func (b *MemoryBackend) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out
}

// broadcast delivers a change to every view other than the writer.
// Must be called with b.mu held.
func (b *MemoryBackend) broadcast(from *MemoryStore, key, value string, op Operation) {
	b.revision++
	c := &Change{
		Key:       key,
		Value:     value,
		Operation: op,
		Origin:    from.origin,
		Revision:  b.revision,
		Modified:  time.Now(),
	}
	for view := range b.views {
		if view == from {
			continue
		}
		view.deliver(c)
	}
}

// MemoryStore is one view of a MemoryBackend.
type MemoryStore struct {
	backend *MemoryBackend
	origin  string
	closed  atomic.Bool

	wmu      sync.Mutex
	watchers []*watcher
}

type watcher struct {
	pattern string
	ch      chan *Change
}

// Origin returns the identifier stamped on this view's writes.
func (s *MemoryStore) Origin() string {
	return s.origin
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", ErrClosed
	}

	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	v, ok := s.backend.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores a value.
func (s *MemoryStore) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.data[key] = value
	s.backend.broadcast(s, key, value, OpPut)
	return nil
}

// Remove deletes a key.
func (s *MemoryStore) Remove(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	if _, ok := s.backend.data[key]; ok {
		delete(s.backend.data, key)
		s.backend.broadcast(s, key, "", OpDelete)
	}
	return nil
}

// Keys returns all keys matching a pattern.
func (s *MemoryStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	var keys []string
	for key := range s.backend.data {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch delivers changes made by other views to keys matching pattern.
func (s *MemoryStore) Watch(pattern string) (<-chan *Change, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := &watcher{pattern: pattern, ch: make(chan *Change, 64)}

	s.wmu.Lock()
	s.watchers = append(s.watchers, w)
	s.wmu.Unlock()

	return w.ch, nil
}

func (s *MemoryStore) deliver(c *Change) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	for _, w := range s.watchers {
		if !MatchPattern(w.pattern, c.Key) {
			continue
		}
		select {
		case w.ch <- c:
		default:
			// Channel full, drop notification
		}
	}
}

// Close detaches the view and closes its watch channels.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.backend.mu.Lock()
	delete(s.backend.views, s)
	s.backend.mu.Unlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, w := range s.watchers {
		close(w.ch)
	}
	s.watchers = nil
	return nil
}
