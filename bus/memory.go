package bus

import (
	"sync"
)

// MemoryBus implements MessageBus for the components of a single tab.
type MemoryBus struct {
	eventBuffer int

	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	stats  Stats
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	kind    Kind
	ch      chan *Message
	done    bool // guarded by bus.mu
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	return &MemoryBus{
		eventBuffer: cfg.EventBuffer,
		subs:        make(map[string]map[*memorySub]struct{}),
	}
}

// Publish delivers to every subscriber without blocking. A signal that
// finds a delivery already pending is coalesced into it; an event that
// finds a full queue is dropped.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	kind, err := KindOf(subject)
	if err != nil {
		return err
	}
	if kind == KindSignal {
		data = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data}
	for sub := range b.subs[subject] {
		select {
		case sub.ch <- msg:
			b.stats.Delivered++
		default:
			if kind == KindSignal {
				b.stats.Coalesced++
			} else {
				b.stats.Dropped++
			}
		}
	}
	return nil
}

// Subscribe creates a subscription whose queue length follows the
// subject's kind.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	kind, err := KindOf(subject)
	if err != nil {
		return nil, err
	}
	size := 1
	if kind == KindEvent {
		size = b.eventBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		bus:     b,
		subject: subject,
		kind:    kind,
		ch:      make(chan *Message, size),
	}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][sub] = struct{}{}
	return sub, nil
}

// Stats returns publication counters.
func (b *MemoryBus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Close ends every subscription. Closing twice is a no-op.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.endLocked()
		}
	}
	b.subs = nil
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe ends the subscription and closes its channel.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.done {
		return nil
	}
	delete(s.bus.subs[s.subject], s)
	s.endLocked()
	return nil
}

func (s *memorySub) endLocked() {
	if !s.done {
		s.done = true
		close(s.ch)
	}
}
