// Package bus provides the in-page notification bus of a tab.
//
// The bus carries exactly two subjects. SubjectPolicyUpdated is a signal:
// it has no payload and a burst of announcements collapses into one
// pending delivery per subscriber, which is all a "refresh now" consumer
// needs. SubjectSessionExpired is an event: every publication is queued
// with its payload (the expired role) until the subscriber buffer fills.
package bus

import (
	"errors"
)

// Subjects published within a tab.
const (
	// SubjectPolicyUpdated announces that the timeout policy changed on the
	// server and should be refreshed.
	SubjectPolicyUpdated = "session.policy.updated"

	// SubjectSessionExpired announces an inactivity logout. The payload is
	// the role name.
	SubjectSessionExpired = "session.expired"
)

// Kind is the delivery discipline of a subject.
type Kind int

const (
	// KindSignal subjects coalesce: at most one delivery is pending per
	// subscriber and payloads are discarded.
	KindSignal Kind = iota + 1

	// KindEvent subjects queue every publication with its payload.
	KindEvent
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// KindOf reports the delivery discipline of subject.
func KindOf(subject string) (Kind, error) {
	switch subject {
	case SubjectPolicyUpdated:
		return KindSignal, nil
	case SubjectSessionExpired:
		return KindEvent, nil
	default:
		return 0, ErrInvalidSubject
	}
}

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload. Always nil for signals.
	Data []byte
}

// MessageBus provides pub/sub messaging within one tab.
type MessageBus interface {
	// Publish delivers a message to every subscriber of subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to subject.
	Subscribe(subject string) (Subscription, error)

	// Close shuts down the bus.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds bus configuration.
type Config struct {
	// EventBuffer is the per-subscriber queue length for event subjects.
	// Signal subjects always hold one pending delivery.
	// Default: 16
	EventBuffer int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventBuffer: 16,
	}
}

// Stats counts what happened to publications.
type Stats struct {
	// Delivered messages reached a subscriber queue.
	Delivered uint64

	// Coalesced signals were absorbed by an already pending delivery.
	Coalesced uint64

	// Dropped events found a full subscriber queue.
	Dropped uint64
}
