// Package activity turns raw document input events into throttled
// activity pulses.
//
// Only deliberate input counts: pointer-down, key-down, key-press,
// touch-start, click, and focus. Pointer-move, scroll, and wheel are never
// tracked because they fire continuously and would churn the inactivity
// timer.
package activity

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/page"
)

// TrackedEvents are the event types that produce pulses.
var TrackedEvents = []string{
	page.EventPointerDown,
	page.EventKeyDown,
	page.EventKeyPress,
	page.EventTouchStart,
	page.EventClick,
	page.EventFocus,
}

// ErrInvalidConfig is returned by New.
var ErrInvalidConfig = errors.New("invalid configuration")

// Pulse reports that the user did something.
type Pulse struct {
	OccurredAt time.Time
}

// EventTarget is where listeners are attached.
type EventTarget interface {
	AddEventListener(typ string, fn page.Listener, opts page.ListenerOptions) (remove func())
}

// Config configures a Collector.
type Config struct {
	// Target is the document to listen on. Required.
	Target EventTarget

	// Eligible reports whether the current route and tokens allow
	// tracking. Events are discarded while it returns false. Required.
	Eligible func() bool

	// Sink receives accepted pulses. Required.
	Sink func(Pulse)

	// Clock stamps pulses. Default: real clock.
	Clock clockwork.Clock

	// Throttle is the minimum spacing between accepted pulses.
	// Default: 1 second
	Throttle time.Duration

	// Logger receives attach and detach events. Default: discard.
	Logger *logging.Logger
}

// Collector emits a Pulse for each qualifying input event.
type Collector struct {
	target   EventTarget
	eligible func() bool
	sink     func(Pulse)
	clock    clockwork.Clock
	log      *logging.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	removes []func()
}

// New creates a detached Collector.
func New(cfg Config) (*Collector, error) {
	if cfg.Target == nil || cfg.Eligible == nil || cfg.Sink == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Throttle < 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Throttle == 0 {
		cfg.Throttle = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Collector{
		target:   cfg.Target,
		eligible: cfg.Eligible,
		sink:     cfg.Sink,
		clock:    cfg.Clock,
		log:      cfg.Logger.WithComponent("activity"),
		limiter:  rate.NewLimiter(rate.Every(cfg.Throttle), 1),
	}, nil
}

// Attach registers passive capturing listeners for every tracked event.
// Attaching an attached Collector does nothing.
func (c *Collector) Attach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removes != nil {
		return
	}
	opts := page.ListenerOptions{Capture: true, Passive: true}
	c.removes = make([]func(), 0, len(TrackedEvents))
	for _, typ := range TrackedEvents {
		c.removes = append(c.removes, c.target.AddEventListener(typ, c.handle, opts))
	}
	c.log.Debug("attached", map[string]interface{}{"events": len(TrackedEvents)})
}

// Detach removes every listener. Detaching a detached Collector does
// nothing.
func (c *Collector) Detach() {
	c.mu.Lock()
	removes := c.removes
	c.removes = nil
	c.mu.Unlock()

	if removes == nil {
		return
	}
	for _, remove := range removes {
		remove()
	}
	c.log.Debug("detached")
}

// Attached reports whether listeners are registered.
func (c *Collector) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removes != nil
}

func (c *Collector) handle(page.Event) {
	if !c.eligible() {
		return
	}

	now := c.clock.Now()
	c.mu.Lock()
	ok := c.limiter.AllowN(now, 1)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.sink(Pulse{OccurredAt: now})
}
