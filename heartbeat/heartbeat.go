package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/store"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Offline mark triggers.
const (
	TriggerDeadline = "deadline"
	TriggerHidden   = "hidden"
	TriggerTeardown = "teardown"
)

// Client posts presence updates to the backend.
type Client interface {
	// Heartbeat reports that the user is online.
	Heartbeat(ctx context.Context, token string) error

	// MarkOffline reports that the user went offline.
	MarkOffline(ctx context.Context, token string) error
}

// State is the presence bookkeeping of one tab.
type State struct {
	// Active is true while the emitter is sending heartbeats.
	Active bool

	// LastSuccessAt is the time of the last successful heartbeat.
	LastSuccessAt time.Time

	// OfflineDeadline is when the user is marked offline absent a success.
	OfflineDeadline time.Time

	// OfflineSent reports whether an offline mark was issued since the last
	// success.
	OfflineSent bool
}

// Config configures an Emitter.
type Config struct {
	// Client posts heartbeats and offline marks. Required.
	Client Client

	// Store holds the session tokens. Required.
	Store store.Store

	// Route reports the current route. Required.
	Route func() string

	// PublicRoutes never activate the emitter.
	// Default: session.DefaultRouteSet()
	PublicRoutes *session.RouteSet

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// OfflineAfter is the window after a success before the user is
	// presumed offline. Must exceed Interval.
	// Default: 15 seconds
	OfflineAfter time.Duration

	// RequestTimeout bounds each backend call.
	// Default: 10 seconds
	RequestTimeout time.Duration

	Clock  clockwork.Clock
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Client == nil || c.Store == nil || c.Route == nil {
		return ErrInvalidConfig
	}
	if c.Interval < 0 || c.OfflineAfter < 0 {
		return ErrInvalidConfig
	}
	if c.Interval > 0 && c.OfflineAfter > 0 && c.Interval >= c.OfflineAfter {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		OfflineAfter:   15 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}
