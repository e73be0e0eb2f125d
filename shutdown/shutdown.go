package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Teardown phases of a tab.
const (
	// PhaseDetach removes input listeners and store watches.
	PhaseDetach = 10

	// PhaseTimers cancels the inactivity countdown and policy polling.
	PhaseTimers = 20

	// PhasePresence sends the final offline mark.
	PhasePresence = 30

	// PhaseRelease closes the store view, the bus and exporters.
	PhaseRelease = 40
)

// Handler is implemented by components that take part in teardown.
type Handler interface {
	// OnShutdown is called once. ctx is cancelled when the timeout is
	// reached.
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult contains the result of a single handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result contains the complete teardown result.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is nil if all handlers succeeded.
	Err error
}

// Failed returns true if any handler failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout and signal-driven teardown.
	// Default: 10 seconds
	Timeout time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: PhaseRelease
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	// Default: true
	ContinueOnError bool

	// Clock measures handler durations. Default: real clock.
	Clock clockwork.Clock

	// Logger receives one line per handler. Default: discard.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		DefaultPhase:    PhaseRelease,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
