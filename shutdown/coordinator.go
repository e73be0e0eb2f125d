package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/logging"
)

// Coordinator runs teardown handlers in phase order exactly once.
type Coordinator struct {
	config Config
	clock  clockwork.Clock
	log    *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	err      error
	result   *Result
	done     chan struct{}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(config Config) *Coordinator {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = def.DefaultPhase
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := config.Logger
	if log == nil {
		log = logging.Nop()
	}

	return &Coordinator{
		config: config,
		clock:  clock,
		log:    log.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler Handler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler to phase.
func (c *Coordinator) RegisterWithPhase(name string, handler Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc registers fn in the default phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, HandlerFunc(fn))
}

// RegisterFuncWithPhase registers fn in phase.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, HandlerFunc(fn), phase)
}

// Shutdown runs every handler. Later calls wait for the first to finish
// and return ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if !first {
		<-c.done
		return ErrAlreadyShutdown
	}
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or the configured
// timeout when zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on SIGINT or SIGTERM until ctx is done or stop
// is called.
func (c *Coordinator) HandleSignals(ctx context.Context) (stop func()) {
	return c.handle(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func (c *Coordinator) handle(ctx context.Context, sigs ...os.Signal) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)
	stopCh := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigCh:
			c.log.Info("signal_received", map[string]interface{}{"signal": sig.String()})
			_ = c.ShutdownWithTimeout(0)
		case <-ctx.Done():
		case <-stopCh:
		case <-c.done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopCh)
			wg.Wait()
		})
	}
}

// Done is closed when teardown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the teardown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns the detailed result once Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	start := c.clock.Now()
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = c.clock.Since(start)
		c.result = result
		return err
	}

	var failures []error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}

		results := c.runPhase(ctx, group)
		result.Results = append(result.Results, results...)

		for _, hr := range results {
			if hr.Err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
		if len(failures) > 0 && !c.config.ContinueOnError {
			break
		}
	}

	if len(failures) > 0 {
		return finish(errors.Join(append([]error{ErrHandlerFailed}, failures...)...))
	}
	return finish(nil)
}

// runPhase runs the handlers of one phase concurrently.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := c.clock.Now()
			err := r.handler.OnShutdown(ctx)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: c.clock.Since(start),
				Err:      err,
			}
			results[idx] = hr
			c.logResult(hr)
		}(i, reg)
	}

	wg.Wait()
	return results
}

func (c *Coordinator) logResult(hr HandlerResult) {
	fields := map[string]interface{}{
		"handler":  hr.Name,
		"phase":    hr.Phase,
		"duration": hr.Duration.String(),
	}
	if hr.Err != nil {
		fields["error"] = hr.Err.Error()
		c.log.Warn("teardown_failed", fields)
		return
	}
	c.log.Debug("teardown_done", fields)
}

// groupByPhase splits handlers sorted by phase into per-phase groups.
func groupByPhase(handlers []registration) [][]registration {
	if len(handlers) == 0 {
		return nil
	}

	var groups [][]registration
	var current []registration
	phase := handlers[0].phase

	for _, h := range handlers {
		if h.phase != phase {
			groups = append(groups, current)
			current = nil
			phase = h.phase
		}
		current = append(current, h)
	}
	return append(groups, current)
}
