// Package crosstab reacts to session store changes made by other tabs.
//
// Tabs share one persisted store. A tab that saves new system settings
// writes the settings-updated key; every other tab refreshes its timeout
// policy. A tab that logs the admin out removes the admin token; every
// other tab cancels its countdown without logging out again.
package crosstab

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/policy"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/store"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("crosstab already started")
	ErrNotStarted     = errors.New("crosstab not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// PolicyRefresher re-reads the timeout policy.
type PolicyRefresher interface {
	Refresh(ctx context.Context) (policy.Timeout, bool)
}

// TokenRemovalHandler cancels local tracking when another tab removed the
// admin token.
type TokenRemovalHandler interface {
	HandleTokenRemoved()
}

// Reconciler re-evaluates a component after token changes.
type Reconciler interface {
	Reconcile()
}

// Config configures a Coordinator.
type Config struct {
	// Store is this tab's view of the shared store. Required.
	Store store.Store

	// Policy is refreshed on settings broadcasts. Optional.
	Policy PolicyRefresher

	// Monitor is told about admin token removals. Optional.
	Monitor TokenRemovalHandler

	// Presence is reconciled on any token change. Optional.
	Presence Reconciler

	Logger *logging.Logger
}

// Coordinator dispatches external store changes to the tab's components.
type Coordinator struct {
	store    store.Store
	policy   PolicyRefresher
	monitor  TokenRemovalHandler
	presence Reconciler
	log      *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Coordinator{
		store:    cfg.Store,
		policy:   cfg.Policy,
		monitor:  cfg.Monitor,
		presence: cfg.Presence,
		log:      cfg.Logger.WithComponent("crosstab"),
	}, nil
}

// Start watches the store until Stop or ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	changes, err := c.store.Watch("*")
	if err != nil {
		return err
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.running = true
	go c.run(ctx, changes)
	return nil
}

func (c *Coordinator) run(ctx context.Context, changes <-chan *store.Change) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			c.Handle(ctx, ch)
		}
	}
}

// Handle applies one external change.
func (c *Coordinator) Handle(ctx context.Context, ch *store.Change) {
	switch ch.Key {
	case session.KeySettingsUpdated:
		if ch.Operation != store.OpPut || c.policy == nil {
			return
		}
		c.log.Debug("settings_broadcast", map[string]interface{}{
			"origin": ch.Origin,
			"value":  ch.Value,
		})
		c.policy.Refresh(ctx)

	case session.KeyAdminToken:
		removed := ch.Operation == store.OpDelete || ch.Value == ""
		if removed && !store.Has(c.store, session.KeyAdminToken) && c.monitor != nil {
			c.log.Debug("admin_token_removed", map[string]interface{}{"origin": ch.Origin})
			c.monitor.HandleTokenRemoved()
		}
		c.reconcile()

	case session.KeyToken:
		c.reconcile()
	}
}

func (c *Coordinator) reconcile() {
	if c.presence != nil {
		c.presence.Reconcile()
	}
}

// Stop ends the watch and waits for the current change to finish.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()

	<-done
	return nil
}

// Announce writes the settings-updated broadcast so other tabs refresh
// their policy.
func Announce(s store.Store, clock clockwork.Clock) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return s.Set(session.KeySettingsUpdated, strconv.FormatInt(clock.Now().UnixMilli(), 10))
}
