// Package tab assembles the session lifecycle of one browser tab.
//
// A Tab owns a page, a view of the shared session store and every
// lifecycle component: the timeout policy source, the activity collector,
// the inactivity monitor, the presence emitter and the cross-tab
// coordinator. Close tears them down in order through the shutdown
// coordinator.
package tab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/activity"
	"github.com/vinayprograms/sessionkit/api"
	"github.com/vinayprograms/sessionkit/bus"
	"github.com/vinayprograms/sessionkit/config"
	"github.com/vinayprograms/sessionkit/crosstab"
	"github.com/vinayprograms/sessionkit/heartbeat"
	"github.com/vinayprograms/sessionkit/inactivity"
	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/page"
	"github.com/vinayprograms/sessionkit/policy"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/shutdown"
	"github.com/vinayprograms/sessionkit/store"
	"github.com/vinayprograms/sessionkit/telemetry"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("tab already started")
	ErrClosed         = errors.New("tab closed")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Backend is the API surface the lifecycle components call.
type Backend interface {
	policy.SettingsFetcher
	heartbeat.Client
	inactivity.LogoutRecorder
}

// OpenFunc opens a store view stamped with origin.
type OpenFunc func(origin string) (store.Store, error)

// Deps carries the collaborators of a Tab.
type Deps struct {
	// OpenStore opens this tab's store view. Required.
	OpenStore OpenFunc

	// Backend overrides the API client built from config.
	Backend Backend

	// Bus overrides the tab's in-page bus.
	Bus bus.MessageBus

	// Route is the initial route. Default: the landing route.
	Route string

	// ID overrides the generated tab identifier.
	ID string

	Clock  clockwork.Clock
	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// Status is a point-in-time view of a tab.
type Status struct {
	ID       string
	Route    string
	Hidden   bool
	Role     session.Role
	Policy   policy.Timeout
	Monitor  inactivity.Snapshot
	Presence heartbeat.State
}

// Tab is one tab's session lifecycle.
type Tab struct {
	id      string
	cfg     config.Config
	public  session.RouteSet
	clock   clockwork.Clock
	log     *logging.Logger
	page    *page.Page
	store   store.Store
	bus     bus.MessageBus
	ownsBus bool

	policy   *policy.Source
	activity *activity.Collector
	monitor  *inactivity.Monitor
	presence *heartbeat.Emitter
	crosstab *crosstab.Coordinator
	shutdown *shutdown.Coordinator

	mu      sync.Mutex
	started bool
	closed  bool
	removes []func()
}

// New wires a Tab. Nothing runs until Start.
func New(cfg config.Config, deps Deps) (*Tab, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.OpenStore == nil {
		return nil, fmt.Errorf("%w: store opener required", ErrInvalidConfig)
	}
	if deps.ID == "" {
		deps.ID = uuid.NewString()
	}
	if deps.Route == "" {
		deps.Route = cfg.Session.LandingRoute
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.GetTracer()
	}
	log := deps.Logger.With("tab", deps.ID)

	if deps.Backend == nil {
		client, err := api.New(api.Config{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout,
			Tracer:  deps.Tracer,
		})
		if err != nil {
			return nil, err
		}
		deps.Backend = client
	}

	st, err := deps.OpenStore(deps.ID)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	t := &Tab{
		id:     deps.ID,
		cfg:    cfg,
		public: cfg.PublicRoutes(),
		clock:  deps.Clock,
		log:    log,
		page:   page.New(deps.Route),
		store:  st,
		bus:    deps.Bus,
	}
	if t.bus == nil {
		t.bus = bus.NewMemoryBus(bus.DefaultConfig())
		t.ownsBus = true
	}

	if err := t.wire(deps); err != nil {
		_ = st.Close()
		if t.ownsBus {
			_ = t.bus.Close()
		}
		return nil, err
	}
	return t, nil
}

func (t *Tab) wire(deps Deps) error {
	cfg := t.cfg
	var err error

	t.policy, err = policy.New(policy.Config{
		Fetcher:         deps.Backend,
		Store:           t.store,
		Role:            t.Role,
		Bus:             t.bus,
		Clock:           t.clock,
		Logger:          t.log,
		Default:         policy.Timeout{Minutes: cfg.Policy.DefaultMinutes},
		RefreshInterval: cfg.Policy.RefreshInterval,
	})
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	t.monitor, err = inactivity.New(inactivity.Config{
		Store:           t.store,
		Route:           t.page.Route,
		Navigator:       t.page,
		Notifier:        t.page,
		Recorder:        deps.Backend,
		Bus:             t.bus,
		PublicRoutes:    &t.public,
		Timeout:         t.policy.Current(),
		RearmCoalesce:   cfg.Inactivity.RearmCoalesce,
		TrackStandard:   cfg.Session.TrackStandard,
		AdminLoginRoute: cfg.Session.AdminLoginRoute,
		LandingRoute:    cfg.Session.LandingRoute,
		LogoutTimeout:   cfg.API.Timeout,
		Clock:           t.clock,
		Logger:          t.log,
		Tracer:          deps.Tracer,
	})
	if err != nil {
		return fmt.Errorf("inactivity: %w", err)
	}

	t.activity, err = activity.New(activity.Config{
		Target:   t.page,
		Eligible: t.monitor.Eligible,
		Sink:     t.monitor.HandlePulse,
		Clock:    t.clock,
		Throttle: cfg.Activity.Throttle,
		Logger:   t.log,
	})
	if err != nil {
		return fmt.Errorf("activity: %w", err)
	}

	t.presence, err = heartbeat.New(heartbeat.Config{
		Client:         deps.Backend,
		Store:          t.store,
		Route:          t.page.Route,
		PublicRoutes:   &t.public,
		Interval:       cfg.Heartbeat.Interval,
		OfflineAfter:   cfg.Heartbeat.OfflineAfter,
		RequestTimeout: cfg.API.Timeout,
		Clock:          t.clock,
		Logger:         t.log,
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	t.crosstab, err = crosstab.New(crosstab.Config{
		Store:    t.store,
		Policy:   t.policy,
		Monitor:  t.monitor,
		Presence: t.presence,
		Logger:   t.log,
	})
	if err != nil {
		return fmt.Errorf("crosstab: %w", err)
	}

	t.shutdown = shutdown.NewCoordinator(shutdown.Config{
		Timeout:         cfg.API.Timeout,
		ContinueOnError: true,
		Clock:           t.clock,
		Logger:          t.log,
	})
	t.registerTeardown()
	return nil
}

func (t *Tab) registerTeardown() {
	sd := t.shutdown
	sd.RegisterFuncWithPhase("activity", func(context.Context) error {
		t.activity.Detach()
		return nil
	}, shutdown.PhaseDetach)
	sd.RegisterFuncWithPhase("crosstab", ignore(crosstab.ErrNotStarted, t.crosstab.Stop), shutdown.PhaseDetach)
	sd.RegisterFuncWithPhase("listeners", func(context.Context) error {
		t.mu.Lock()
		removes := t.removes
		t.removes = nil
		t.mu.Unlock()
		for _, remove := range removes {
			remove()
		}
		return nil
	}, shutdown.PhaseDetach)

	sd.RegisterFuncWithPhase("inactivity", func(context.Context) error {
		t.monitor.Stop()
		return nil
	}, shutdown.PhaseTimers)
	sd.RegisterFuncWithPhase("policy", ignore(policy.ErrNotStarted, t.policy.Stop), shutdown.PhaseTimers)

	// Covers a tab closed before Start registered the page-hide hook.
	sd.RegisterFuncWithPhase("presence", func(context.Context) error {
		t.presence.HandlePageHide()
		return nil
	}, shutdown.PhasePresence)

	sd.RegisterFuncWithPhase("store", func(context.Context) error {
		return t.store.Close()
	}, shutdown.PhaseRelease)
	if t.ownsBus {
		sd.RegisterFuncWithPhase("bus", func(context.Context) error {
			return t.bus.Close()
		}, shutdown.PhaseRelease)
	}
}

func ignore(target error, fn func() error) func(context.Context) error {
	return func(context.Context) error {
		if err := fn(); err != nil && !errors.Is(err, target) {
			return err
		}
		return nil
	}
}

// Start starts the timers, begins watching the store, attaches listeners
// and registers the page hooks. A failed Start undoes every earlier step.
func (t *Tab) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.started {
		return ErrAlreadyStarted
	}

	var undo []func()
	fail := func(err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}

	removePolicy := t.policy.OnChange(func(_, next policy.Timeout) {
		t.monitor.HandlePolicyChange(next)
	})
	undo = append(undo, removePolicy)

	if err := t.policy.Start(ctx); err != nil {
		return fail(fmt.Errorf("start policy: %w", err))
	}
	undo = append(undo, func() { _ = t.policy.Stop() })

	if err := t.crosstab.Start(ctx); err != nil {
		return fail(fmt.Errorf("start crosstab: %w", err))
	}
	undo = append(undo, func() { _ = t.crosstab.Stop() })

	t.activity.Attach()
	undo = append(undo, t.activity.Detach)

	if err := t.presence.Start(ctx); err != nil {
		return fail(fmt.Errorf("start presence: %w", err))
	}

	t.removes = append(t.removes,
		t.page.OnRouteChange(func(route string) {
			t.monitor.HandleRouteChange(route)
			t.presence.Reconcile()
		}),
		t.page.OnVisibilityChange(t.presence.HandleVisibility),
		t.page.OnPageHide(t.presence.HandlePageHide),
		removePolicy,
	)

	t.started = true
	t.log.Info("tab_started", map[string]interface{}{"route": t.page.Route()})
	return nil
}

// OnSessionExpired registers fn to run with the role name after every
// inactivity logout in this tab. fn runs on its own goroutine and must not
// call remove. The registration ends at Close.
func (t *Tab) OnSessionExpired(fn func(role string)) (remove func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	sub, err := t.bus.Subscribe(bus.SubjectSessionExpired)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Messages() {
			fn(string(msg.Data))
		}
	}()

	var once sync.Once
	remove = func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			<-done
		})
	}
	t.removes = append(t.removes, remove)
	return remove, nil
}

// Close unloads the page and runs teardown. Closing twice is a no-op.
func (t *Tab) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.page.Unload()
	err := t.shutdown.Shutdown(ctx)
	if errors.Is(err, shutdown.ErrAlreadyShutdown) {
		return nil
	}
	t.log.Info("tab_closed")
	return err
}

// Shutdown returns the teardown coordinator so callers can add handlers
// or react to signals.
func (t *Tab) Shutdown() *shutdown.Coordinator { return t.shutdown }

// ID returns the tab identifier stamped on its store writes.
func (t *Tab) ID() string { return t.id }

// Page returns the tab's page.
func (t *Tab) Page() *page.Page { return t.page }

// Store returns the tab's store view.
func (t *Tab) Store() store.Store { return t.store }

// Monitor returns the inactivity monitor.
func (t *Tab) Monitor() *inactivity.Monitor { return t.monitor }

// Presence returns the presence emitter.
func (t *Tab) Presence() *heartbeat.Emitter { return t.presence }

// Policy returns the policy source.
func (t *Tab) Policy() *policy.Source { return t.policy }

// Role resolves the role governing the current route.
func (t *Tab) Role() session.Role {
	return session.ResolveRole(t.store, t.public, t.page.Route())
}

// Activity dispatches one user input event of kind to the page.
func (t *Tab) Activity(kind string) {
	if kind == "" {
		kind = page.EventClick
	}
	t.page.Dispatch(page.Event{Type: kind})
}

// AnnounceSettings tells other tabs that the system settings changed.
func (t *Tab) AnnounceSettings() error {
	return crosstab.Announce(t.store, t.clock)
}

// PublishPolicyUpdated tells this tab's components that the system
// settings changed.
func (t *Tab) PublishPolicyUpdated() error {
	return t.bus.Publish(bus.SubjectPolicyUpdated, nil)
}

// Status returns a snapshot of the tab.
func (t *Tab) Status() Status {
	return Status{
		ID:       t.id,
		Route:    t.page.Route(),
		Hidden:   t.page.Hidden(),
		Role:     t.Role(),
		Policy:   t.policy.Current(),
		Monitor:  t.monitor.Snapshot(),
		Presence: t.presence.Snapshot(),
	}
}
