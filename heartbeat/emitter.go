package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/store"
)

// Emitter sends presence heartbeats for a standard-user session.
type Emitter struct {
	client         Client
	store          store.Store
	route          func() string
	public         session.RouteSet
	interval       time.Duration
	offlineAfter   time.Duration
	requestTimeout time.Duration
	clock          clockwork.Clock
	log            *logging.Logger

	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	active      bool
	epoch       uint64
	activatedAt time.Time
	lastSuccess time.Time
	deadline    time.Time
	offlineSent bool
	tornDown    bool
	beatTimer   clockwork.Timer
	offTimer    clockwork.Timer
	offGen      uint64
	inflight    sync.WaitGroup
}

// New creates an inactive emitter.
func New(cfg Config) (*Emitter, error) {
	def := DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.OfflineAfter == 0 {
		cfg.OfflineAfter = def.OfflineAfter
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	public := session.DefaultRouteSet()
	if cfg.PublicRoutes != nil {
		public = *cfg.PublicRoutes
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Emitter{
		client:         cfg.Client,
		store:          cfg.Store,
		route:          cfg.Route,
		public:         public,
		interval:       cfg.Interval,
		offlineAfter:   cfg.OfflineAfter,
		requestTimeout: cfg.RequestTimeout,
		clock:          cfg.Clock,
		log:            cfg.Logger.WithComponent("heartbeat"),
	}, nil
}

// Start enables the emitter and activates it when the session qualifies.
func (e *Emitter) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.Reconcile()
	return nil
}

// Snapshot returns the current presence state.
func (e *Emitter) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Active:          e.active,
		LastSuccessAt:   e.lastSuccess,
		OfflineDeadline: e.deadline,
		OfflineSent:     e.offlineSent,
	}
}

func (e *Emitter) eligible() bool {
	return session.ResolveRole(e.store, e.public, e.route()) == session.RoleStandard
}

// Reconcile activates or deactivates the emitter for the current route and
// tokens. Call it after navigation and token changes.
func (e *Emitter) Reconcile() {
	eligible := e.eligible()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	switch {
	case eligible && !e.active:
		e.activateLocked()
	case !eligible && e.active:
		e.deactivateLocked()
	}
}

func (e *Emitter) activateLocked() {
	now := e.clock.Now()
	e.active = true
	e.epoch++
	e.activatedAt = now
	e.lastSuccess = time.Time{}
	e.offlineSent = false
	e.deadline = now.Add(e.offlineAfter)
	e.scheduleOfflineLocked()
	e.scheduleBeatLocked(e.epoch)
	e.beatLocked()
	e.log.Debug("presence_activated")
}

func (e *Emitter) deactivateLocked() {
	e.active = false
	e.epoch++
	e.offGen++
	if e.beatTimer != nil {
		e.beatTimer.Stop()
		e.beatTimer = nil
	}
	if e.offTimer != nil {
		e.offTimer.Stop()
		e.offTimer = nil
	}
	e.deadline = time.Time{}
	e.log.Debug("presence_deactivated")
}

func (e *Emitter) scheduleBeatLocked(epoch uint64) {
	e.beatTimer = e.clock.AfterFunc(e.interval, func() { e.tick(epoch) })
}

func (e *Emitter) tick(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.active || epoch != e.epoch {
		return
	}
	e.scheduleBeatLocked(epoch)
	e.beatLocked()
}

// beatLocked sends one heartbeat in the background.
func (e *Emitter) beatLocked() {
	token := store.Lookup(e.store, session.KeyToken)
	if token == "" {
		return
	}
	epoch, ctx := e.epoch, e.ctx
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
		err := e.client.Heartbeat(reqCtx, token)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				e.log.HeartbeatFailed(err)
			}
			return
		}
		e.succeeded(epoch)
	}()
}

func (e *Emitter) succeeded(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.active || epoch != e.epoch {
		return
	}
	now := e.clock.Now()
	e.lastSuccess = now
	e.deadline = now.Add(e.offlineAfter)
	e.offlineSent = false
	e.scheduleOfflineLocked()
}

// scheduleOfflineLocked replaces the offline timer with one firing at the
// current deadline.
func (e *Emitter) scheduleOfflineLocked() {
	e.offGen++
	if e.offTimer != nil {
		e.offTimer.Stop()
	}
	gen := e.offGen
	d := e.deadline.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	e.offTimer = e.clock.AfterFunc(d, func() { e.deadlinePassed(gen) })
}

func (e *Emitter) deadlinePassed(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.active || gen != e.offGen {
		return
	}
	e.offTimer = nil
	e.markOfflineLocked(TriggerDeadline)
}

// markOfflineLocked sends the epoch's single offline mark in the background.
func (e *Emitter) markOfflineLocked(trigger string) {
	if e.offlineSent {
		return
	}
	token := store.Lookup(e.store, session.KeyToken)
	if token == "" {
		return
	}
	e.offlineSent = true
	e.offGen++
	if e.offTimer != nil {
		e.offTimer.Stop()
		e.offTimer = nil
	}

	ctx := context.WithoutCancel(e.ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.sendOffline(ctx, token, trigger)
	}()
}

func (e *Emitter) sendOffline(ctx context.Context, token, trigger string) {
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	e.log.OfflineMarked(trigger, e.client.MarkOffline(ctx, token))
}

// HandleVisibility reacts to the tab becoming hidden or visible.
func (e *Emitter) HandleVisibility(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.active {
		return
	}
	if !hidden {
		e.beatLocked()
		return
	}
	ref := e.lastSuccess
	if ref.IsZero() {
		ref = e.activatedAt
	}
	if e.clock.Since(ref) > e.offlineAfter {
		e.markOfflineLocked(TriggerHidden)
	}
}

// HandlePageHide marks a standard user offline on page teardown and stops
// the emitter. The call is attempted whether or not the emitter is active
// and its failure is only logged. Only the first call has any effect.
func (e *Emitter) HandlePageHide() {
	e.mu.Lock()
	if e.tornDown {
		e.mu.Unlock()
		return
	}
	e.tornDown = true
	ctx := context.Background()
	if e.ctx != nil {
		ctx = context.WithoutCancel(e.ctx)
	}
	e.mu.Unlock()

	if token := session.TokenFor(e.store, session.RoleStandard); token != "" {
		e.sendOffline(ctx, token, TriggerTeardown)
	}
	_ = e.Stop()
}

// Stop cancels both timers and waits for in-flight calls. Pending offline
// marks run to completion.
func (e *Emitter) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.active {
		e.deactivateLocked()
	}
	e.running = false
	e.cancel()
	e.mu.Unlock()

	e.inflight.Wait()
	return nil
}
