package inactivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/activity"
	"github.com/vinayprograms/sessionkit/bus"
	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/page"
	"github.com/vinayprograms/sessionkit/policy"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/store"
	"github.com/vinayprograms/sessionkit/telemetry"
)

// LogoutReason is sent with the logout record of an expired session.
const LogoutReason = "inactivity"

// User-facing expiry messages.
const (
	AdminExpiredMessage    = "Your admin session has expired due to inactivity. Please log in again."
	StandardExpiredMessage = "Your session has expired due to inactivity. Please log in again."
)

// ErrInvalidConfig is returned by New.
var ErrInvalidConfig = errors.New("invalid configuration")

// State is a monitor state.
type State int

const (
	// Idle means no countdown is running.
	Idle State = iota
	// Armed means a countdown is running.
	Armed
	// Expiring means the deadline passed and logout is in flight.
	Expiring
	// Disarmed means another tab removed the token.
	Disarmed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Expiring:
		return "expiring"
	case Disarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

// LogoutRecorder records a logout with the backend.
type LogoutRecorder interface {
	RecordLogout(ctx context.Context, token, reason string) error
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	State       State
	Role        session.Role
	Timeout     policy.Timeout
	Deadline    time.Time
	LastPulseAt time.Time
	LastRearmAt time.Time
}

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

// Config configures a Monitor.
type Config struct {
	// Store holds the session tokens. Required.
	Store store.Store

	// Route reports the current route. Required.
	Route func() string

	// Navigator performs the post-logout navigation. Required.
	Navigator page.Navigator

	// Notifier warns the user on expiry. Optional.
	Notifier page.Notifier

	// Recorder records standard-session logouts. Optional.
	Recorder LogoutRecorder

	// Bus receives a session expired announcement. Optional.
	Bus bus.MessageBus

	// PublicRoutes never arm the countdown.
	// Default: session.DefaultRouteSet()
	PublicRoutes *session.RouteSet

	// Timeout is the initial policy. Default: policy.Default()
	Timeout policy.Timeout

	// RearmCoalesce ignores pulse rearms closer than this to the previous
	// rearm. Default: 2 seconds
	RearmCoalesce time.Duration

	// TrackStandard also tracks standard-user sessions.
	TrackStandard bool

	// AdminLoginRoute and LandingRoute are the post-logout destinations.
	AdminLoginRoute string
	LandingRoute    string

	// LogoutTimeout bounds the logout record call. Default: 5 seconds
	LogoutTimeout time.Duration

	Clock  clockwork.Clock
	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

type transition struct{ from, to State }

// Monitor owns the inactivity countdown of one tab.
type Monitor struct {
	store         store.Store
	route         func() string
	nav           page.Navigator
	notifier      page.Notifier
	recorder      LogoutRecorder
	bus           bus.MessageBus
	public        session.RouteSet
	coalesce      time.Duration
	trackStandard bool
	adminLogin    string
	landing       string
	logoutTimeout time.Duration
	clock         clockwork.Clock
	log           *logging.Logger
	tracer        *telemetry.Tracer

	mu          sync.Mutex
	state       State
	role        session.Role
	timeout     policy.Timeout
	deadline    time.Time
	lastPulseAt time.Time
	lastRearmAt time.Time
	timer       clockwork.Timer
	gen         uint64
	stopped     bool
	hooks       map[int]TransitionFunc
	nextHook    int
}

// New creates an Idle monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Store == nil || cfg.Route == nil || cfg.Navigator == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Timeout.Minutes == 0 {
		cfg.Timeout = policy.Default()
	}
	if err := policy.Validate(cfg.Timeout.Minutes); err != nil {
		return nil, ErrInvalidConfig
	}
	public := session.DefaultRouteSet()
	if cfg.PublicRoutes != nil {
		public = *cfg.PublicRoutes
	}
	if cfg.RearmCoalesce == 0 {
		cfg.RearmCoalesce = 2 * time.Second
	}
	if cfg.AdminLoginRoute == "" {
		cfg.AdminLoginRoute = session.AdminLoginRoute
	}
	if cfg.LandingRoute == "" {
		cfg.LandingRoute = session.LandingRoute
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}

	return &Monitor{
		store:         cfg.Store,
		route:         cfg.Route,
		nav:           cfg.Navigator,
		notifier:      cfg.Notifier,
		recorder:      cfg.Recorder,
		bus:           cfg.Bus,
		public:        public,
		coalesce:      cfg.RearmCoalesce,
		trackStandard: cfg.TrackStandard,
		adminLogin:    cfg.AdminLoginRoute,
		landing:       cfg.LandingRoute,
		logoutTimeout: cfg.LogoutTimeout,
		clock:         cfg.Clock,
		log:           cfg.Logger.WithComponent("inactivity"),
		tracer:        cfg.Tracer,
		timeout:       cfg.Timeout,
		hooks:         make(map[int]TransitionFunc),
	}, nil
}

// OnTransition registers fn to run after every state change.
func (m *Monitor) OnTransition(fn TransitionFunc) (cancel func()) {
	m.mu.Lock()
	id := m.nextHook
	m.nextHook++
	m.hooks[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// Snapshot returns the current monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:       m.state,
		Role:        m.role,
		Timeout:     m.timeout,
		Deadline:    m.deadline,
		LastPulseAt: m.lastPulseAt,
		LastRearmAt: m.lastRearmAt,
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Eligible reports whether the current route and tokens are tracked.
func (m *Monitor) Eligible() bool {
	return m.tracked(m.resolve(m.route()))
}

func (m *Monitor) resolve(route string) session.Role {
	return session.ResolveRole(m.store, m.public, route)
}

func (m *Monitor) tracked(role session.Role) bool {
	return role == session.RoleAdmin || (m.trackStandard && role == session.RoleStandard)
}

// HandlePulse arms or rearms the countdown for an accepted activity pulse.
func (m *Monitor) HandlePulse(p activity.Pulse) {
	role := m.resolve(m.route())

	m.mu.Lock()
	var trans []transition
	defer func() { m.finish(trans) }()

	if m.stopped || m.state == Expiring {
		return
	}
	if !m.tracked(role) {
		if m.state == Armed {
			m.cancelLocked()
			trans = append(trans, m.setLocked(Idle))
		}
		return
	}

	at := p.OccurredAt
	if at.IsZero() {
		at = m.clock.Now()
	}
	m.lastPulseAt = at
	m.role = role

	if m.state == Armed && at.Sub(m.lastRearmAt) < m.coalesce {
		return
	}

	m.armLocked(at)
	if m.state != Armed {
		trans = append(trans, m.setLocked(Armed))
	}
}

// HandlePolicyChange adopts t and, when armed, rearms from now.
func (m *Monitor) HandlePolicyChange(t policy.Timeout) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || t == m.timeout {
		return
	}
	m.timeout = t
	if m.state == Armed {
		m.armLocked(m.clock.Now())
	}
}

// HandleRouteChange re-evaluates tracking after navigation. A still
// tracked route keeps the existing deadline; an untracked one disarms.
func (m *Monitor) HandleRouteChange(route string) {
	role := m.resolve(route)

	m.mu.Lock()
	var trans []transition
	defer func() { m.finish(trans) }()

	if m.stopped || m.state != Armed {
		return
	}
	if !m.tracked(role) {
		m.cancelLocked()
		trans = append(trans, m.setLocked(Idle))
		return
	}
	m.role = role
	m.scheduleLocked(m.deadline)
}

// HandleTokenRemoved cancels the countdown after another tab removed the
// token. No logout is performed.
func (m *Monitor) HandleTokenRemoved() {
	m.mu.Lock()
	var trans []transition
	defer func() { m.finish(trans) }()

	if m.stopped || m.state != Armed {
		return
	}
	m.cancelLocked()
	trans = append(trans, m.setLocked(Disarmed), m.setLocked(Idle))
}

// Stop cancels the countdown permanently.
func (m *Monitor) Stop() {
	m.mu.Lock()
	var trans []transition
	defer func() { m.finish(trans) }()

	if m.stopped {
		return
	}
	m.stopped = true
	m.cancelLocked()
	if m.state != Idle {
		trans = append(trans, m.setLocked(Idle))
	}
}

// armLocked sets a fresh deadline from at.
func (m *Monitor) armLocked(at time.Time) {
	m.lastRearmAt = at
	m.deadline = at.Add(m.timeout.Duration())
	m.scheduleLocked(m.deadline)
}

// scheduleLocked replaces the pending timer with one firing at deadline.
func (m *Monitor) scheduleLocked(deadline time.Time) {
	m.cancelLocked()
	gen := m.gen
	d := deadline.Sub(m.clock.Now())
	if d < 0 {
		d = 0
	}
	m.timer = m.clock.AfterFunc(d, func() { m.expire(gen) })
}

// cancelLocked stops the pending timer and invalidates its callback.
func (m *Monitor) cancelLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) setLocked(to State) transition {
	t := transition{from: m.state, to: to}
	m.state = to
	if to == Idle {
		m.deadline = time.Time{}
		m.role = session.RoleNone
	}
	return t
}

// finish releases the lock and reports transitions.
func (m *Monitor) finish(trans []transition) {
	hooks := make([]TransitionFunc, 0, len(m.hooks))
	if len(trans) > 0 {
		for _, fn := range m.hooks {
			hooks = append(hooks, fn)
		}
	}
	m.mu.Unlock()

	for _, t := range trans {
		m.log.Transition(t.from.String(), t.to.String())
		for _, fn := range hooks {
			fn(t.from, t.to)
		}
	}
}

func (m *Monitor) expire(gen uint64) {
	role := m.resolve(m.route())

	m.mu.Lock()
	if m.stopped || gen != m.gen || m.state != Armed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if !m.tracked(role) {
		m.gen++
		m.finish([]transition{m.setLocked(Idle)})
		return
	}
	idle := m.clock.Since(m.lastPulseAt)
	minutes := m.timeout.Minutes
	m.finish([]transition{m.setLocked(Expiring)})

	m.handleLogout(role, idle, minutes)

	m.mu.Lock()
	var trans []transition
	if m.state == Expiring {
		trans = append(trans, m.setLocked(Idle))
	}
	m.finish(trans)
}

// handleLogout ends the session for role. Runs without the lock held.
func (m *Monitor) handleLogout(role session.Role, idle time.Duration, minutes int) {
	m.log.SessionExpired(role.String(), idle)
	m.tracer.RecordLogout(context.Background(), role.String(), minutes)

	switch role {
	case session.RoleAdmin:
		m.clearKeys(session.AdminKeys)
		if m.notifier != nil {
			m.notifier.Warn(AdminExpiredMessage)
		}
		m.announce(role)
		m.nav.Navigate(m.adminLogin)

	case session.RoleStandard:
		if token := store.Lookup(m.store, session.KeyToken); token != "" && m.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), m.logoutTimeout)
			if err := m.recorder.RecordLogout(ctx, token, LogoutReason); err != nil {
				m.log.Warn("logout_record_failed", map[string]interface{}{"error": err.Error()})
			}
			cancel()
		}
		m.clearKeys(session.UserKeys)
		if m.notifier != nil {
			m.notifier.Warn(StandardExpiredMessage)
		}
		m.announce(role)
		m.nav.Navigate(m.landing)
	}
}

func (m *Monitor) clearKeys(keys []string) {
	for _, key := range keys {
		if err := m.store.Remove(key); err != nil {
			m.log.Warn("clear_key_failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

func (m *Monitor) announce(role session.Role) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(bus.SubjectSessionExpired, []byte(role.String())); err != nil {
		m.log.Debug("announce_failed", map[string]interface{}{"error": err.Error()})
	}
}
