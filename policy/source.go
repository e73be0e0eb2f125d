package policy

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vinayprograms/sessionkit/bus"
	skerrors "github.com/vinayprograms/sessionkit/errors"
	"github.com/vinayprograms/sessionkit/logging"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/store"
)

// Config configures a Source.
type Config struct {
	// Fetcher reads settings from the backend. Required.
	Fetcher SettingsFetcher

	// Store supplies the tokens used to pick the endpoint. Required.
	Store store.Store

	// Role reports the role governing the current route. Required.
	Role func() session.Role

	// Bus delivers in-page policy update announcements. Optional.
	Bus bus.MessageBus

	// Clock drives the poll timer. Default: real clock.
	Clock clockwork.Clock

	// Logger receives fetch failures and changes. Default: discard.
	Logger *logging.Logger

	// Default is the policy held before the first accepted fetch.
	// Default: 30 minutes
	Default Timeout

	// RefreshInterval between polls.
	// Default: 2 minutes
	RefreshInterval time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Fetcher == nil || c.Store == nil || c.Role == nil {
		return ErrInvalidConfig
	}
	if c.Default.Minutes != 0 && Validate(c.Default.Minutes) != nil {
		return ErrInvalidConfig
	}
	return nil
}

// Source fetches, validates, and publishes the timeout policy.
type Source struct {
	fetcher  SettingsFetcher
	store    store.Store
	role     func() session.Role
	bus      bus.MessageBus
	clock    clockwork.Clock
	log      *logging.Logger
	interval time.Duration

	mu        sync.Mutex
	current   Timeout
	seq       uint64
	listeners map[int]ChangeFunc
	nextID    int

	// notifyMu serializes listener calls; sent and sentSeq are the last
	// delivered policy and its change sequence.
	notifyMu sync.Mutex
	sent     Timeout
	sentSeq  uint64

	running  bool
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	timer    clockwork.Timer
	sub      bus.Subscription
	inflight sync.WaitGroup
}

// New creates a Source holding the default policy.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Default.Minutes == 0 {
		cfg.Default = Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Source{
		fetcher:   cfg.Fetcher,
		store:     cfg.Store,
		role:      cfg.Role,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		log:       cfg.Logger.WithComponent("policy"),
		interval:  cfg.RefreshInterval,
		current:   cfg.Default,
		sent:      cfg.Default,
		listeners: make(map[int]ChangeFunc),
	}, nil
}

// Current returns the held policy.
func (s *Source) Current() Timeout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers fn to run after every accepted change.
func (s *Source) OnChange(fn ChangeFunc) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Fetch reads the policy for role. It picks the authenticated endpoint when
// role has a token and the public endpoint otherwise. Any failure returns
// the held policy. Fetch never changes the held policy.
func (s *Source) Fetch(ctx context.Context, role session.Role) Timeout {
	held := s.Current()
	token := session.TokenFor(s.store, role)

	settings, err := s.fetcher.FetchSettings(ctx, token)
	if err != nil {
		switch {
		case skerrors.Is(err, skerrors.ErrCodeCanceled):
		case skerrors.IsPermanent(err):
			s.log.PolicyRejected("malformed", err)
		default:
			s.log.Warn("policy_fetch_failed", map[string]interface{}{
				"role":  role.String(),
				"error": err.Error(),
			})
		}
		return held
	}

	if err := Validate(settings.SessionTimeout); err != nil {
		s.log.PolicyRejected("out_of_range", err)
		return held
	}
	return Timeout{Minutes: settings.SessionTimeout}
}

// Refresh fetches with the current role and adopts the result when it
// differs from the held policy. It reports whether the policy changed.
func (s *Source) Refresh(ctx context.Context) (Timeout, bool) {
	next := s.Fetch(ctx, s.role())

	s.mu.Lock()
	old := s.current
	if next == old {
		s.mu.Unlock()
		return old, false
	}
	s.current = next
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.log.PolicyChanged(old.Minutes, next.Minutes)
	s.notify(seq, next)
	return next, true
}

// notify delivers change seq to the listeners, one change at a time. A
// change older than the last delivered one is dropped, so listeners
// always end on the held policy even when refreshes overlap.
func (s *Source) notify(seq uint64, next Timeout) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if seq <= s.sentSeq {
		return
	}
	s.sentSeq = seq
	old := s.sent
	if next == old {
		return
	}
	s.sent = next

	s.mu.Lock()
	fns := make([]ChangeFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(old, next)
	}
}

// Start refreshes once, then on every poll interval and every bus
// announcement, until Stop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if s.bus != nil {
		sub, err := s.bus.Subscribe(bus.SubjectPolicyUpdated)
		if err != nil {
			return skerrors.Wrap(err, "subscribe to policy updates")
		}
		s.sub = sub
	}

	s.running = true
	s.gen++
	s.ctx, s.cancel = context.WithCancel(ctx)

	gen, runCtx := s.gen, s.ctx
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.Refresh(runCtx)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.scheduleLocked(gen)
	}()

	if s.sub != nil {
		s.inflight.Add(1)
		go s.listen(s.ctx, s.sub)
	}
	return nil
}

// scheduleLocked arms the next poll. Must be called with s.mu held.
func (s *Source) scheduleLocked(gen uint64) {
	if !s.running || gen != s.gen {
		return
	}
	s.timer = s.clock.AfterFunc(s.interval, func() { s.poll(gen) })
}

func (s *Source) poll(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.inflight.Done()

	s.Refresh(ctx)

	s.mu.Lock()
	s.scheduleLocked(gen)
	s.mu.Unlock()
}

func (s *Source) listen(ctx context.Context, sub bus.Subscription) {
	defer s.inflight.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.Refresh(ctx)
		}
	}
}

// Stop cancels the poll and the bus subscription and waits for in-flight
// refreshes to return.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	s.gen++
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	s.inflight.Wait()
	return nil
}
