package crosstab

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vinayprograms/sessionkit/policy"
	"github.com/vinayprograms/sessionkit/session"
	"github.com/vinayprograms/sessionkit/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counters struct {
	refreshes  atomic.Int32
	removals   atomic.Int32
	reconciles atomic.Int32
}

func (c *counters) Refresh(context.Context) (policy.Timeout, bool) {
	c.refreshes.Add(1)
	return policy.Default(), false
}

func (c *counters) HandleTokenRemoved() { c.removals.Add(1) }

func (c *counters) Reconcile() { c.reconciles.Add(1) }

type fixture struct {
	other *store.MemoryStore
	local *store.MemoryStore
	c     *counters
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := store.NewMemoryBackend()
	f := &fixture{
		other: backend.Open("tab-a"),
		local: backend.Open("tab-b"),
		c:     &counters{},
	}
	require.NoError(t, f.local.Set(session.KeyAdminToken, "admin-jwt"))
	require.NoError(t, f.local.Set(session.KeyToken, "user-jwt"))

	coord, err := New(Config{
		Store:    f.local,
		Policy:   f.c,
		Monitor:  f.c,
		Presence: f.c,
	})
	require.NoError(t, err)
	require.NoError(t, coord.Start(context.Background()))
	f.coord = coord

	t.Cleanup(func() {
		_ = coord.Stop()
		f.other.Close()
		f.local.Close()
	})
	return f
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

// --- Unit Tests ---

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStartStop_Errors(t *testing.T) {
	s := store.NewMemoryBackend().Open("tab")
	defer s.Close()

	c, err := New(Config{Store: s})
	require.NoError(t, err)
	require.ErrorIs(t, c.Stop(), ErrNotStarted)
	require.NoError(t, c.Start(context.Background()))
	require.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, c.Stop())
}

func TestStart_ClosedStore(t *testing.T) {
	s := store.NewMemoryBackend().Open("tab")
	require.NoError(t, s.Close())

	c, err := New(Config{Store: s})
	require.NoError(t, err)
	require.ErrorIs(t, c.Start(context.Background()), store.ErrClosed)
}

func TestSettingsBroadcast_Refreshes(t *testing.T) {
	f := newFixture(t)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000000000))

	require.NoError(t, Announce(f.other, clock))
	eventually(t, func() bool { return f.c.refreshes.Load() == 1 })

	require.Equal(t, "1700000000000", store.Lookup(f.local, session.KeySettingsUpdated))
}

func TestSettingsBroadcast_RemovalIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, Announce(f.other, nil))
	eventually(t, func() bool { return f.c.refreshes.Load() == 1 })

	require.NoError(t, f.other.Remove(session.KeySettingsUpdated))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), f.c.refreshes.Load())
}

func TestOwnWritesIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, Announce(f.local, nil))
	require.NoError(t, f.local.Remove(session.KeyAdminToken))
	time.Sleep(20 * time.Millisecond)

	require.Zero(t, f.c.refreshes.Load())
	require.Zero(t, f.c.removals.Load())
}

func TestAdminTokenRemoved(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.other.Remove(session.KeyAdminToken))

	eventually(t, func() bool { return f.c.removals.Load() == 1 })
	eventually(t, func() bool { return f.c.reconciles.Load() == 1 })
}

func TestAdminTokenReplaced(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.other.Set(session.KeyAdminToken, "new-admin-jwt"))

	eventually(t, func() bool { return f.c.reconciles.Load() == 1 })
	require.Zero(t, f.c.removals.Load())
}

func TestStandardTokenMutations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.other.Remove(session.KeyToken))
	require.NoError(t, f.other.Set(session.KeyUser, `{"name":"ada"}`))

	eventually(t, func() bool { return f.c.reconciles.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, f.c.removals.Load())
	require.Zero(t, f.c.refreshes.Load())
}

func TestHandle_RemovedThenRestored(t *testing.T) {
	f := newFixture(t)

	// The change arrives after the token was written again.
	f.coord.Handle(context.Background(), &store.Change{
		Key:       session.KeyAdminToken,
		Operation: store.OpDelete,
		Origin:    "tab-a",
	})
	require.Zero(t, f.c.removals.Load())
}
