package activity

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/sessionkit/page"
)

type fixture struct {
	page     *page.Page
	clock    *clockwork.FakeClock
	eligible bool
	pulses   []Pulse
	c        *Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		page:     page.New("/admin/settings"),
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		eligible: true,
	}
	c, err := New(Config{
		Target:   f.page,
		Eligible: func() bool { return f.eligible },
		Sink:     func(p Pulse) { f.pulses = append(f.pulses, p) },
		Clock:    f.clock,
	})
	require.NoError(t, err)
	f.c = c
	return f
}

func (f *fixture) dispatch(typ string) {
	f.page.Dispatch(page.Event{Type: typ})
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{
		Target:   page.New("/"),
		Eligible: func() bool { return true },
		Sink:     func(Pulse) {},
		Throttle: -time.Second,
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAttach_TrackedEventsOnly(t *testing.T) {
	f := newFixture(t)
	f.c.Attach()

	for _, typ := range TrackedEvents {
		require.Equal(t, 1, f.page.ListenerCount(typ), typ)
	}
	for _, typ := range []string{page.EventPointerMove, page.EventScroll, page.EventWheel} {
		require.Zero(t, f.page.ListenerCount(typ), typ)
	}
}

func TestAttach_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.c.Attach()
	f.c.Attach()
	require.Equal(t, 1, f.page.ListenerCount(page.EventClick))

	f.c.Detach()
	f.c.Detach()
	require.Zero(t, f.page.ListenerCount(page.EventClick))
	require.False(t, f.c.Attached())

	// Re-attach after teardown works.
	f.c.Attach()
	require.True(t, f.c.Attached())
	f.dispatch(page.EventKeyDown)
	require.Len(t, f.pulses, 1)
}

func TestHandle_Throttle(t *testing.T) {
	f := newFixture(t)
	f.c.Attach()

	start := f.clock.Now()
	f.dispatch(page.EventClick)
	f.clock.Advance(500 * time.Millisecond)
	f.dispatch(page.EventKeyDown)
	f.clock.Advance(499 * time.Millisecond)
	f.dispatch(page.EventTouchStart)
	f.clock.Advance(time.Millisecond)
	f.dispatch(page.EventFocus)

	require.Len(t, f.pulses, 2)
	require.Equal(t, start, f.pulses[0].OccurredAt)
	require.Equal(t, start.Add(time.Second), f.pulses[1].OccurredAt)
}

func TestHandle_IgnoredEvents(t *testing.T) {
	f := newFixture(t)
	f.c.Attach()

	f.dispatch(page.EventPointerMove)
	f.dispatch(page.EventScroll)
	f.dispatch(page.EventWheel)
	require.Empty(t, f.pulses)
}

func TestHandle_IneligibleDiscarded(t *testing.T) {
	f := newFixture(t)
	f.c.Attach()

	f.eligible = false
	f.dispatch(page.EventClick)
	require.Empty(t, f.pulses)

	// A discarded event does not consume the throttle window.
	f.eligible = true
	f.dispatch(page.EventClick)
	require.Len(t, f.pulses, 1)
}

func TestHandle_Detached(t *testing.T) {
	f := newFixture(t)
	f.dispatch(page.EventClick)
	require.Empty(t, f.pulses)
}
