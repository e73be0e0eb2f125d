package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 10*time.Second, cfg.Timeout)
	require.Equal(t, PhaseRelease, cfg.DefaultPhase)
	require.True(t, cfg.ContinueOnError)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero", Config{}, false},
		{"negative timeout", Config{Timeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestShutdown_PhaseOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	coord.RegisterFuncWithPhase("store", record("store"), PhaseRelease)
	coord.RegisterFuncWithPhase("presence", record("presence"), PhasePresence)
	coord.RegisterFuncWithPhase("activity", record("activity"), PhaseDetach)
	coord.RegisterFuncWithPhase("monitor", record("monitor"), PhaseTimers)

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	require.Equal(t, []string{"activity", "monitor", "presence", "store"}, order)

	result := coord.Result()
	require.NotNil(t, result)
	require.Len(t, result.Results, 4)
	require.False(t, result.Failed())
	require.NoError(t, coord.Err())
}

func TestShutdown_SamePhaseConcurrent(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	coord.RegisterFuncWithPhase("monitor", barrier, PhaseTimers)
	coord.RegisterFuncWithPhase("policy", barrier, PhaseTimers)

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
}

func TestShutdown_DefaultPhase(t *testing.T) {
	coord := NewCoordinator(Config{})

	coord.RegisterFunc("late", func(context.Context) error { return nil })
	require.NoError(t, coord.ShutdownWithTimeout(0))
	require.Equal(t, PhaseRelease, coord.Result().Results[0].Phase)
}

func TestShutdown_HandlerErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("continue", func(t *testing.T) {
		coord := NewCoordinator(DefaultConfig())
		var later atomic.Bool
		coord.RegisterFuncWithPhase("presence", func(context.Context) error { return boom }, PhasePresence)
		coord.RegisterFuncWithPhase("store", func(context.Context) error { later.Store(true); return nil }, PhaseRelease)

		err := coord.ShutdownWithTimeout(time.Second)
		require.ErrorIs(t, err, ErrHandlerFailed)
		require.ErrorIs(t, err, boom)
		require.True(t, later.Load())
		require.Equal(t, []string{"presence"}, coord.Result().FailedHandlers())
	})

	t.Run("stop", func(t *testing.T) {
		coord := NewCoordinator(Config{ContinueOnError: false})
		var later atomic.Bool
		coord.RegisterFuncWithPhase("presence", func(context.Context) error { return boom }, PhasePresence)
		coord.RegisterFuncWithPhase("store", func(context.Context) error { later.Store(true); return nil }, PhaseRelease)

		require.ErrorIs(t, coord.ShutdownWithTimeout(time.Second), ErrHandlerFailed)
		require.False(t, later.Load())
	})
}

func TestShutdown_Timeout(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var later atomic.Bool
	coord.RegisterFuncWithPhase("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, PhaseDetach)
	coord.RegisterFuncWithPhase("store", func(context.Context) error { later.Store(true); return nil }, PhaseRelease)

	err := coord.ShutdownWithTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, later.Load())
}

func TestShutdown_Once(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var calls atomic.Int32
	coord.RegisterFunc("count", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	require.ErrorIs(t, coord.ShutdownWithTimeout(time.Second), ErrAlreadyShutdown)
	require.Equal(t, int32(1), calls.Load())
}

func TestShutdown_Empty(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	require.Nil(t, coord.Result())
	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	require.Empty(t, coord.Result().Results)
}

func TestShutdown_Durations(t *testing.T) {
	clock := clockwork.NewFakeClock()
	coord := NewCoordinator(Config{Clock: clock})
	coord.RegisterFunc("tick", func(context.Context) error {
		clock.Advance(3 * time.Second)
		return nil
	})

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	result := coord.Result()
	require.Equal(t, 3*time.Second, result.Results[0].Duration)
	require.Equal(t, 3*time.Second, result.TotalDuration)
}

func TestHandleSignals(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var called atomic.Bool
	coord.RegisterFunc("test", func(context.Context) error {
		called.Store(true)
		return nil
	})

	stop := coord.handle(context.Background(), syscall.SIGUSR2)
	defer stop()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))

	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete after signal")
	}
	require.True(t, called.Load())
}

func TestHandleSignals_Stop(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	stop := coord.HandleSignals(context.Background())
	stop()
	stop()

	select {
	case <-coord.Done():
		t.Fatal("stop must not trigger shutdown")
	default:
	}
}

func TestGroupByPhase(t *testing.T) {
	require.Nil(t, groupByPhase(nil))

	groups := groupByPhase([]registration{
		{name: "a", phase: PhaseDetach},
		{name: "b", phase: PhaseDetach},
		{name: "c", phase: PhaseTimers},
	})
	require.Len(t, groups, 2)
	require.Len(t, groups[0], 2)
	require.Equal(t, "c", groups[1][0].name)
}
