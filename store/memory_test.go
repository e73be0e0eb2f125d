package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// receive waits briefly for one change on ch.
func receive(t *testing.T, ch <-chan *Change) *Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

// expectNone asserts that ch holds no pending change.
func expectNone(t *testing.T, ch <-chan *Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change: %+v", c)
	default:
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryBackend().Open("tab-a")
	defer s.Close()

	_, err := s.Get("token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SetGet_SharedAcrossViews(t *testing.T) {
	b := NewMemoryBackend()
	a := b.Open("tab-a")
	defer a.Close()
	other := b.Open("tab-b")
	defer other.Close()

	require.NoError(t, a.Set("adminToken", "secret"))

	v, err := other.Get("adminToken")
	require.NoError(t, err)
	require.Equal(t, "secret", v)
	require.True(t, Has(other, "adminToken"))
	require.Equal(t, "", Lookup(other, "token"))
}

func TestMemoryStore_Remove_Missing(t *testing.T) {
	s := NewMemoryBackend().Open("tab-a")
	defer s.Close()

	require.NoError(t, s.Remove("token"))
}

func TestMemoryStore_InvalidKey(t *testing.T) {
	s := NewMemoryBackend().Open("tab-a")
	defer s.Close()

	tests := []string{"", "has space", ".leading", "trailing.", "wild*"}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			require.ErrorIs(t, s.Set(key, "v"), ErrInvalidKey)
			_, err := s.Get(key)
			require.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestMemoryStore_Keys(t *testing.T) {
	s := NewMemoryBackend().Open("tab-a")
	defer s.Close()

	require.NoError(t, s.Set("adminToken", "a"))
	require.NoError(t, s.Set("adminUser", "u"))
	require.NoError(t, s.Set("token", "t"))

	keys, err := s.Keys("admin*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"adminToken", "adminUser"}, keys)

	all, err := s.Keys("*")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryBackend().Open("tab-a")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get("token")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Set("token", "x"), ErrClosed)
	_, err = s.Watch("*")
	require.ErrorIs(t, err, ErrClosed)
}

// ============================================================================
// Watch Tests
// ============================================================================

func TestMemoryStore_Watch_ExternalOnly(t *testing.T) {
	b := NewMemoryBackend()
	a := b.Open("tab-a")
	defer a.Close()
	other := b.Open("tab-b")
	defer other.Close()

	own, err := a.Watch("*")
	require.NoError(t, err)
	ext, err := other.Watch("*")
	require.NoError(t, err)

	require.NoError(t, a.Set("settingsUpdatedAt", "1700000000000"))

	c := receive(t, ext)
	require.Equal(t, "settingsUpdatedAt", c.Key)
	require.Equal(t, "1700000000000", c.Value)
	require.Equal(t, OpPut, c.Operation)
	require.Equal(t, "tab-a", c.Origin)
	expectNone(t, own)
}

func TestMemoryStore_Watch_Remove(t *testing.T) {
	b := NewMemoryBackend()
	a := b.Open("tab-a")
	defer a.Close()
	other := b.Open("tab-b")
	defer other.Close()

	require.NoError(t, a.Set("adminToken", "secret"))
	ch, err := other.Watch("adminToken")
	require.NoError(t, err)

	require.NoError(t, a.Remove("adminToken"))
	c := receive(t, ch)
	require.Equal(t, OpDelete, c.Operation)
	require.Empty(t, c.Value)

	// Removing an absent key is silent.
	require.NoError(t, a.Remove("adminToken"))
	expectNone(t, ch)
}

func TestMemoryStore_Watch_Pattern(t *testing.T) {
	b := NewMemoryBackend()
	a := b.Open("tab-a")
	defer a.Close()
	other := b.Open("tab-b")
	defer other.Close()

	ch, err := other.Watch("admin*")
	require.NoError(t, err)

	require.NoError(t, a.Set("token", "t"))
	require.NoError(t, a.Set("adminUser", "root"))

	c := receive(t, ch)
	require.Equal(t, "adminUser", c.Key)
	expectNone(t, ch)
}

func TestMemoryStore_Watch_RevisionsIncrease(t *testing.T) {
	b := NewMemoryBackend()
	a := b.Open("tab-a")
	defer a.Close()
	other := b.Open("tab-b")
	defer other.Close()

	ch, err := other.Watch("*")
	require.NoError(t, err)

	require.NoError(t, a.Set("token", "1"))
	require.NoError(t, a.Set("token", "2"))

	first := receive(t, ch)
	second := receive(t, ch)
	require.Less(t, first.Revision, second.Revision)
}

func TestMemoryStore_Close_ClosesWatch(t *testing.T) {
	b := NewMemoryBackend()
	a := b.Open("tab-a")
	defer a.Close()
	other := b.Open("tab-b")

	ch, err := other.Watch("*")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	_, ok := <-ch
	require.False(t, ok)

	// Writes after close do not reach the closed view.
	require.NoError(t, a.Set("token", "x"))
	require.Equal(t, map[string]string{"token": "x"}, b.Snapshot())
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"*", "token", true},
		{"admin*", "adminToken", true},
		{"admin*", "token", false},
		{"token", "token", true},
		{"token", "tokens", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, MatchPattern(tt.pattern, tt.key), "%s vs %s", tt.pattern, tt.key)
	}
}

func TestOperation_String(t *testing.T) {
	require.Equal(t, "put", OpPut.String())
	require.Equal(t, "delete", OpDelete.String())
	require.Equal(t, "unknown", Operation(9).String())
}
