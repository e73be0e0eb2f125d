package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Unit tests for nats.go that don't require a NATS server
// ============================================================================

type fakeEntry struct {
	key   string
	value []byte
	rev   uint64
	op    jetstream.KeyValueOp
}

func (e fakeEntry) Bucket() string                  { return "sessionkit" }
func (e fakeEntry) Key() string                     { return e.key }
func (e fakeEntry) Value() []byte                   { return e.value }
func (e fakeEntry) Revision() uint64                { return e.rev }
func (e fakeEntry) Created() time.Time              { return time.Unix(1700000000, 0) }
func (e fakeEntry) Delta() uint64                   { return 0 }
func (e fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

func encode(t *testing.T, env envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestDefaultNATSStoreConfig(t *testing.T) {
	cfg := DefaultNATSStoreConfig()
	require.Equal(t, "sessionkit", cfg.Bucket)
	require.Equal(t, 1, cfg.History)
	require.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestNewNATSStore_Validation(t *testing.T) {
	_, err := NewNATSStore(t.Context(), NATSStoreConfig{Origin: "tab-a"})
	require.Error(t, err)
}

func TestNATSStore_ChangeFromEntry(t *testing.T) {
	s := newNATSStore(nil, NATSStoreConfig{Origin: "tab-a"})

	tests := []struct {
		name   string
		entry  fakeEntry
		want   *Change
		accept bool
	}{
		{
			name:   "foreign put",
			entry:  fakeEntry{key: "settingsUpdatedAt", value: encode(t, envelope{Origin: "tab-b", Value: "42"}), rev: 7, op: jetstream.KeyValuePut},
			want:   &Change{Key: "settingsUpdatedAt", Value: "42", Operation: OpPut, Origin: "tab-b", Revision: 7},
			accept: true,
		},
		{
			name:   "foreign tombstone",
			entry:  fakeEntry{key: "adminToken", value: encode(t, envelope{Origin: "tab-b", Deleted: true}), rev: 8, op: jetstream.KeyValuePut},
			want:   &Change{Key: "adminToken", Operation: OpDelete, Origin: "tab-b", Revision: 8},
			accept: true,
		},
		{
			name:  "own write skipped",
			entry: fakeEntry{key: "token", value: encode(t, envelope{Origin: "tab-a", Value: "x"}), op: jetstream.KeyValuePut},
		},
		{
			name:  "undecodable skipped",
			entry: fakeEntry{key: "token", value: []byte("not json"), op: jetstream.KeyValuePut},
		},
		{
			name:   "raw delete",
			entry:  fakeEntry{key: "token", rev: 9, op: jetstream.KeyValueDelete},
			want:   &Change{Key: "token", Operation: OpDelete, Revision: 9},
			accept: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.changeFromEntry(tt.entry, "*")
			require.Equal(t, tt.accept, ok)
			if !tt.accept {
				return
			}
			require.Equal(t, tt.want.Key, got.Key)
			require.Equal(t, tt.want.Value, got.Value)
			require.Equal(t, tt.want.Operation, got.Operation)
			require.Equal(t, tt.want.Origin, got.Origin)
			require.Equal(t, tt.want.Revision, got.Revision)
		})
	}
}

func TestNATSStore_ChangeFromEntry_Pattern(t *testing.T) {
	s := newNATSStore(nil, NATSStoreConfig{Origin: "tab-a"})
	entry := fakeEntry{key: "token", value: encode(t, envelope{Origin: "tab-b", Value: "x"}), op: jetstream.KeyValuePut}

	_, ok := s.changeFromEntry(entry, "admin*")
	require.False(t, ok)
}

func TestNATSStore_Closed(t *testing.T) {
	s := newNATSStore(nil, NATSStoreConfig{Origin: "tab-a"})
	require.NoError(t, s.Close())

	_, err := s.Get("token")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Set("token", "x"), ErrClosed)
	_, err = s.Keys("*")
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Watch("*")
	require.ErrorIs(t, err, ErrClosed)
}

func TestNATSStore_InvalidKey(t *testing.T) {
	s := newNATSStore(nil, NATSStoreConfig{Origin: "tab-a"})
	_, err := s.Get("")
	require.ErrorIs(t, err, ErrInvalidKey)
}
