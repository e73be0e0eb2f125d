package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements Store on a NATS JetStream KV bucket.
//
// Values are wrapped in an envelope carrying the writer's origin. Removal
// writes a tombstone envelope rather than a KV delete so that watchers can
// tell their own removals apart from other tabs'.
type NATSStore struct {
	kv     jetstream.KeyValue
	origin string
	config NATSStoreConfig
	closed atomic.Bool

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// Origin identifies this view's writes. Required.
	Origin string

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// Timeout bounds each KV round trip.
	// Default: 5s
	Timeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:  "sessionkit",
		History: 1,
		Timeout: 5 * time.Second,
	}
}

type envelope struct {
	Origin  string `json:"origin"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// NewNATSStore opens (creating if needed) the bucket and returns a view on it.
func NewNATSStore(ctx context.Context, cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if cfg.Origin == "" {
		return nil, fmt.Errorf("origin required")
	}
	def := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		History: uint8(cfg.History),
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return newNATSStore(kv, cfg), nil
}

func newNATSStore(kv jetstream.KeyValue, cfg NATSStoreConfig) *NATSStore {
	return &NATSStore{kv: kv, origin: cfg.Origin, config: cfg}
}

// Origin returns the identifier stamped on this view's writes.
func (s *NATSStore) Origin() string {
	return s.origin
}

// Get retrieves a value by key.
func (s *NATSStore) Get(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if s.closed.Load() {
		return "", ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("kv get: %w", err)
	}

	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return "", err
	}
	if env.Deleted {
		return "", ErrNotFound
	}
	return env.Value, nil
}

// Set stores a value.
func (s *NATSStore) Set(key, value string) error {
	return s.put(key, envelope{Origin: s.origin, Value: value})
}

// Remove writes a tombstone for key.
func (s *NATSStore) Remove(key string) error {
	if _, err := s.Get(key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.put(key, envelope{Origin: s.origin, Deleted: true})
}

func (s *NATSStore) put(key string, env envelope) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Keys returns all live keys matching a pattern.
func (s *NATSStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}

	var matched []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			matched = append(matched, key)
		}
	}

	var keys []string
	for _, key := range matched {
		if _, err := s.Get(key); err == nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch delivers changes made by other views to keys matching pattern.
func (s *NATSStore) Watch(pattern string) (<-chan *Change, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	kw, err := s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kv watch: %w", err)
	}

	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	ch := make(chan *Change, 64)
	s.wg.Add(1)
	go s.watchLoop(ctx, kw, ch, pattern)
	return ch, nil
}

func (s *NATSStore) watchLoop(ctx context.Context, kw jetstream.KeyWatcher, ch chan *Change, pattern string) {
	defer s.wg.Done()
	defer close(ch)
	defer kw.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-kw.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			c, ok := s.changeFromEntry(entry, pattern)
			if !ok {
				continue
			}
			select {
			case ch <- c:
			default:
				// Channel full
			}
		}
	}
}

// changeFromEntry converts a KV update into an external Change.
// Own writes, foreign patterns, and undecodable values are skipped.
func (s *NATSStore) changeFromEntry(entry jetstream.KeyValueEntry, pattern string) (*Change, bool) {
	if !MatchPattern(pattern, entry.Key()) {
		return nil, false
	}

	c := &Change{
		Key:      entry.Key(),
		Revision: entry.Revision(),
		Modified: entry.Created(),
	}

	if entry.Operation() != jetstream.KeyValuePut {
		// Raw KV delete or purge made outside this package.
		c.Operation = OpDelete
		return c, true
	}

	env, err := decodeEnvelope(entry.Value())
	if err != nil {
		return nil, false
	}
	if env.Origin == s.origin {
		return nil, false
	}
	c.Origin = env.Origin
	if env.Deleted {
		c.Operation = OpDelete
	} else {
		c.Operation = OpPut
		c.Value = env.Value
	}
	return c, true
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode value: %w", err)
	}
	return env, nil
}

// Close stops every watch. The bucket is left intact.
func (s *NATSStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
