package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var ErrKeyNotFound = errors.New("key not found")

// Change is a modification made to the backing storage by some other
// store instance. Value is nil when the key was removed.
type Change struct {
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// Backend is the raw durable key-value storage under a Store. Each backend
// value is one context: Subscribe delivers changes made by other contexts
// only.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan Change, error)
	Close() error
}

// Result describes how a best-effort store operation went. A failed Result
// never means the caller should stop; the store has already fallen back.
type Result struct {
	Op       string
	Key      string
	Err      error
	Fallback bool
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Store wraps a Backend with JSON encoding and a degrade-and-log policy:
// nothing returned from here is fatal.
type Store struct {
	backend Backend
	log     zerolog.Logger

	mu       sync.Mutex
	watchers map[string][]func(json.RawMessage)
	feed     context.CancelFunc
}

func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend:  backend,
		log:      logger.With().Str("component", "store").Logger(),
		watchers: make(map[string][]func(json.RawMessage)),
	}
}

// Read decodes the value at key into dst. dst is left untouched when the
// key is missing, unreadable or corrupt, so callers pre-fill it with the
// default.
func (s *Store) Read(ctx context.Context, key string, dst any) Result {
	res := Result{Op: "read", Key: key}

	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		res.Fallback = true
		return res
	}
	if err != nil {
		return s.warn(res, fmt.Errorf("get %s: %w", key, err))
	}

	if err := decodeInto(data, dst); err != nil {
		return s.warn(res, fmt.Errorf("decode %s: %w", key, err))
	}

	return res
}

func (s *Store) Write(ctx context.Context, key string, value any) Result {
	res := Result{Op: "write", Key: key}

	data, err := json.Marshal(value)
	if err != nil {
		return s.warn(res, fmt.Errorf("encode %s: %w", key, err))
	}

	if err := s.backend.Set(ctx, key, data); err != nil {
		return s.warn(res, fmt.Errorf("set %s: %w", key, err))
	}

	return res
}

func (s *Store) Remove(ctx context.Context, key string) Result {
	res := Result{Op: "remove", Key: key}

	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return s.warn(res, fmt.Errorf("delete %s: %w", key, err))
	}

	return res
}

// WriteMultiple encodes every entry first and stops at the first backend
// failure, like a sequence of single writes would.
func (s *Store) WriteMultiple(ctx context.Context, entries map[string]any) Result {
	res := Result{Op: "write_multiple"}

	encoded := make(map[string][]byte, len(entries))
	for key, value := range entries {
		data, err := json.Marshal(value)
		if err != nil {
			res.Key = key
			return s.warn(res, fmt.Errorf("encode %s: %w", key, err))
		}
		encoded[key] = data
	}

	for key, data := range encoded {
		if err := s.backend.Set(ctx, key, data); err != nil {
			res.Key = key
			return s.warn(res, fmt.Errorf("set %s: %w", key, err))
		}
	}

	return res
}

// ReadMultiple returns the raw JSON for every key, with missing keys mapped
// to null. Any failure yields an empty map.
func (s *Store) ReadMultiple(ctx context.Context, keys []string) (map[string]json.RawMessage, Result) {
	res := Result{Op: "read_multiple"}
	values := make(map[string]json.RawMessage, len(keys))

	for _, key := range keys {
		data, err := s.backend.Get(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			values[key] = json.RawMessage("null")
			continue
		}
		if err != nil {
			res.Key = key
			return map[string]json.RawMessage{}, s.warn(res, fmt.Errorf("get %s: %w", key, err))
		}
		if !json.Valid(data) {
			res.Key = key
			return map[string]json.RawMessage{}, s.warn(res, fmt.Errorf("decode %s: invalid JSON", key))
		}
		values[key] = json.RawMessage(data)
	}

	return values, res
}

func (s *Store) ClearAll(ctx context.Context) Result {
	res := Result{Op: "clear"}

	if err := s.backend.Clear(ctx); err != nil {
		return s.warn(res, fmt.Errorf("clear: %w", err))
	}

	return res
}

func (s *Store) ListKeys(ctx context.Context) ([]string, Result) {
	res := Result{Op: "keys"}

	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return []string{}, s.warn(res, fmt.Errorf("keys: %w", err))
	}

	return keys, res
}

// Watch registers fn for changes to key made by other contexts. The change
// feed starts with the first watcher and stops when ctx is done.
func (s *Store) Watch(ctx context.Context, key string, fn func(json.RawMessage)) Result {
	res := Result{Op: "watch", Key: key}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.watchers[key] = append(s.watchers[key], fn)

	if s.feed != nil {
		return res
	}

	feedCtx, cancel := context.WithCancel(ctx)
	changes, err := s.backend.Subscribe(feedCtx)
	if err != nil {
		cancel()
		return s.warn(res, fmt.Errorf("subscribe: %w", err))
	}
	s.feed = cancel

	go s.dispatch(feedCtx, changes)

	return res
}

func (s *Store) dispatch(ctx context.Context, changes <-chan Change) {
	defer func() {
		s.mu.Lock()
		s.feed = nil
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			s.deliver(change)
		}
	}
}

func (s *Store) deliver(change Change) {
	if change.Value == nil {
		return
	}

	if !json.Valid(change.Value) {
		s.log.Warn().Str("key", change.Key).Msg("ignoring unparsable change")
		return
	}

	s.mu.Lock()
	fns := append([]func(json.RawMessage){}, s.watchers[change.Key]...)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(json.RawMessage(change.Value))
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.feed != nil {
		s.feed()
	}
	s.mu.Unlock()

	return s.backend.Close()
}

func (s *Store) warn(res Result, err error) Result {
	res.Err = err
	res.Fallback = true
	s.log.Warn().Err(err).Str("op", res.Op).Str("key", res.Key).Msg("store operation degraded")
	return res
}

// decodeInto rejects syntactically broken payloads before dst is touched.
func decodeInto(data []byte, dst any) error {
	if !json.Valid(data) {
		return errors.New("invalid JSON")
	}
	return json.Unmarshal(data, dst)
}
