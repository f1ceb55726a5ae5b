package services

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryHub is process-local storage shared by any number of MemoryBackend
// views. Each view is its own context for change notification.
type MemoryHub struct {
	mu          sync.RWMutex
	data        map[string][]byte
	subscribers map[string]map[chan Change]struct{}
	log         zerolog.Logger
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		data:        make(map[string][]byte),
		subscribers: make(map[string]map[chan Change]struct{}),
		log:         zerolog.Nop(),
	}
}

// SetLogger must be called before any backend view is handed out.
func (h *MemoryHub) SetLogger(logger zerolog.Logger) {
	h.log = logger.With().Str("component", "store").Str("backend", "memory").Logger()
}

func (h *MemoryHub) Backend() *MemoryBackend {
	return &MemoryBackend{hub: h, id: uuid.NewString()}
}

func (h *MemoryHub) publish(origin string, change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, subs := range h.subscribers {
		if id == origin {
			continue
		}
		for ch := range subs {
			select {
			case ch <- change:
			default:
				h.log.Warn().Str("key", change.Key).Msg("subscriber backed up, change dropped")
			}
		}
	}
}

type MemoryBackend struct {
	hub *MemoryHub
	id  string
}

func NewMemoryBackend() *MemoryBackend {
	return NewMemoryHub().Backend()
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()

	data, ok := b.hub.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	stored := append([]byte(nil), value...)

	b.hub.mu.Lock()
	b.hub.data[key] = stored
	b.hub.mu.Unlock()

	b.hub.publish(b.id, Change{Key: key, Value: stored})
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.hub.mu.Lock()
	delete(b.hub.data, key)
	b.hub.mu.Unlock()

	b.hub.publish(b.id, Change{Key: key})
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()

	keys := make([]string, 0, len(b.hub.data))
	for key := range b.hub.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	keys, _ := b.Keys(ctx)

	b.hub.mu.Lock()
	b.hub.data = make(map[string][]byte)
	b.hub.mu.Unlock()

	for _, key := range keys {
		b.hub.publish(b.id, Change{Key: key})
	}
	return nil
}

func (b *MemoryBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)

	b.hub.mu.Lock()
	if b.hub.subscribers[b.id] == nil {
		b.hub.subscribers[b.id] = make(map[chan Change]struct{})
	}
	b.hub.subscribers[b.id][ch] = struct{}{}
	b.hub.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.hub.mu.Lock()
		delete(b.hub.subscribers[b.id], ch)
		b.hub.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
