package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FileBackend keeps every key in one JSON document on disk. Values are
// stored as strings so a corrupt value for one key does not spoil the rest
// of the document.
type FileBackend struct {
	path     string
	interval time.Duration
	clock    clock.Clock

	mu       sync.Mutex
	snapshot map[string]string
}

func NewFileBackend(path string, pollInterval time.Duration, clk clock.Clock) (*FileBackend, error) {
	if clk == nil {
		clk = clock.New()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	b := &FileBackend{
		path:     path,
		interval: pollInterval,
		clock:    clk,
	}

	// An unreadable document surfaces on the first Get; it is not fatal here.
	doc, err := b.load()
	if err != nil {
		doc = map[string]string{}
	}
	b.snapshot = doc

	return b, nil
}

func (b *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	doc := map[string]string{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	return doc, nil
}

func (b *FileBackend) save(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".flipmaster-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// mutate applies fn to the current on-disk document and persists it. A
// document that no longer parses is replaced.
func (b *FileBackend) mutate(fn func(doc map[string]string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		doc = map[string]string{}
	}

	fn(doc)

	if err := b.save(doc); err != nil {
		return err
	}
	b.snapshot = doc
	return nil
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, err
	}

	value, ok := doc[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return []byte(value), nil
}

func (b *FileBackend) Set(_ context.Context, key string, value []byte) error {
	return b.mutate(func(doc map[string]string) {
		doc[key] = string(value)
	})
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	return b.mutate(func(doc map[string]string) {
		delete(doc, key)
	})
}

func (b *FileBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *FileBackend) Clear(_ context.Context) error {
	return b.mutate(func(doc map[string]string) {
		for key := range doc {
			delete(doc, key)
		}
	})
}

// Subscribe polls the file and reports keys whose value differs from what
// this backend last saw. Writes made through this backend update that view
// first, so they are never reported back.
func (b *FileBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)
	ticker := b.clock.Ticker(b.interval)

	go func() {
		defer close(ch)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, change := range b.poll() {
					select {
					case ch <- change:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func (b *FileBackend) poll() []Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil
	}

	var changes []Change
	for key, value := range doc {
		if old, ok := b.snapshot[key]; !ok || old != value {
			changes = append(changes, Change{Key: key, Value: []byte(value)})
		}
	}
	for key := range b.snapshot {
		if _, ok := doc[key]; !ok {
			changes = append(changes, Change{Key: key})
		}
	}

	b.snapshot = doc
	return changes
}

func (b *FileBackend) Close() error {
	return nil
}
