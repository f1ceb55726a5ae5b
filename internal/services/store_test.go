package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipmaster/internal/services"
)

// failingBackend fails every call, like an unwritable state directory.
type failingBackend struct{}

var errStorageDisabled = errors.New("storage disabled")

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errStorageDisabled }
func (failingBackend) Set(context.Context, string, []byte) error { return errStorageDisabled }
func (failingBackend) Delete(context.Context, string) error { return errStorageDisabled }
func (failingBackend) Keys(context.Context) ([]string, error) { return nil, errStorageDisabled }
func (failingBackend) Clear(context.Context) error { return errStorageDisabled }
func (failingBackend) Close() error { return nil }
func (failingBackend) Subscribe(context.Context) (<-chan services.Change, error) {
	return nil, errStorageDisabled
}

func TestStoreReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	store := services.NewStore(services.NewMemoryBackend(), zerolog.Nop())

	res := store.Write(ctx, "flipmaster:flips", 7)
	require.True(t, res.OK())

	var flips int64
	res = store.Read(ctx, "flipmaster:flips", &flips)
	require.True(t, res.OK())
	assert.EqualValues(t, 7, flips)

	require.True(t, store.Remove(ctx, "flipmaster:flips").OK())

	flips = 42
	res = store.Read(ctx, "flipmaster:flips", &flips)
	assert.True(t, res.OK())
	assert.True(t, res.Fallback)
	assert.EqualValues(t, 42, flips, "missing key keeps the default")
}

func TestStoreCorruptValueFallsBack(t *testing.T) {
	ctx := context.Background()
	backend := services.NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, "flipmaster:wins", []byte("{not json")))

	store := services.NewStore(backend, zerolog.Nop())

	var wins int64
	res := store.Read(ctx, "flipmaster:wins", &wins)
	assert.False(t, res.OK())
	assert.True(t, res.Fallback)
	assert.Zero(t, wins)
}

func TestStoreUnavailableNeverPanics(t *testing.T) {
	ctx := context.Background()
	store := services.NewStore(failingBackend{}, zerolog.Nop())

	v := 3
	assert.False(t, store.Read(ctx, "k", &v).OK())
	assert.Equal(t, 3, v)
	assert.ErrorIs(t, store.Write(ctx, "k", 1).Err, errStorageDisabled)
	assert.False(t, store.Remove(ctx, "k").OK())
	assert.False(t, store.WriteMultiple(ctx, map[string]any{"a": 1}).OK())
	assert.False(t, store.ClearAll(ctx).OK())

	values, res := store.ReadMultiple(ctx, []string{"a"})
	assert.False(t, res.OK())
	assert.Empty(t, values)

	keys, res := store.ListKeys(ctx)
	assert.False(t, res.OK())
	assert.Empty(t, keys)

	assert.False(t, store.Watch(ctx, "k", func(json.RawMessage) {}).OK())
}

func TestStoreBatchOperations(t *testing.T) {
	ctx := context.Background()
	store := services.NewStore(services.NewMemoryBackend(), zerolog.Nop())

	res := store.WriteMultiple(ctx, map[string]any{
		"flipmaster:flips": 10,
		"flipmaster:wins":  4,
	})
	require.True(t, res.OK())

	values, res := store.ReadMultiple(ctx, []string{"flipmaster:flips", "flipmaster:wins", "flipmaster:missing"})
	require.True(t, res.OK())
	assert.JSONEq(t, "10", string(values["flipmaster:flips"]))
	assert.JSONEq(t, "4", string(values["flipmaster:wins"]))
	assert.JSONEq(t, "null", string(values["flipmaster:missing"]))

	keys, res := store.ListKeys(ctx)
	require.True(t, res.OK())
	assert.Equal(t, []string{"flipmaster:flips", "flipmaster:wins"}, keys)

	require.True(t, store.ClearAll(ctx).OK())
	keys, _ = store.ListKeys(ctx)
	assert.Empty(t, keys)
}

func TestStoreWatchSeesOtherContextsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := services.NewMemoryHub()
	tabA := services.NewStore(hub.Backend(), zerolog.Nop())
	tabB := services.NewStore(hub.Backend(), zerolog.Nop())

	got := make(chan string, 4)
	require.True(t, tabA.Watch(ctx, "flipmaster:flips", func(raw json.RawMessage) {
		got <- string(raw)
	}).OK())

	tabA.Write(ctx, "flipmaster:flips", 1)
	tabB.Write(ctx, "flipmaster:wins", 9)
	tabB.Remove(ctx, "flipmaster:flips")
	tabB.Write(ctx, "flipmaster:flips", 5)

	select {
	case v := <-got:
		assert.Equal(t, "5", v)
	case <-time.After(time.Second):
		t.Fatal("change from the other context was not delivered")
	}

	select {
	case v := <-got:
		t.Fatalf("unexpected extra change %s", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHubLogsDroppedChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	hub := services.NewMemoryHub()
	hub.SetLogger(zerolog.New(&buf))

	reader := hub.Backend()
	changes, err := reader.Subscribe(ctx)
	require.NoError(t, err)

	writer := hub.Backend()
	for i := 0; i < 20; i++ {
		require.NoError(t, writer.Set(ctx, "flipmaster:flips", []byte(strconv.Itoa(i))))
	}

	assert.Len(t, changes, cap(changes))
	assert.Contains(t, buf.String(), "change dropped")
	assert.Contains(t, buf.String(), `"key":"flipmaster:flips"`)
}
