package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"flipmaster/internal/models"

	"github.com/rs/zerolog"
)

// StatsAggregator owns the two persisted counters. It is the only writer of
// those keys.
type StatsAggregator struct {
	store    *Store
	log      zerolog.Logger
	flipsKey string
	winsKey  string

	mu       sync.Mutex
	counters models.Counters
	onChange func(models.StatsView)

	// writeMu orders counter updates with their writes so the store always
	// ends on the latest value.
	writeMu sync.Mutex
}

func NewStatsAggregator(store *Store, prefix string, logger zerolog.Logger) *StatsAggregator {
	return &StatsAggregator{
		store:    store,
		log:      logger.With().Str("component", "stats").Logger(),
		flipsKey: fmt.Sprintf(KeyFlips, prefix),
		winsKey:  fmt.Sprintf(KeyWins, prefix),
	}
}

func (a *StatsAggregator) Keys() (flips, wins string) {
	return a.flipsKey, a.winsKey
}

// Load reads both counters; anything unreadable counts as zero.
func (a *StatsAggregator) Load(ctx context.Context) models.StatsView {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	c := a.read(ctx, models.Counters{}, "persisted counters out of range, clamping")

	a.mu.Lock()
	a.counters = c
	a.mu.Unlock()

	return a.DeriveView(c)
}

// read loads both keys over base and clamps the pair to 0 <= wins <= flips.
func (a *StatsAggregator) read(ctx context.Context, base models.Counters, clampMsg string) models.Counters {
	c := base
	a.store.Read(ctx, a.flipsKey, &c.Flips)
	a.store.Read(ctx, a.winsKey, &c.Wins)

	if !c.Valid() {
		a.log.Warn().Int64("flips", c.Flips).Int64("wins", c.Wins).Msg(clampMsg)
		c = c.Normalize()
	}
	return c
}

// RecordFlip counts one completed round. Persistence is best effort; the
// in-memory counters stay right even when the write fails.
func (a *StatsAggregator) RecordFlip(ctx context.Context, outcome, prediction models.Face) models.StatsView {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	a.counters.Flips++
	if outcome == prediction {
		a.counters.Wins++
	}
	c := a.counters
	a.mu.Unlock()

	if res := a.persist(ctx, c); !res.OK() {
		a.log.Warn().Err(res.Err).Msg("flip recorded in memory only")
	}

	return a.DeriveView(c)
}

func (a *StatsAggregator) Reset(ctx context.Context) models.StatsView {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	a.counters = models.Counters{}
	a.mu.Unlock()

	a.persist(ctx, models.Counters{})

	return a.DeriveView(models.Counters{})
}

func (a *StatsAggregator) View() models.StatsView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.DeriveView(a.counters)
}

func (a *StatsAggregator) Counters() models.Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

func (a *StatsAggregator) DeriveView(c models.Counters) models.StatsView {
	return models.DeriveView(c)
}

// OnChange sets the listener told about counter updates made by other
// contexts.
func (a *StatsAggregator) OnChange(fn func(models.StatsView)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Watch follows both counter keys so another context's flips show up here.
// Either change rereads the pair, since the other context writes the two
// keys one after the other.
func (a *StatsAggregator) Watch(ctx context.Context) Result {
	refresh := func(json.RawMessage) { a.refresh(ctx) }

	if res := a.store.Watch(ctx, a.flipsKey, refresh); !res.OK() {
		return res
	}
	return a.store.Watch(ctx, a.winsKey, refresh)
}

func (a *StatsAggregator) refresh(ctx context.Context) {
	a.writeMu.Lock()
	c := a.read(ctx, a.Counters(), "external counters out of range, clamping")

	a.mu.Lock()
	a.counters = c
	view := a.DeriveView(c)
	fn := a.onChange
	a.mu.Unlock()
	a.writeMu.Unlock()

	if fn != nil {
		fn(view)
	}
}

func (a *StatsAggregator) persist(ctx context.Context, c models.Counters) Result {
	return a.store.WriteMultiple(ctx, map[string]any{
		a.flipsKey: c.Flips,
		a.winsKey:  c.Wins,
	})
}
