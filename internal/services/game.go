package services

import (
	"context"
	"crypto/rand"
	"errors"
	mrand "math/rand"
	"sync"
	"time"

	"flipmaster/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

var (
	ErrNoPrediction    = errors.New("select heads or tails first")
	ErrRoundInProgress = errors.New("flip already in progress")
	ErrAssetsLoading   = errors.New("assets still loading")
)

// CoinSource draws a fair outcome. Tests swap in deterministic sources.
type CoinSource interface {
	Flip() models.Face
}

// CryptoCoin draws from crypto/rand; the low bit of a random byte is
// unbiased.
type CryptoCoin struct{}

func (CryptoCoin) Flip() models.Face {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return faceFromBit(mrand.Uint32())
	}
	return faceFromBit(uint32(b[0]))
}

func faceFromBit(v uint32) models.Face {
	if v&1 == 0 {
		return models.FaceHeads
	}
	return models.FaceTails
}

// FlipReporter receives every completed round exactly once.
type FlipReporter interface {
	RecordFlip(ctx context.Context, outcome, prediction models.Face) models.StatsView
}

type AssetGate interface {
	Settled() bool
}

type Timings struct {
	Toggle time.Duration
	Spin   time.Duration
	Report time.Duration
}

var DefaultTimings = Timings{
	Toggle: 250 * time.Millisecond,
	Spin:   2000 * time.Millisecond,
	Report: 100 * time.Millisecond,
}

type GameEngineDeps struct {
	Clock       clock.Clock
	Coin        CoinSource
	Reporter    FlipReporter
	Sounds      SoundPlayer
	Assets      AssetGate
	Broadcaster Broadcaster
	Timings     Timings
	Logger      zerolog.Logger
}

// GameEngine runs the flip rounds: idle -> predicted -> spinning ->
// settled -> idle. Once Flip succeeds the round always runs to the end.
type GameEngine struct {
	clock       clock.Clock
	coin        CoinSource
	reporter    FlipReporter
	sounds      SoundPlayer
	assets      AssetGate
	broadcaster Broadcaster
	timings     Timings
	log         zerolog.Logger

	mu        sync.Mutex
	session   models.FlipSession
	roundDone chan struct{}
}

func NewGameEngine(deps GameEngineDeps) *GameEngine {
	ge := &GameEngine{
		clock:       deps.Clock,
		coin:        deps.Coin,
		reporter:    deps.Reporter,
		sounds:      deps.Sounds,
		assets:      deps.Assets,
		broadcaster: deps.Broadcaster,
		timings:     deps.Timings.withDefaults(),
		log:         deps.Logger.With().Str("component", "game").Logger(),
		session:     models.NewFlipSession(),
	}

	if ge.clock == nil {
		ge.clock = clock.New()
	}
	if ge.coin == nil {
		ge.coin = CryptoCoin{}
	}
	if ge.sounds == nil {
		ge.sounds = NopSoundPlayer{}
	}
	if ge.broadcaster == nil {
		ge.broadcaster = NopBroadcaster{}
	}
	return ge
}

// withDefaults fills every non-positive duration from DefaultTimings.
func (t Timings) withDefaults() Timings {
	if t.Toggle <= 0 {
		t.Toggle = DefaultTimings.Toggle
	}
	if t.Spin <= 0 {
		t.Spin = DefaultTimings.Spin
	}
	if t.Report <= 0 {
		t.Report = DefaultTimings.Report
	}
	return t
}

func (ge *GameEngine) Timings() Timings {
	return ge.timings
}

func (ge *GameEngine) Session() models.FlipSession {
	ge.mu.Lock()
	defer ge.mu.Unlock()
	return ge.session
}

// SelectPrediction records the player's pick and shows it on the coin. It
// may be called again to change the pick until the flip starts.
func (ge *GameEngine) SelectPrediction(choice models.Face) (models.FlipSession, error) {
	if !choice.Valid() {
		return ge.Session(), models.ErrInvalidFace
	}
	if !ge.assetsReady() {
		return ge.Session(), ErrAssetsLoading
	}

	ge.mu.Lock()
	if ge.session.Phase.Locked() {
		snapshot := ge.session
		ge.mu.Unlock()
		return snapshot, ErrRoundInProgress
	}

	if ge.session.RoundID == "" {
		ge.session.RoundID = models.GenerateRoundID()
	}
	ge.session.Prediction = choice
	ge.session.DisplayedFace = choice
	ge.session.Outcome = models.FaceNone
	ge.session.Phase = models.PhasePredicted
	snapshot := ge.session
	ge.mu.Unlock()

	ge.sounds.PlayClick()
	ge.emit(models.EventPhase, snapshot, nil)

	return snapshot, nil
}

// Flip starts the spin. Without a prediction it only nudges the player.
func (ge *GameEngine) Flip(ctx context.Context) (models.FlipSession, error) {
	if !ge.assetsReady() {
		return ge.Session(), ErrAssetsLoading
	}

	ge.mu.Lock()
	if ge.session.Phase.Locked() {
		snapshot := ge.session
		ge.mu.Unlock()
		return snapshot, ErrRoundInProgress
	}
	if !ge.session.CanFlip() {
		snapshot := ge.session
		ge.mu.Unlock()
		ge.emit(models.EventShake, snapshot, nil)
		return snapshot, ErrNoPrediction
	}

	ticker := ge.clock.Ticker(ge.timings.Toggle)
	spinTimer := ge.clock.Timer(ge.timings.Spin)
	done := make(chan struct{})

	ge.session.Phase = models.PhaseSpinning
	ge.session.StartedAt = ge.clock.Now()
	ge.roundDone = done
	snapshot := ge.session
	ge.mu.Unlock()

	ge.sounds.PlayClick()
	ge.sounds.PlaySpin()
	ge.emit(models.EventPhase, snapshot, nil)

	ge.log.Debug().Str("round_id", snapshot.RoundID).Str("prediction", string(snapshot.Prediction)).Msg("flip started")

	go ge.runRound(context.WithoutCancel(ctx), ticker, spinTimer, done)

	return snapshot, nil
}

func (ge *GameEngine) runRound(ctx context.Context, ticker *clock.Ticker, spinTimer *clock.Timer, done chan struct{}) {
	defer close(done)

spin:
	for {
		select {
		case <-ticker.C:
			ge.mu.Lock()
			ge.session.DisplayedFace = ge.session.DisplayedFace.Opposite()
			snapshot := ge.session
			ge.mu.Unlock()
			ge.emit(models.EventFace, snapshot, nil)
		case <-spinTimer.C:
			break spin
		}
	}

	outcome, prediction := ge.resolve(ticker)

	reportTimer := ge.clock.Timer(ge.timings.Report)
	ge.mu.Lock()
	ge.session.Phase = models.PhaseSettled
	snapshot := ge.session
	ge.mu.Unlock()

	ge.sounds.PlayLand()
	ge.emit(models.EventPhase, snapshot, nil)

	<-reportTimer.C
	ge.report(ctx, outcome, prediction)
}

// resolve stops the toggle ticker before the outcome lands so no stray
// face change can follow it.
func (ge *GameEngine) resolve(ticker *clock.Ticker) (outcome, prediction models.Face) {
	ticker.Stop()
	outcome = ge.coin.Flip()

	ge.mu.Lock()
	defer ge.mu.Unlock()

	ge.session.Outcome = outcome
	ge.session.DisplayedFace = outcome
	return outcome, ge.session.Prediction
}

func (ge *GameEngine) report(ctx context.Context, outcome, prediction models.Face) {
	var stats models.StatsView
	if ge.reporter != nil {
		stats = ge.reporter.RecordFlip(ctx, outcome, prediction)
	}

	ge.mu.Lock()
	settled := ge.session
	ge.session.RoundID = ""
	ge.session.Prediction = models.FaceNone
	ge.session.Outcome = models.FaceNone
	ge.session.Phase = models.PhaseIdle
	idle := ge.session
	ge.mu.Unlock()

	ge.log.Info().
		Str("round_id", settled.RoundID).
		Str("prediction", string(prediction)).
		Str("outcome", string(outcome)).
		Bool("win", outcome == prediction).
		Msg("round complete")

	ge.emit(models.EventResult, settled, &stats)
	ge.emit(models.EventPhase, idle, &stats)
}

// Wait blocks until the round in flight, if any, has been reported.
func (ge *GameEngine) Wait(ctx context.Context) error {
	ge.mu.Lock()
	done := ge.roundDone
	ge.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ge *GameEngine) assetsReady() bool {
	return ge.assets == nil || ge.assets.Settled()
}

func (ge *GameEngine) emit(kind models.EventType, session models.FlipSession, stats *models.StatsView) {
	ge.broadcaster.BroadcastRound(models.RoundEvent{
		Type:      kind,
		RoundID:   session.RoundID,
		Session:   session,
		Stats:     stats,
		Timestamp: ge.clock.Now(),
	})
}
