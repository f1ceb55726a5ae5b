package services

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

const (
	SampleRate = 44100
	masterGain = 0.3
)

type Waveform int

const (
	WaveSine Waveform = iota
	WaveSquare
	WaveTriangle
)

// Tone is one synthesized effect: a frequency sweep with an exponential
// gain envelope running from StartGain down to EndGain.
type Tone struct {
	Wave      Waveform
	StartFreq float64
	EndFreq   float64
	Duration  time.Duration
	StartGain float64
	EndGain   float64
}

var (
	ClickTone = Tone{Wave: WaveSquare, StartFreq: 800, EndFreq: 800, Duration: 100 * time.Millisecond, StartGain: 0.3, EndGain: 0.01}
	SpinTone  = Tone{Wave: WaveSine, StartFreq: 400, EndFreq: 800, Duration: 2 * time.Second, StartGain: 0.2, EndGain: 0.01}
	LandTone  = Tone{Wave: WaveTriangle, StartFreq: 800, EndFreq: 200, Duration: 300 * time.Millisecond, StartGain: 0.4, EndGain: 0.01}
)

// Render produces signed 16-bit little-endian mono PCM. Frequencies sweep
// exponentially between the endpoints and the phase is accumulated so the
// sweep stays continuous.
func (t Tone) Render(sampleRate int) []byte {
	n := int(t.Duration.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}

	buf := new(bytes.Buffer)
	buf.Grow(n * 2)

	phase := 0.0
	for i := 0; i < n; i++ {
		progress := float64(i) / float64(n)
		freq := t.StartFreq * math.Pow(t.EndFreq/t.StartFreq, progress)
		gain := t.StartGain * math.Pow(t.EndGain/t.StartGain, progress)

		phase += freq / float64(sampleRate)
		phase -= math.Floor(phase)

		v := t.Wave.sample(phase) * gain * masterGain
		binary.Write(buf, binary.LittleEndian, int16(v*math.MaxInt16))
	}

	return buf.Bytes()
}

// sample evaluates the waveform at phase in [0, 1).
func (w Waveform) sample(phase float64) float64 {
	switch w {
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveTriangle:
		return 1 - 4*math.Abs(phase-0.5)
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

type SpinHandle interface {
	Stop()
}

// SoundPlayer is fire-and-forget: nothing here reports failure.
type SoundPlayer interface {
	PlayClick()
	PlaySpin() SpinHandle
	PlayLand()
}

type NopSoundPlayer struct{}

func (NopSoundPlayer) PlayClick()           {}
func (NopSoundPlayer) PlaySpin() SpinHandle { return nopSpin{} }
func (NopSoundPlayer) PlayLand()            {}

type nopSpin struct{}

func (nopSpin) Stop() {}

var (
	audioOnce sync.Once
	audioCtx  *oto.Context
	audioErr  error
)

// audioContext creates the process-wide device context on first use. It is
// never torn down.
func audioContext() (*oto.Context, error) {
	audioOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond,
		})
		if err != nil {
			audioErr = err
			return
		}
		<-ready
		audioCtx = ctx
	})
	return audioCtx, audioErr
}

// OtoSoundPlayer plays effects through the shared device context. Buffers
// are rendered once per player.
type OtoSoundPlayer struct {
	log zerolog.Logger

	renderOnce sync.Once
	click      []byte
	spin       []byte
	land       []byte

	warnOnce sync.Once
}

func NewOtoSoundPlayer(logger zerolog.Logger) *OtoSoundPlayer {
	return &OtoSoundPlayer{log: logger.With().Str("component", "sound").Logger()}
}

func (p *OtoSoundPlayer) render() {
	p.renderOnce.Do(func() {
		p.click = ClickTone.Render(SampleRate)
		p.spin = SpinTone.Render(SampleRate)
		p.land = LandTone.Render(SampleRate)
	})
}

func (p *OtoSoundPlayer) PlayClick() {
	p.play(func() []byte { return p.click })
}

func (p *OtoSoundPlayer) PlaySpin() SpinHandle {
	player := p.play(func() []byte { return p.spin })
	if player == nil {
		return nopSpin{}
	}
	return &otoSpin{player: player}
}

func (p *OtoSoundPlayer) PlayLand() {
	p.play(func() []byte { return p.land })
}

func (p *OtoSoundPlayer) play(buffer func() []byte) *oto.Player {
	ctx, err := audioContext()
	if err != nil {
		p.warnOnce.Do(func() {
			p.log.Debug().Err(err).Msg("audio unavailable, sounds disabled")
		})
		return nil
	}

	p.render()

	player := ctx.NewPlayer(bytes.NewReader(buffer()))
	player.Play()

	go func() {
		for player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		player.Close()
	}()

	return player
}

type otoSpin struct {
	once   sync.Once
	player *oto.Player
}

func (s *otoSpin) Stop() {
	s.once.Do(func() {
		s.player.Pause()
	})
}
