package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidFace = errors.New("invalid face")

func GenerateRoundID() string {
	return fmt.Sprintf("round_%s_%s",
		time.Now().Format("20060102"),
		uuid.NewString())
}

func ParseFace(s string) (Face, error) {
	switch Face(strings.ToLower(strings.TrimSpace(s))) {
	case FaceHeads:
		return FaceHeads, nil
	case FaceTails:
		return FaceTails, nil
	default:
		return FaceNone, fmt.Errorf("%w: %q", ErrInvalidFace, s)
	}
}

func (f Face) Valid() bool {
	return f == FaceHeads || f == FaceTails
}

func (f Face) Opposite() Face {
	switch f {
	case FaceHeads:
		return FaceTails
	case FaceTails:
		return FaceHeads
	default:
		return FaceNone
	}
}

// Glyph is the single-character stand-in used when face images are unavailable.
func (f Face) Glyph() string {
	switch f {
	case FaceHeads:
		return "H"
	case FaceTails:
		return "T"
	default:
		return "?"
	}
}

func DeriveView(c Counters) StatsView {
	c = c.Normalize()

	view := StatsView{
		Flips:  c.Flips,
		Wins:   c.Wins,
		Losses: c.Flips - c.Wins,
	}

	if c.Flips > 0 {
		rate := int(math.Round(100 * float64(c.Wins) / float64(c.Flips)))
		view.WinRatePercent = min(max(rate, 0), 100)
	}

	return view
}
