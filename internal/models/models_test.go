package models_test

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"flipmaster/internal/models"
)

func TestModels(t *testing.T) {
	id := models.GenerateRoundID()
	if !strings.HasPrefix(id, "round_") {
		t.Errorf("Round ID should start with round_, got %s", id)
	}

	if id == models.GenerateRoundID() {
		t.Error("Round IDs should be unique")
	}

	session := models.NewFlipSession()
	if session.Phase != models.PhaseIdle {
		t.Errorf("Expected idle phase, got %s", session.Phase)
	}
	if session.CanFlip() {
		t.Error("A fresh session must not be flippable")
	}

	session.Prediction = models.FaceTails
	session.Phase = models.PhasePredicted
	if !session.CanFlip() {
		t.Error("A predicted session should be flippable")
	}

	face, err := models.ParseFace(" Heads ")
	if err != nil || face != models.FaceHeads {
		t.Errorf("Expected heads, got %q (%v)", face, err)
	}

	if _, err := models.ParseFace("edge"); !errors.Is(err, models.ErrInvalidFace) {
		t.Errorf("Expected ErrInvalidFace, got %v", err)
	}

	if models.FaceHeads.Opposite() != models.FaceTails || models.FaceTails.Glyph() != "T" {
		t.Error("Face helpers returned unexpected values")
	}
}

func TestDeriveView(t *testing.T) {
	cases := []struct {
		name     string
		counters models.Counters
		want     models.StatsView
	}{
		{"empty", models.Counters{}, models.StatsView{}},
		{"all wins", models.Counters{Flips: 1, Wins: 1}, models.StatsView{Flips: 1, Wins: 1, WinRatePercent: 100}},
		{"all losses", models.Counters{Flips: 1}, models.StatsView{Flips: 1, Losses: 1}},
		{"rounds half up", models.Counters{Flips: 8, Wins: 5}, models.StatsView{Flips: 8, Wins: 5, Losses: 3, WinRatePercent: 63}},
		{"thirds", models.Counters{Flips: 3, Wins: 1}, models.StatsView{Flips: 3, Wins: 1, Losses: 2, WinRatePercent: 33}},
		{"wins clamped", models.Counters{Flips: 2, Wins: 5}, models.StatsView{Flips: 2, Wins: 2, WinRatePercent: 100}},
		{"negatives clamped", models.Counters{Flips: -4, Wins: -1}, models.StatsView{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := models.DeriveView(tc.counters); got != tc.want {
				t.Errorf("DeriveView(%+v) = %+v, want %+v", tc.counters, got, tc.want)
			}
		})
	}
}

func TestDeriveViewInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		flips := rng.Int63n(10000)
		wins := int64(0)
		if flips > 0 {
			wins = rng.Int63n(flips + 1)
		}

		view := models.DeriveView(models.Counters{Flips: flips, Wins: wins})
		if view.Flips != view.Wins+view.Losses {
			t.Fatalf("flips != wins + losses for %+v", view)
		}
		if view.WinRatePercent < 0 || view.WinRatePercent > 100 {
			t.Fatalf("win rate out of range for %+v", view)
		}
	}
}
