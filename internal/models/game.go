package models

import "time"

type FlipSession struct {
	RoundID       string    `json:"round_id,omitempty"`
	Prediction    Face      `json:"prediction"`
	Phase         Phase     `json:"phase"`
	DisplayedFace Face      `json:"displayed_face"`
	Outcome       Face      `json:"outcome"`
	StartedAt     time.Time `json:"started_at,omitempty"`
}

func NewFlipSession() FlipSession {
	return FlipSession{
		Phase:         PhaseIdle,
		DisplayedFace: FaceHeads,
	}
}

// CanFlip is true only with a prediction in place and no spin underway.
func (s FlipSession) CanFlip() bool {
	return s.Phase == PhasePredicted && s.Prediction != FaceNone
}

type PredictRequest struct {
	Choice Face `json:"choice" binding:"required"`
}
