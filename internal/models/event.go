package models

import "time"

type EventType string

const (
	EventPhase  EventType = "PHASE"
	EventFace   EventType = "FACE"
	EventShake  EventType = "SHAKE"
	EventResult EventType = "RESULT"
	EventStats  EventType = "STATS"
)

type RoundEvent struct {
	Type      EventType   `json:"type"`
	RoundID   string      `json:"round_id,omitempty"`
	Session   FlipSession `json:"session"`
	Stats     *StatsView  `json:"stats,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
