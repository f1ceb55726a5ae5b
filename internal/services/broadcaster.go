package services

import "flipmaster/internal/models"

type Broadcaster interface {
	BroadcastRound(event models.RoundEvent)
}

type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastRound(models.RoundEvent) {}

// Broadcasters fans one event out to several listeners.
type Broadcasters []Broadcaster

func (bs Broadcasters) BroadcastRound(event models.RoundEvent) {
	for _, b := range bs {
		b.BroadcastRound(event)
	}
}
