package models

type Counters struct {
	Flips int64 `json:"flips"`
	Wins  int64 `json:"wins"`
}

// Normalize clamps counters to 0 <= wins <= flips.
func (c Counters) Normalize() Counters {
	if c.Flips < 0 {
		c.Flips = 0
	}
	if c.Wins < 0 {
		c.Wins = 0
	}
	if c.Wins > c.Flips {
		c.Wins = c.Flips
	}
	return c
}

func (c Counters) Valid() bool {
	return c == c.Normalize()
}

type StatsView struct {
	Flips          int64 `json:"flips"`
	Wins           int64 `json:"wins"`
	Losses         int64 `json:"losses"`
	WinRatePercent int   `json:"win_rate_percent"`
}
