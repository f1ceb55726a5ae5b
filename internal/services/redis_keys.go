package services

const (
	KeyFlips   = "%s:flips"
	KeyWins    = "%s:wins"
	KeyChanges = "%s:changes"
	KeyPattern = "%s:*"

	DefaultKeyPrefix = "flipmaster"
)
