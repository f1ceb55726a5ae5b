package models

type Face string

const (
	FaceNone  Face = ""
	FaceHeads Face = "heads"
	FaceTails Face = "tails"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePredicted Phase = "predicted"
	PhaseSpinning  Phase = "spinning"
	PhaseSettled   Phase = "settled"
)

// Locked reports whether the round has passed the point where the
// prediction can still change.
func (p Phase) Locked() bool {
	return p == PhaseSpinning || p == PhaseSettled
}
