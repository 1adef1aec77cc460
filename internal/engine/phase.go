package engine

// RoundPhase selects the judge instruction tier for a round.
type RoundPhase int

const (
	PhaseOpening RoundPhase = iota
	PhaseMidRound
	PhaseLateRound
)

// lateRoundThreshold is the round number at which the judge is pushed to
// evaluate rather than merely steer.
const lateRoundThreshold = 5

func phaseForRound(round int) RoundPhase {
	switch {
	case round <= 1:
		return PhaseOpening
	case round < lateRoundThreshold:
		return PhaseMidRound
	default:
		return PhaseLateRound
	}
}

func (p RoundPhase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseMidRound:
		return "mid-round"
	case PhaseLateRound:
		return "late-round"
	default:
		return "unknown"
	}
}
