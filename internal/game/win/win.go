// Package win decides match outcomes from a room's alive members and its
// imposter assignment. It holds no state.
package win

// Outcome is the result of a win check.
type Outcome int

const (
	// Undecided means the game continues or the check does not apply.
	Undecided Outcome = iota
	// ImposterWin means the imposter side has won.
	ImposterWin
	// CrewWin means the crew has won.
	CrewWin
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case ImposterWin:
		return "imposter"
	case CrewWin:
		return "crew"
	default:
		return "undecided"
	}
}

// Decided reports whether the outcome ends the match.
func (o Outcome) Decided() bool {
	return o != Undecided
}

// Participant is the slice of member state the evaluator reads.
type Participant struct {
	ID    string
	Alive bool
}

// Evaluate applies the win rules in order:
//  1. not started, or no imposter assigned: Undecided
//  2. zero alive crew: ImposterWin
//  3. zero alive imposters: CrewWin
//  4. alive imposters >= alive crew: ImposterWin
//  5. otherwise Undecided
//
// An imposterID that matches no member counts as zero alive imposters.
func Evaluate(started bool, imposterID string, members []Participant) Outcome {
	if !started || imposterID == "" {
		return Undecided
	}

	var imposters, crew int
	for _, m := range members {
		if !m.Alive {
			continue
		}
		if m.ID == imposterID {
			imposters++
		} else {
			crew++
		}
	}

	switch {
	case crew == 0:
		return ImposterWin
	case imposters == 0:
		return CrewWin
	case imposters >= crew:
		return ImposterWin
	default:
		return Undecided
	}
}
