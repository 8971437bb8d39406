package meeting

import "maps"

// Results is the outcome of a resolved meeting.
type Results struct {
	// EjectedID is the voted-out player, or "" when nobody was ejected.
	EjectedID string
	// Tie is true when two or more targets shared the highest count.
	Tie bool
	// Counts maps each voted-for target to its number of votes. Skips are not counted.
	Counts map[string]int
	// Votes is the raw ballot, voter id to target id.
	Votes map[string]string
}

// Tally counts votes per target, ignoring skips. A unique strict maximum
// ejects that target; a shared maximum is a tie; no non-skip votes is neither.
func Tally(votes map[string]string) Results {
	counts := make(map[string]int)
	for _, target := range votes {
		if target == Skip {
			continue
		}
		counts[target]++
	}

	top := 0
	var leaders []string
	for target, n := range counts {
		switch {
		case n > top:
			top = n
			leaders = append(leaders[:0], target)
		case n == top:
			leaders = append(leaders, target)
		}
	}

	res := Results{
		Counts: counts,
		Votes:  maps.Clone(votes),
	}
	if res.Votes == nil {
		res.Votes = make(map[string]string)
	}
	switch len(leaders) {
	case 0:
	case 1:
		res.EjectedID = leaders[0]
	default:
		res.Tie = true
	}
	return res
}

func (r Results) clone() Results {
	r.Counts = maps.Clone(r.Counts)
	r.Votes = maps.Clone(r.Votes)
	return r
}
