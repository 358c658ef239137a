package recognition

import (
	"sort"

	"parking-service/internal/domain/parking"
)

// Router picks the winning plate candidate for a configured minimum confidence.
type Router struct {
	MinConfidence int
}

func NewRouter(minConfidence int) Router {
	return Router{MinConfidence: minConfidence}
}

// Select returns the best candidate at or above the threshold, or false when manual review is needed.
// Ties on confidence prefer a non-empty plate code, then the lexicographically smallest number.
func (r Router) Select(candidates []parking.PlateCandidate) (parking.PlateCandidate, bool) {
	eligible := make([]parking.PlateCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence >= r.MinConfidence {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return parking.PlateCandidate{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return better(eligible[i], eligible[j])
	})
	return eligible[0], true
}

func better(a, b parking.PlateCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	aCoded, bCoded := a.Code != "", b.Code != ""
	if aCoded != bCoded {
		return aCoded
	}
	if a.Number != b.Number {
		return a.Number < b.Number
	}
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	return a.City < b.City
}
