package catalog

import (
	"cmp"
	"slices"
)

// MaxCandidates bounds how many alternatives an ambiguous verdict carries.
const MaxCandidates = 5

// Thresholds tune the confidence decision for one catalog.
type Thresholds struct {
	High    float64 `yaml:"high"`
	Medium  float64 `yaml:"medium"`
	Margin  float64 `yaml:"margin"`
	Ceiling float64 `yaml:"ceiling"`
}

// DefaultThresholds accepts an outright score of 95, or 85 with a lead of
// at least 10 over the runner-up.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 95, Medium: 85, Margin: 10, Ceiling: 100}
}

// Decision is the outcome of ranking a candidate list.
type Decision struct {
	Outcome    Outcome
	Best       Candidate
	Confidence float64
	Candidates []Candidate
}

// Decide ranks candidates by score and applies the acceptance rule:
// a single candidate is accepted outright; otherwise the top candidate is
// accepted when it reaches the high threshold, or the medium threshold
// with the required margin over the runner-up. Anything else is
// ambiguous. An empty list is a failure.
func Decide(candidates []Candidate, th Thresholds) Decision {
	if len(candidates) == 0 {
		return Decision{Outcome: OutcomeFailure}
	}

	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b Candidate) int {
		return cmp.Compare(b.Score, a.Score)
	})

	best := ranked[0]
	if len(ranked) == 1 {
		conf := best.Score
		if conf <= 0 {
			conf = th.Ceiling
		}
		return Decision{Outcome: OutcomeSuccess, Best: best, Confidence: conf}
	}

	second := ranked[1].Score
	if best.Score >= th.High || (best.Score >= th.Medium && best.Score-second >= th.Margin) {
		return Decision{Outcome: OutcomeSuccess, Best: best, Confidence: best.Score}
	}

	if len(ranked) > MaxCandidates {
		ranked = ranked[:MaxCandidates]
	}
	return Decision{Outcome: OutcomeAmbiguous, Candidates: ranked}
}
