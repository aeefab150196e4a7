package evaluations

import (
	"fmt"
	"math"
)

// recommendationThreshold flags criteria in the new result scoring
// under this fraction of their maximum.
const recommendationThreshold = 0.6

// Compare diffs two aggregated results. Classification is strictly
// delta-based: a criterion lands in Improvements iff its delta is
// positive and in Regressions iff negative; zero-delta criteria appear
// in neither. Recommendations derive from the new result alone.
func Compare(oldResult, newResult EvaluationResult) ComparisonResult {
	cmp := ComparisonResult{
		OldResult:         oldResult,
		NewResult:         newResult,
		PerCriterionDelta: make(map[string]int, CriterionCount),
		Improvements:      []string{},
		Regressions:       []string{},
		Recommendations:   []string{},
	}

	// Rubric order keeps the derived lists deterministic.
	for _, criterion := range Rubric {
		oldScore := oldResult.Criteria[criterion.Name]
		newScore := newResult.Criteria[criterion.Name]
		delta := newScore.Points - oldScore.Points
		cmp.PerCriterionDelta[criterion.Name] = delta
		switch {
		case delta > 0:
			cmp.Improvements = append(cmp.Improvements,
				fmt.Sprintf("%s: +%d points (%d → %d)", criterion.Display, delta, oldScore.Points, newScore.Points))
		case delta < 0:
			cmp.Regressions = append(cmp.Regressions,
				fmt.Sprintf("%s: %d points (%d → %d)", criterion.Display, delta, oldScore.Points, newScore.Points))
		}

		if float64(newScore.Points) < recommendationThreshold*float64(criterion.MaxPoints) {
			cmp.Recommendations = append(cmp.Recommendations,
				fmt.Sprintf("%s scored %d of %d; focus further work here", criterion.Display, newScore.Points, criterion.MaxPoints))
		}
	}

	cmp.SuccessRate = successRate(oldResult.TotalScore, newResult.TotalScore)
	return cmp
}

// successRate is the relative change in total score as a percentage,
// rounded to one decimal. Defined as 0 when the old total is 0.
func successRate(oldTotal, newTotal int) float64 {
	if oldTotal == 0 {
		return 0
	}
	rate := float64(newTotal-oldTotal) / float64(oldTotal) * 100
	return math.Round(rate*10) / 10
}
