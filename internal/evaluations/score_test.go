package evaluations

import (
	"errors"
	"testing"
)

func fullCriteria(points map[string]int) map[string]CriterionScore {
	out := make(map[string]CriterionScore, len(Rubric))
	for _, criterion := range Rubric {
		out[criterion.Name] = CriterionScore{
			Name:      criterion.Name,
			Points:    points[criterion.Name],
			MaxPoints: criterion.MaxPoints,
		}
	}
	return out
}

func TestAggregateScoreSumsAndRates(t *testing.T) {
	criteria := fullCriteria(map[string]int{
		"visualHierarchy":   14,
		"typography":        12,
		"colorUsage":        10,
		"compositionLayout": 9,
		"originality":       8,
		"consistency":       6,
		"scalability":       7,
	})

	total, rating, err := AggregateScore(criteria)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if total != 66 {
		t.Fatalf("expected total 66, got %d", total)
	}
	if rating != "Jó" {
		t.Fatalf("expected rating Jó, got %q", rating)
	}
}

func TestAggregateScoreIncompleteCriteria(t *testing.T) {
	criteria := fullCriteria(nil)
	delete(criteria, "scalability")

	_, _, err := AggregateScore(criteria)
	var incomplete *IncompleteCriteriaError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteCriteriaError, got %v", err)
	}
	if incomplete.Found != 6 {
		t.Fatalf("expected Found=6, got %d", incomplete.Found)
	}
}

func TestRatingThresholds(t *testing.T) {
	cases := []struct {
		total int
		want  string
	}{
		{100, "Kiemelkedő"},
		{90, "Kiemelkedő"},
		{89, "Kiváló"},
		{75, "Kiváló"},
		{74, "Jó"},
		{60, "Jó"},
		{59, "Átlagos"},
		{50, "Átlagos"},
		{49, "Gyenge"},
		{35, "Gyenge"},
		{34, "Kritikus"},
		{0, "Kritikus"},
	}
	for _, tc := range cases {
		if got := RatingFor(tc.total); got != tc.want {
			t.Fatalf("RatingFor(%d) = %q, want %q", tc.total, got, tc.want)
		}
	}
}

func TestBuildResultCarriesCitations(t *testing.T) {
	parsed := ParsedResponse{
		Criteria:  fullCriteria(map[string]int{"visualHierarchy": 20}),
		Strengths: []string{"bold"},
		Summary:   "fine",
	}
	result, err := BuildResult(parsed, []string{"https://example.com/design-principles"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result.TotalScore != 20 {
		t.Fatalf("expected total 20, got %d", result.TotalScore)
	}
	if result.Rating != "Kritikus" {
		t.Fatalf("expected Kritikus, got %q", result.Rating)
	}
	if len(result.Sources) != 1 {
		t.Fatalf("expected one source, got %v", result.Sources)
	}
}
