package evaluations

// AggregateScore sums the per-criterion points and maps the total to
// its rating bucket. Any "total" field present in upstream text is
// ignored; the sum here is authoritative. Fewer than the full rubric's
// worth of recognized criteria invalidates the result.
func AggregateScore(criteria map[string]CriterionScore) (total int, rating string, err error) {
	if len(criteria) < CriterionCount {
		return 0, "", &IncompleteCriteriaError{Found: len(criteria)}
	}
	for _, score := range criteria {
		total += score.Points
	}
	return total, RatingFor(total), nil
}

// BuildResult assembles the final single-subject result from a parsed
// response and the attached citations.
func BuildResult(parsed ParsedResponse, citations []string) (EvaluationResult, error) {
	total, rating, err := AggregateScore(parsed.Criteria)
	if err != nil {
		return EvaluationResult{}, err
	}
	return EvaluationResult{
		TotalScore:             total,
		Rating:                 rating,
		Criteria:               parsed.Criteria,
		Strengths:              parsed.Strengths,
		Weaknesses:             parsed.Weaknesses,
		Summary:                parsed.Summary,
		ColorAnalysis:          parsed.ColorAnalysis,
		TypographyAnalysis:     parsed.TypographyAnalysis,
		VisualLanguageAnalysis: parsed.VisualLanguageAnalysis,
		Sources:                citations,
	}, nil
}
