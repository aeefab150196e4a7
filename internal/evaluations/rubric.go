package evaluations

// Criterion defines one rubric entry. The scoring service is asked to
// key its response by Code but has been observed to use the full name
// instead, so both are accepted by the parser, Code first.
type Criterion struct {
	Code      string
	Name      string
	Display   string
	MaxPoints int
}

// Rubric is the fixed 7-criterion, 100-point rubric. Order matters for
// deterministic output; never reorder entries.
var Rubric = []Criterion{
	{Code: "vh", Name: "visualHierarchy", Display: "Visual hierarchy", MaxPoints: 20},
	{Code: "ty", Name: "typography", Display: "Typography", MaxPoints: 18},
	{Code: "co", Name: "colorUsage", Display: "Color usage", MaxPoints: 15},
	{Code: "cl", Name: "compositionLayout", Display: "Composition and layout", MaxPoints: 15},
	{Code: "or", Name: "originality", Display: "Originality", MaxPoints: 12},
	{Code: "cs", Name: "consistency", Display: "Consistency", MaxPoints: 10},
	{Code: "sc", Name: "scalability", Display: "Scalability", MaxPoints: 10},
}

// CriterionCount is the number of rubric entries a complete result
// must carry.
const CriterionCount = 7

// ratingThreshold maps a minimum total score to its label. Highest
// threshold first; totals below every threshold fall through to
// ratingFloor.
var ratingThresholds = []struct {
	Min   int
	Label string
}{
	{90, "Kiemelkedő"},
	{75, "Kiváló"},
	{60, "Jó"},
	{50, "Átlagos"},
	{35, "Gyenge"},
}

const ratingFloor = "Kritikus"

// RatingFor maps a total score to its rating bucket.
func RatingFor(total int) string {
	for _, t := range ratingThresholds {
		if total >= t.Min {
			return t.Label
		}
	}
	return ratingFloor
}

func criterionByName(name string) (Criterion, bool) {
	for _, c := range Rubric {
		if c.Name == name {
			return c, true
		}
	}
	return Criterion{}, false
}
