package evaluations

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Pipeline phases in execution order. Comparing and Visual only appear
// in comparison mode and the pro tier respectively.
const (
	PhaseStart      = "start"
	PhaseVision     = "vision"
	PhaseScoring    = "scoring"
	PhaseComparing  = "comparing"
	PhaseProcessing = "processing"
	PhaseVisual     = "visual"
	PhaseSaving     = "saving"
	PhaseComplete   = "complete"
)

const (
	ModeSingle     = "single"
	ModeComparison = "comparison"
)

const (
	TierStandard = "standard"
	TierPro      = "pro"
)

// Evaluation represents a design evaluation job. The record is durable
// and independent of any single client connection: the stream and the
// poll endpoint are two readers of the same state.
type Evaluation struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Tier         string         `json:"tier"`
	Mode         string         `json:"mode"`
	Status       string         `json:"status"`
	Phase        string         `json:"phase,omitempty"`
	ImageKey     string         `json:"imageKey"`
	PrevImageKey string         `json:"prevImageKey,omitempty"`
	MediaType    string         `json:"mediaType"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has left the processing lifecycle.
func (e Evaluation) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// CriterionScore is one scored rubric entry. Points are clamped into
// [0, MaxPoints] at parse time.
type CriterionScore struct {
	Name        string   `json:"name"`
	Points      int      `json:"points"`
	MaxPoints   int      `json:"maxPoints"`
	Rationale   string   `json:"rationale"`
	Suggestions []string `json:"suggestions"`
}

// EvaluationResult is the aggregated outcome for a single subject.
// TotalScore is always recomputed from the criteria, never taken from
// upstream text.
type EvaluationResult struct {
	TotalScore             int                       `json:"totalScore"`
	Rating                 string                    `json:"rating"`
	Criteria               map[string]CriterionScore `json:"criteria"`
	Strengths              []string                  `json:"strengths"`
	Weaknesses             []string                  `json:"weaknesses"`
	Summary                string                    `json:"summary"`
	ColorAnalysis          string                    `json:"colorAnalysis,omitempty"`
	TypographyAnalysis     string                    `json:"typographyAnalysis,omitempty"`
	VisualLanguageAnalysis string                    `json:"visualLanguageAnalysis,omitempty"`
	Sources                []string                  `json:"sources,omitempty"`
}

// ComparisonResult is the two-subject outcome.
type ComparisonResult struct {
	OldResult         EvaluationResult `json:"oldResult"`
	NewResult         EvaluationResult `json:"newResult"`
	SuccessRate       float64          `json:"successRate"`
	PerCriterionDelta map[string]int   `json:"perCriterionDelta"`
	Improvements      []string         `json:"improvements"`
	Regressions       []string         `json:"regressions"`
	Recommendations   []string         `json:"recommendations"`
}
