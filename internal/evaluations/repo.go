package evaluations

import (
	"context"
	"time"
)

// Repo defines persistence for evaluation jobs. A job's result and
// status are written only by its own orchestrator run; Restart is the
// single-initiation gate for re-running an existing id.
type Repo interface {
	Create(ctx context.Context, ev Evaluation) error
	GetByID(ctx context.Context, evaluationID string) (Evaluation, error)
	SetProcessing(ctx context.Context, evaluationID string, startedAt time.Time) error
	SetPhase(ctx context.Context, evaluationID, phase string) error
	SetCompleted(ctx context.Context, evaluationID string, result map[string]any, completedAt time.Time) error
	SetFailed(ctx context.Context, evaluationID, code, message string, completedAt time.Time) error
	// Restart replaces a terminal record with a fresh pending run
	// carrying new image keys. Returns ErrEvaluationActive when the
	// stored job has not reached a terminal status.
	Restart(ctx context.Context, ev Evaluation) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error)
}
