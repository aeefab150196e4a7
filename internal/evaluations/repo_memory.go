package evaluations

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores evaluations in memory and is safe for concurrent
// use. Used when no database is configured and in tests.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Evaluation
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Evaluation)}
}

// Create stores the evaluation.
func (r *MemoryRepo) Create(ctx context.Context, ev Evaluation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ev.ID] = ev
	return nil
}

// GetByID returns an evaluation by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, evaluationID string) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.byID[evaluationID]
	if !ok {
		return Evaluation{}, ErrNotFound
	}
	return ev, nil
}

// SetProcessing moves the job into the processing status.
func (r *MemoryRepo) SetProcessing(ctx context.Context, evaluationID string, startedAt time.Time) error {
	return r.update(ctx, evaluationID, func(ev *Evaluation) {
		ev.Status = StatusProcessing
		ev.Phase = PhaseStart
		ev.StartedAt = &startedAt
	})
}

// SetPhase records the transient pipeline phase.
func (r *MemoryRepo) SetPhase(ctx context.Context, evaluationID, phase string) error {
	return r.update(ctx, evaluationID, func(ev *Evaluation) {
		ev.Phase = phase
	})
}

// SetCompleted persists the final result and clears the phase.
func (r *MemoryRepo) SetCompleted(ctx context.Context, evaluationID string, result map[string]any, completedAt time.Time) error {
	return r.update(ctx, evaluationID, func(ev *Evaluation) {
		ev.Status = StatusCompleted
		ev.Phase = ""
		ev.Result = result
		ev.ErrorCode = ""
		ev.ErrorMessage = ""
		ev.CompletedAt = &completedAt
	})
}

// SetFailed marks the job failed with its wire code and message.
func (r *MemoryRepo) SetFailed(ctx context.Context, evaluationID, code, message string, completedAt time.Time) error {
	return r.update(ctx, evaluationID, func(ev *Evaluation) {
		ev.Status = StatusFailed
		ev.Phase = ""
		ev.ErrorCode = code
		ev.ErrorMessage = message
		ev.CompletedAt = &completedAt
	})
}

// Restart replaces a terminal record with a fresh pending run.
func (r *MemoryRepo) Restart(ctx context.Context, ev Evaluation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[ev.ID]
	if !ok {
		return ErrNotFound
	}
	if !existing.Terminal() {
		return ErrEvaluationActive
	}
	r.byID[ev.ID] = ev
	return nil
}

// ListByUser returns a user's evaluations ordered newest-first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Evaluation
	for _, ev := range r.byID {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []Evaluation{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) update(ctx context.Context, evaluationID string, apply func(*Evaluation)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.byID[evaluationID]
	if !ok {
		return ErrNotFound
	}
	apply(&ev)
	r.byID[evaluationID] = ev
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
