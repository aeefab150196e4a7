package evaluations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const evaluationColumns = `id, user_id, tier, mode, status, phase, image_key, prev_image_key, media_type, result, error_code, error_message, created_at, started_at, completed_at`

// Create inserts a new evaluation row.
func (r *PGRepo) Create(ctx context.Context, ev Evaluation) error {
	resultJSON, err := marshalResult(ev.Result)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO evaluations (id, user_id, tier, mode, status, phase, image_key, prev_image_key, media_type, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID, ev.UserID, ev.Tier, ev.Mode, ev.Status, nullString(ev.Phase),
		ev.ImageKey, nullString(ev.PrevImageKey), ev.MediaType, resultJSON, ev.CreatedAt,
	)
	return err
}

// GetByID returns an evaluation by its ID.
func (r *PGRepo) GetByID(ctx context.Context, evaluationID string) (Evaluation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, evaluationID)
	return scanEvaluation(row)
}

// SetProcessing moves the job into the processing status.
func (r *PGRepo) SetProcessing(ctx context.Context, evaluationID string, startedAt time.Time) error {
	return r.exec(ctx, `UPDATE evaluations SET status = $2, phase = $3, started_at = $4 WHERE id = $1`,
		evaluationID, StatusProcessing, PhaseStart, startedAt)
}

// SetPhase records the transient pipeline phase.
func (r *PGRepo) SetPhase(ctx context.Context, evaluationID, phase string) error {
	return r.exec(ctx, `UPDATE evaluations SET phase = $2 WHERE id = $1`, evaluationID, phase)
}

// SetCompleted persists the final result and clears the phase.
func (r *PGRepo) SetCompleted(ctx context.Context, evaluationID string, result map[string]any, completedAt time.Time) error {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		UPDATE evaluations
		SET status = $2, phase = NULL, result = $3, error_code = NULL, error_message = NULL, completed_at = $4
		WHERE id = $1`,
		evaluationID, StatusCompleted, resultJSON, completedAt)
}

// SetFailed marks the job failed with its wire code and message.
func (r *PGRepo) SetFailed(ctx context.Context, evaluationID, code, message string, completedAt time.Time) error {
	return r.exec(ctx, `
		UPDATE evaluations
		SET status = $2, phase = NULL, error_code = $3, error_message = $4, completed_at = $5
		WHERE id = $1`,
		evaluationID, StatusFailed, code, message, completedAt)
}

// Restart replaces a terminal record with a fresh pending run. The
// status guard in the WHERE clause is the single-initiation gate:
// concurrent restarts of the same id cannot both match.
func (r *PGRepo) Restart(ctx context.Context, ev Evaluation) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE evaluations
		SET tier = $2, mode = $3, status = $4, phase = NULL, image_key = $5, prev_image_key = $6,
		    media_type = $7, result = NULL, error_code = NULL, error_message = NULL,
		    created_at = $8, started_at = NULL, completed_at = NULL
		WHERE id = $1 AND status IN ($9, $10)`,
		ev.ID, ev.Tier, ev.Mode, ev.Status, ev.ImageKey, nullString(ev.PrevImageKey),
		ev.MediaType, ev.CreatedAt, StatusCompleted, StatusFailed,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, ev.ID); errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrEvaluationActive
	}
	return nil
}

// ListByUser returns a user's evaluations ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Evaluation, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+evaluationColumns+`
		FROM evaluations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *PGRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (Evaluation, error) {
	var (
		ev           Evaluation
		phase        sql.NullString
		prevImageKey sql.NullString
		resultJSON   []byte
		errorCode    sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.UserID, &ev.Tier, &ev.Mode, &ev.Status, &phase,
		&ev.ImageKey, &prevImageKey, &ev.MediaType, &resultJSON,
		&errorCode, &errorMessage, &ev.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Evaluation{}, ErrNotFound
	}
	if err != nil {
		return Evaluation{}, err
	}
	ev.Phase = phase.String
	ev.PrevImageKey = prevImageKey.String
	ev.ErrorCode = errorCode.String
	ev.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		t := startedAt.Time
		ev.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		ev.CompletedAt = &t
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &ev.Result); err != nil {
			return Evaluation{}, err
		}
	}
	return ev, nil
}

func marshalResult(result map[string]any) (any, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repo = (*PGRepo)(nil)
