package evaluations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func evaluationRowColumns() []string {
	return []string{
		"id", "user_id", "tier", "mode", "status", "phase",
		"image_key", "prev_image_key", "media_type", "result",
		"error_code", "error_message", "created_at", "started_at", "completed_at",
	}
}

func TestPGRepoCreateNullsEmptyOptionalFields(t *testing.T) {
	repo, mock := newMockRepo(t)

	ev := Evaluation{
		ID:        "eval-1",
		UserID:    "user-1",
		Tier:      TierStandard,
		Mode:      ModeSingle,
		Status:    StatusPending,
		ImageKey:  "users/abc/eval-1.png",
		MediaType: "image/png",
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO evaluations").
		WithArgs(
			ev.ID,
			ev.UserID,
			ev.Tier,
			ev.Mode,
			ev.Status,
			nil, // phase
			ev.ImageKey,
			nil, // prev_image_key
			ev.MediaType,
			nil, // result
			ev.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), ev); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDScansNullableColumns(t *testing.T) {
	repo, mock := newMockRepo(t)

	created := time.Now().UTC().Truncate(time.Second)
	completed := created.Add(20 * time.Second)
	rows := sqlmock.NewRows(evaluationRowColumns()).AddRow(
		"eval-1", "user-1", TierPro, ModeComparison, StatusCompleted, nil,
		"users/abc/new.png", "users/abc/old.png", "image/png", []byte(`{"totalScore":66}`),
		nil, nil, created, created, completed,
	)
	mock.ExpectQuery("SELECT (.+) FROM evaluations WHERE id").
		WithArgs("eval-1").
		WillReturnRows(rows)

	ev, err := repo.GetByID(context.Background(), "eval-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ev.Status != StatusCompleted || ev.Phase != "" {
		t.Fatalf("unexpected status/phase: %q %q", ev.Status, ev.Phase)
	}
	if ev.PrevImageKey != "users/abc/old.png" {
		t.Fatalf("prev image key = %q", ev.PrevImageKey)
	}
	if ev.Result == nil || ev.Result["totalScore"] != float64(66) {
		t.Fatalf("result not unmarshalled: %#v", ev.Result)
	}
	if ev.StartedAt == nil || ev.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM evaluations WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(evaluationRowColumns()))

	if _, err := repo.GetByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoSetCompletedWritesResultJSON(t *testing.T) {
	repo, mock := newMockRepo(t)

	completedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE evaluations").
		WithArgs("eval-1", StatusCompleted, []byte(`{"rating":"Jó","totalScore":66}`), completedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result := map[string]any{"totalScore": 66, "rating": "Jó"}
	if err := repo.SetCompleted(context.Background(), "eval-1", result, completedAt); err != nil {
		t.Fatalf("SetCompleted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSetFailedMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE evaluations").
		WithArgs("nope", StatusFailed, "VISION_FAILED", "vision provider unavailable", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetFailed(context.Background(), "nope", "VISION_FAILED", "vision provider unavailable", time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoRestartOnlyMatchesTerminalRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	ev := Evaluation{
		ID:        "eval-1",
		UserID:    "user-1",
		Tier:      TierStandard,
		Mode:      ModeSingle,
		Status:    StatusPending,
		ImageKey:  "users/abc/eval-1.png",
		MediaType: "image/png",
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("UPDATE evaluations").
		WithArgs(ev.ID, ev.Tier, ev.Mode, ev.Status, ev.ImageKey, nil,
			ev.MediaType, ev.CreatedAt, StatusCompleted, StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Restart(context.Background(), ev); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoRestartActiveRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	ev := Evaluation{ID: "eval-1", UserID: "user-1", Tier: TierStandard, Mode: ModeSingle,
		Status: StatusPending, ImageKey: "k", MediaType: "image/png", CreatedAt: time.Now().UTC()}

	mock.ExpectExec("UPDATE evaluations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows(evaluationRowColumns()).AddRow(
		"eval-1", "user-1", TierStandard, ModeSingle, StatusProcessing, PhaseVision,
		"k", nil, "image/png", nil, nil, nil, time.Now().UTC(), time.Now().UTC(), nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM evaluations WHERE id").
		WithArgs("eval-1").
		WillReturnRows(rows)

	if err := repo.Restart(context.Background(), ev); !errors.Is(err, ErrEvaluationActive) {
		t.Fatalf("expected ErrEvaluationActive, got %v", err)
	}
}

func TestPGRepoRestartMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	ev := Evaluation{ID: "nope", UserID: "user-1", Tier: TierStandard, Mode: ModeSingle,
		Status: StatusPending, ImageKey: "k", MediaType: "image/png", CreatedAt: time.Now().UTC()}

	mock.ExpectExec("UPDATE evaluations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM evaluations WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(evaluationRowColumns()))

	if err := repo.Restart(context.Background(), ev); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoListByUserDefaultsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(evaluationRowColumns()).
		AddRow("eval-2", "user-1", TierStandard, ModeSingle, StatusCompleted, nil,
			"k2", nil, "image/png", []byte(`{"totalScore":70}`), nil, nil, now, now, now).
		AddRow("eval-1", "user-1", TierStandard, ModeSingle, StatusFailed, nil,
			"k1", nil, "image/png", nil, "VISION_FAILED", "boom", now.Add(-time.Hour), nil, nil)
	mock.ExpectQuery("SELECT (.+) FROM evaluations").
		WithArgs("user-1", 20, 0).
		WillReturnRows(rows)

	out, err := repo.ListByUser(context.Background(), "user-1", 0, -1)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	if out[0].ID != "eval-2" || out[1].ErrorCode != "VISION_FAILED" {
		t.Fatalf("unexpected rows: %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
