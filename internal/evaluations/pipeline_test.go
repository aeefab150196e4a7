package evaluations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"designscore-backend/internal/ai"
	"designscore-backend/internal/shared/storage/object/local"
)

type fakeVision struct {
	description string
	err         error
	calls       int
}

func (f *fakeVision) Describe(ctx context.Context, input ai.DescribeInput) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.description, nil
}

type fakeScoring struct {
	results []ai.ScoreResult
	err     error
	calls   int
}

func (f *fakeScoring) Score(ctx context.Context, input ai.ScoreInput) (ai.ScoreResult, error) {
	f.calls++
	if f.err != nil {
		return ai.ScoreResult{}, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

type sseFrame struct {
	Event string
	Data  map[string]any
}

func parseFrames(t *testing.T, raw string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(raw, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var frame sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame.Data); err != nil {
					t.Fatalf("decode frame data: %v", err)
				}
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

func setupPipeline(t *testing.T, vision *fakeVision, scoring *fakeScoring, mode, tier string) (*Service, *MemoryRepo, Evaluation) {
	t.Helper()
	repo := NewMemoryRepo()
	store := local.New(t.TempDir())

	imageKey, _, _, err := store.Save(context.Background(), "user-1", "design.png", bytes.NewReader([]byte("png-bytes")))
	if err != nil {
		t.Fatalf("save image: %v", err)
	}
	var prevImageKey string
	if mode == ModeComparison {
		prevImageKey, _, _, err = store.Save(context.Background(), "user-1", "design-previous.png", bytes.NewReader([]byte("old-png-bytes")))
		if err != nil {
			t.Fatalf("save previous image: %v", err)
		}
	}

	ev := Evaluation{
		ID:           "eval-1",
		UserID:       "user-1",
		Tier:         tier,
		Mode:         mode,
		Status:       StatusPending,
		ImageKey:     imageKey,
		PrevImageKey: prevImageKey,
		MediaType:    "image/png",
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), ev); err != nil {
		t.Fatalf("create evaluation: %v", err)
	}

	svc := &Service{
		Repo:              repo,
		Store:             store,
		Vision:            vision,
		Scoring:           scoring,
		HeartbeatInterval: time.Hour,
	}
	return svc, repo, ev
}

func TestRunSingleMode(t *testing.T) {
	vision := &fakeVision{description: "a bold geometric logo"}
	scoring := &fakeScoring{results: []ai.ScoreResult{{Text: cleanScoringJSON, Citations: []string{"https://example.com/typography"}}}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeSingle, TierStandard)

	var buf strings.Builder
	em := NewWriterEmitter(&buf)
	svc.Run(context.Background(), ev.ID, em)

	frames := parseFrames(t, buf.String())
	var sequence []string
	for _, frame := range frames {
		name := frame.Event
		if frame.Event == EventStatus {
			name += ":" + frame.Data["phase"].(string)
		}
		sequence = append(sequence, name)
	}
	want := []string{"status:start", "status:vision", "status:scoring", "chunk", "status:processing", "status:saving", "complete"}
	if strings.Join(sequence, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence: %v", sequence)
	}

	if frames[0].Data["evaluationId"] != "eval-1" {
		t.Fatalf("first status must carry the evaluation id: %v", frames[0].Data)
	}

	final := frames[len(frames)-1]
	result, ok := final.Data["result"].(map[string]any)
	if !ok {
		t.Fatalf("complete event missing result: %v", final.Data)
	}
	if result["totalScore"] != float64(66) {
		t.Fatalf("expected totalScore 66, got %v", result["totalScore"])
	}
	if result["rating"] != "Jó" {
		t.Fatalf("expected rating Jó, got %v", result["rating"])
	}

	stored, err := repo.GetByID(context.Background(), ev.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", stored.Status)
	}
	if stored.Result == nil || stored.Result["totalScore"] != float64(66) {
		t.Fatalf("expected persisted result, got %v", stored.Result)
	}
	if vision.calls != 1 || scoring.calls != 1 {
		t.Fatalf("unexpected call counts: vision=%d scoring=%d", vision.calls, scoring.calls)
	}
}

func TestRunComparisonMode(t *testing.T) {
	oldJSON := `{"criteria": {
		"vh": {"points": 10}, "ty": {"points": 10}, "co": {"points": 10},
		"cl": {"points": 5}, "or": {"points": 5}, "cs": {"points": 5}, "sc": {"points": 5}
	}}`
	vision := &fakeVision{description: "described"}
	scoring := &fakeScoring{results: []ai.ScoreResult{{Text: oldJSON}, {Text: cleanScoringJSON}}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeComparison, TierStandard)

	var buf strings.Builder
	svc.Run(context.Background(), ev.ID, NewWriterEmitter(&buf))

	frames := parseFrames(t, buf.String())
	sawComparing := false
	for _, frame := range frames {
		if frame.Event == EventStatus && frame.Data["phase"] == PhaseComparing {
			sawComparing = true
		}
	}
	if !sawComparing {
		t.Fatalf("expected a comparing status event")
	}
	if vision.calls != 2 || scoring.calls != 2 {
		t.Fatalf("expected both subjects analyzed: vision=%d scoring=%d", vision.calls, scoring.calls)
	}

	stored, _ := repo.GetByID(context.Background(), ev.ID)
	if stored.Result["successRate"] != float64(32) {
		t.Fatalf("expected successRate 32 (50 -> 66), got %v", stored.Result["successRate"])
	}
	if _, ok := stored.Result["perCriterionDelta"].(map[string]any); !ok {
		t.Fatalf("expected perCriterionDelta in result: %v", stored.Result)
	}
}

func TestRunProTierRunsExtendedAnalysis(t *testing.T) {
	extended := `{"colorAnalysis": "warm palette", "typographyAnalysis": "grotesque sans", "visualLanguageAnalysis": "minimal"}`
	vision := &fakeVision{description: "described"}
	scoring := &fakeScoring{results: []ai.ScoreResult{{Text: cleanScoringJSON}, {Text: extended}}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeSingle, TierPro)

	var buf strings.Builder
	svc.Run(context.Background(), ev.ID, NewWriterEmitter(&buf))

	if scoring.calls != 2 {
		t.Fatalf("expected scoring + extended calls, got %d", scoring.calls)
	}
	stored, _ := repo.GetByID(context.Background(), ev.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", stored.Status, stored.ErrorMessage)
	}
	if stored.Result["colorAnalysis"] != "warm palette" {
		t.Fatalf("expected extended sections folded in, got %v", stored.Result)
	}
}

func TestRunVisionFailure(t *testing.T) {
	vision := &fakeVision{err: errors.New("model overloaded")}
	scoring := &fakeScoring{results: []ai.ScoreResult{{Text: cleanScoringJSON}}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeSingle, TierStandard)

	var buf strings.Builder
	em := NewWriterEmitter(&buf)
	svc.Run(context.Background(), ev.ID, em)

	frames := parseFrames(t, buf.String())
	last := frames[len(frames)-1]
	if last.Event != EventError {
		t.Fatalf("expected terminal error event, got %s", last.Event)
	}
	if last.Data["code"] != ErrorCodeVision {
		t.Fatalf("expected %s, got %v", ErrorCodeVision, last.Data["code"])
	}
	if scoring.calls != 0 {
		t.Fatalf("scoring must not run after a vision failure")
	}

	stored, _ := repo.GetByID(context.Background(), ev.ID)
	if stored.Status != StatusFailed || stored.ErrorCode != ErrorCodeVision {
		t.Fatalf("expected persisted failure, got %+v", stored)
	}
	if !em.Terminal() {
		t.Fatalf("expected terminal emitter")
	}
}

func TestRunScoringQuotaFailure(t *testing.T) {
	vision := &fakeVision{description: "described"}
	scoring := &fakeScoring{err: &ai.ProviderError{Provider: "perplexity", Code: ai.ErrCodeQuotaExceeded, Err: errors.New("429")}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeSingle, TierStandard)

	var buf strings.Builder
	svc.Run(context.Background(), ev.ID, NewWriterEmitter(&buf))

	stored, _ := repo.GetByID(context.Background(), ev.ID)
	if stored.ErrorCode != ErrorCodeScoringQuota {
		t.Fatalf("expected %s, got %s", ErrorCodeScoringQuota, stored.ErrorCode)
	}
}

func TestRunMalformedScoringResponse(t *testing.T) {
	vision := &fakeVision{description: "described"}
	scoring := &fakeScoring{results: []ai.ScoreResult{{Text: "I cannot help with that."}}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeSingle, TierStandard)

	var buf strings.Builder
	svc.Run(context.Background(), ev.ID, NewWriterEmitter(&buf))

	stored, _ := repo.GetByID(context.Background(), ev.ID)
	if stored.ErrorCode != ErrorCodeMalformedResponse {
		t.Fatalf("expected %s, got %s", ErrorCodeMalformedResponse, stored.ErrorCode)
	}
}

type failingSaveRepo struct {
	*MemoryRepo
}

func (r *failingSaveRepo) SetCompleted(ctx context.Context, evaluationID string, result map[string]any, completedAt time.Time) error {
	return errors.New("disk full")
}

func TestRunPersistenceFailure(t *testing.T) {
	vision := &fakeVision{description: "described"}
	scoring := &fakeScoring{results: []ai.ScoreResult{{Text: cleanScoringJSON}}}
	svc, repo, ev := setupPipeline(t, vision, scoring, ModeSingle, TierStandard)
	svc.Repo = &failingSaveRepo{MemoryRepo: repo}

	var buf strings.Builder
	svc.Run(context.Background(), ev.ID, NewWriterEmitter(&buf))

	frames := parseFrames(t, buf.String())
	last := frames[len(frames)-1]
	if last.Event != EventError || last.Data["code"] != ErrorCodeStorage {
		t.Fatalf("expected storage error event, got %s %v", last.Event, last.Data)
	}

	stored, _ := repo.GetByID(context.Background(), ev.ID)
	if stored.Status != StatusFailed || stored.ErrorCode != ErrorCodeStorage {
		t.Fatalf("expected persisted storage failure, got %+v", stored)
	}
}
