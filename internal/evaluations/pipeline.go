package evaluations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"designscore-backend/internal/ai"
	"designscore-backend/internal/shared/metrics"
	"designscore-backend/internal/shared/storage/object"
	"designscore-backend/internal/shared/telemetry"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	chunkPreviewLimit        = 280
)

// Service runs evaluation pipelines. Stages execute strictly
// sequentially within a run; concurrency exists only across
// independent jobs.
type Service struct {
	Repo              Repo
	Store             object.ObjectStore
	Vision            ai.VisionClient
	Scoring           ai.ScoringClient
	HeartbeatInterval time.Duration
}

// stage is one pipeline step. The sequencer emits a status event
// carrying Phase and Message before invoking Run.
type stage struct {
	Phase   string
	Message string
	Run     func(ctx context.Context) error
}

// runState accumulates intermediate data across stages. The old
// subject is only populated in comparison mode.
type runState struct {
	ev             Evaluation
	em             *Emitter
	oldDescription string
	newDescription string
	oldScoring     ai.ScoreResult
	newScoring     ai.ScoreResult
	oldResult      EvaluationResult
	newResult      EvaluationResult
	comparison     *ComparisonResult
	final          map[string]any
}

// Run executes the pipeline for an already-created job and streams
// progress through em. The job is durable: a disappearing client never
// cancels the run, so callers must pass a context that is not tied to
// the request. The caller owns closing the connection after Run
// returns; Run guarantees exactly one terminal event on em.
func (s *Service) Run(ctx context.Context, evaluationID string, em *Emitter) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, evaluationID, "", fmt.Errorf("panic: %v", r), em)
		}
	}()

	stopHeartbeat := s.startHeartbeat(em)
	defer stopHeartbeat()

	startedAt := time.Now().UTC()
	if err := s.Repo.SetProcessing(ctx, evaluationID, startedAt); err != nil {
		s.fail(ctx, evaluationID, "", &PersistenceError{Err: err}, em)
		return
	}
	ev, err := s.Repo.GetByID(ctx, evaluationID)
	if err != nil {
		s.fail(ctx, evaluationID, "", &PersistenceError{Err: err}, em)
		return
	}

	metrics.IncEvaluationStarted()
	telemetry.Info("evaluation.status", map[string]any{
		"evaluation_id":     ev.ID,
		"user_id":           ev.UserID,
		"mode":              ev.Mode,
		"tier":              ev.Tier,
		"status":            StatusProcessing,
		"status_transition": "pending->processing",
	})

	em.Status(PhaseStart, "Evaluation started", ev.ID)

	st := &runState{ev: ev, em: em}
	for _, stg := range s.stagesFor(st) {
		if err := s.Repo.SetPhase(ctx, ev.ID, stg.Phase); err != nil {
			// Phase is transient display state; a torn write here must
			// not kill a running analysis.
			telemetry.Error("evaluation.phase_update_failed", map[string]any{
				"evaluation_id": ev.ID, "phase": stg.Phase, "error": err.Error(),
			})
		}
		em.Status(stg.Phase, stg.Message, "")
		if err := stg.Run(ctx); err != nil {
			s.fail(ctx, ev.ID, stg.Phase, err, em)
			return
		}
	}

	em.Complete(ev.ID, st.final)
	completedAt := time.Now().UTC()
	metrics.IncEvaluationCompleted()
	metrics.ObserveEvaluationDurationMs(float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0)
	telemetry.Info("evaluation.status", map[string]any{
		"evaluation_id":     ev.ID,
		"user_id":           ev.UserID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_ms":       float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0,
	})
}

// stagesFor builds the ordered stage list for the job's mode and
// tier. The sequencer itself is mode-agnostic.
func (s *Service) stagesFor(st *runState) []stage {
	var stages []stage
	if st.ev.Mode == ModeComparison {
		stages = append(stages,
			stage{PhaseVision, "Analyzing the original design", func(ctx context.Context) error {
				return s.runVision(ctx, st, st.ev.PrevImageKey, &st.oldDescription)
			}},
			stage{PhaseScoring, "Scoring the original design", func(ctx context.Context) error {
				return s.runScoring(ctx, st, st.oldDescription, &st.oldScoring)
			}},
			stage{PhaseVision, "Analyzing the revised design", func(ctx context.Context) error {
				return s.runVision(ctx, st, st.ev.ImageKey, &st.newDescription)
			}},
			stage{PhaseScoring, "Scoring the revised design", func(ctx context.Context) error {
				return s.runScoring(ctx, st, st.newDescription, &st.newScoring)
			}},
			stage{PhaseComparing, "Comparing the two designs", s.makeComparing(st)},
		)
	} else {
		stages = append(stages,
			stage{PhaseVision, "Analyzing the image", func(ctx context.Context) error {
				return s.runVision(ctx, st, st.ev.ImageKey, &st.newDescription)
			}},
			stage{PhaseScoring, "Scoring against the rubric", func(ctx context.Context) error {
				return s.runScoring(ctx, st, st.newDescription, &st.newScoring)
			}},
		)
	}

	stages = append(stages, stage{PhaseProcessing, "Computing the final score", s.makeProcessing(st)})
	if st.ev.Tier == TierPro {
		stages = append(stages, stage{PhaseVisual, "Running extended visual analysis", s.makeVisual(st)})
	}
	stages = append(stages, stage{PhaseSaving, "Saving the result", s.makeSaving(st)})
	return stages
}

func (s *Service) runVision(ctx context.Context, st *runState, imageKey string, out *string) error {
	image, err := s.loadImage(ctx, imageKey)
	if err != nil {
		return &VisionStageError{Err: err}
	}
	description, err := s.Vision.Describe(ctx, ai.DescribeInput{
		Image:     image,
		MediaType: st.ev.MediaType,
		Hint:      visionHint,
	})
	if err != nil {
		return &VisionStageError{Err: err}
	}
	*out = description
	return nil
}

func (s *Service) runScoring(ctx context.Context, st *runState, description string, out *ai.ScoreResult) error {
	result, err := s.Scoring.Score(ctx, ai.ScoreInput{Query: buildScoringQuery(description)})
	if err != nil {
		return err
	}
	*out = result
	// Best-effort preview of the raw critique; never authoritative.
	preview := result.Text
	if len(preview) > chunkPreviewLimit {
		preview = preview[:chunkPreviewLimit]
	}
	st.em.Chunk(PhaseScoring, preview)
	return nil
}

// makeComparing parses and aggregates both subjects, then diffs them.
func (s *Service) makeComparing(st *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		oldParsed, err := ParseScoringResponse(st.oldScoring.Text)
		if err != nil {
			return err
		}
		newParsed, err := ParseScoringResponse(st.newScoring.Text)
		if err != nil {
			return err
		}
		if st.oldResult, err = BuildResult(oldParsed, st.oldScoring.Citations); err != nil {
			return err
		}
		if st.newResult, err = BuildResult(newParsed, st.newScoring.Citations); err != nil {
			return err
		}
		cmp := Compare(st.oldResult, st.newResult)
		st.comparison = &cmp
		return nil
	}
}

// makeProcessing assembles the final result payload. In comparison
// mode the comparing stage already aggregated; here only the single
// subject path still has parsing to do.
func (s *Service) makeProcessing(st *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		if st.ev.Mode == ModeComparison {
			st.final = toMap(st.comparison)
			return nil
		}
		parsed, err := ParseScoringResponse(st.newScoring.Text)
		if err != nil {
			return err
		}
		if st.newResult, err = BuildResult(parsed, st.newScoring.Citations); err != nil {
			return err
		}
		st.final = toMap(st.newResult)
		return nil
	}
}

// makeVisual runs the pro-tier extended analysis against the current
// subject and folds the sections into the result.
func (s *Service) makeVisual(st *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		result, err := s.Scoring.Score(ctx, ai.ScoreInput{Query: buildExtendedQuery(st.newDescription)})
		if err != nil {
			return err
		}
		parsed, err := ParseScoringResponse(result.Text)
		if err != nil {
			return err
		}
		st.newResult.ColorAnalysis = parsed.ColorAnalysis
		st.newResult.TypographyAnalysis = parsed.TypographyAnalysis
		st.newResult.VisualLanguageAnalysis = parsed.VisualLanguageAnalysis
		if st.ev.Mode == ModeComparison {
			st.comparison.NewResult = st.newResult
			st.final = toMap(st.comparison)
		} else {
			st.final = toMap(st.newResult)
		}
		return nil
	}
}

func (s *Service) makeSaving(st *runState) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := s.Repo.SetCompleted(ctx, st.ev.ID, st.final, time.Now().UTC()); err != nil {
			return &PersistenceError{Err: err}
		}
		return nil
	}
}

// fail persists the failed status and emits the single error event.
// The store write uses a background context so a cancelled request
// context cannot lose the terminal transition.
func (s *Service) fail(ctx context.Context, evaluationID, phase string, err error, em *Emitter) {
	code, message := classifyFailure(err)
	if updateErr := s.Repo.SetFailed(context.Background(), evaluationID, code, message, time.Now().UTC()); updateErr != nil {
		telemetry.Error("evaluation.fail_update_failed", map[string]any{
			"evaluation_id": evaluationID, "error": updateErr.Error(), "cause": err.Error(),
		})
	}
	em.Error(code, message)
	metrics.IncEvaluationFailed()

	fields := map[string]any{
		"evaluation_id":     evaluationID,
		"phase":             phase,
		"code":              code,
		"error":             err.Error(),
		"status":            StatusFailed,
		"status_transition": "processing->failed",
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		fields["raw_payload"] = malformed.Raw
	}
	telemetry.Error("evaluation.status", fields)
}

func (s *Service) startHeartbeat(em *Emitter) func() {
	interval := s.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				em.Heartbeat()
			}
		}
	}()
	return func() { close(done) }
}

func (s *Service) loadImage(ctx context.Context, key string) ([]byte, error) {
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// toMap round-trips a typed result through JSON so it persists and
// serves with its wire field names.
func toMap(v any) map[string]any {
	payload, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]any{}
	}
	return out
}
