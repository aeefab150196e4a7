package evaluations

import (
	"errors"
	"fmt"

	"designscore-backend/internal/ai"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrEvaluationActive is returned when a re-run is requested for a
	// job that is still pending or processing.
	ErrEvaluationActive = errors.New("evaluation already running")
)

// Wire-level error codes. Stable: clients branch on these.
const (
	ErrorCodeVision            = "VISION_FAILED"
	ErrorCodeScoringQuota      = "SCORING_QUOTA_EXCEEDED"
	ErrorCodeScoringCredential = "SCORING_INVALID_CREDENTIAL"
	ErrorCodeScoringQuery      = "SCORING_MALFORMED_QUERY"
	ErrorCodeScoringConnection = "SCORING_CONNECTION_ERROR"
	ErrorCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrorCodeIncomplete        = "INCOMPLETE_CRITERIA"
	ErrorCodeStorage           = "STORAGE_ERROR"
	ErrorCodeInternal          = "INTERNAL_ERROR"
)

// VisionStageError wraps a failed image-understanding call. Fatal, not
// retried within the job run.
type VisionStageError struct {
	Err error
}

func (e *VisionStageError) Error() string { return fmt.Sprintf("vision stage failed: %v", e.Err) }
func (e *VisionStageError) Unwrap() error { return e.Err }

// MalformedResponseError means the scoring text carried no parseable
// structure at all. Raw holds a truncated copy for diagnostics.
type MalformedResponseError struct {
	Raw string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("scoring response carried no parseable payload: %q", e.Raw)
}

// IncompleteCriteriaError means the payload parsed but fewer than the
// required rubric entries were recognized. A truncated rubric
// invalidates the result, so this is never zero-filled.
type IncompleteCriteriaError struct {
	Found int
}

func (e *IncompleteCriteriaError) Error() string {
	return fmt.Sprintf("incomplete criteria: recognized %d of %d", e.Found, CriterionCount)
}

// PersistenceError wraps a failed store write after a computed result.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence failed: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// classifyFailure maps a pipeline error to its wire code and a message
// safe to show to an end user. Raw upstream bodies never pass through.
func classifyFailure(err error) (code, message string) {
	var vision *VisionStageError
	if errors.As(err, &vision) {
		return ErrorCodeVision, "The image could not be analyzed. Please verify the file and try again."
	}
	var provider *ai.ProviderError
	if errors.As(err, &provider) {
		switch provider.Code {
		case ai.ErrCodeQuotaExceeded:
			return ErrorCodeScoringQuota, "The scoring service quota is exhausted. Please try again later."
		case ai.ErrCodeInvalidCredential:
			return ErrorCodeScoringCredential, "The scoring service rejected the server credentials."
		case ai.ErrCodeMalformedQuery:
			return ErrorCodeScoringQuery, "The scoring request was rejected as malformed."
		default:
			return ErrorCodeScoringConnection, "The scoring service could not be reached."
		}
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return ErrorCodeMalformedResponse, "The scoring service returned an unreadable response."
	}
	var incomplete *IncompleteCriteriaError
	if errors.As(err, &incomplete) {
		return ErrorCodeIncomplete, "The scoring service returned an incomplete rubric."
	}
	var persistence *PersistenceError
	if errors.As(err, &persistence) {
		return ErrorCodeStorage, "The result could not be saved."
	}
	return ErrorCodeInternal, "Unexpected server error."
}
