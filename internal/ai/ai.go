// Package ai defines the ports to the two external analysis services:
// an image-understanding service that turns an image into descriptive
// text, and a scoring service that answers a text query with prose
// expected to contain a structured payload.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// VisionClient describes an uploaded image.
type VisionClient interface {
	Describe(ctx context.Context, input DescribeInput) (string, error)
}

// DescribeInput carries the raw image and its declared media type.
type DescribeInput struct {
	Image     []byte
	MediaType string
	// Hint steers the description toward the aspects the rubric cares
	// about (composition, typography, color). Optional.
	Hint string
}

// ScoringClient answers a text query.
type ScoringClient interface {
	Score(ctx context.Context, input ScoreInput) (ScoreResult, error)
}

// ScoreInput is the full query text sent to the scoring service.
type ScoreInput struct {
	Query string
}

// ScoreResult is the free-form answer plus optional citations.
type ScoreResult struct {
	Text      string
	Citations []string
}

// Provider-signaled failure codes. Connection covers transport errors
// where the provider never answered.
const (
	ErrCodeQuotaExceeded     = "quota_exceeded"
	ErrCodeInvalidCredential = "invalid_credential"
	ErrCodeMalformedQuery    = "malformed_query"
	ErrCodeConnection        = "connection_error"
)

// ProviderError is a classified failure from an external service.
type ProviderError struct {
	Provider string
	Code     string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err carries the given provider code.
func IsProviderError(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
