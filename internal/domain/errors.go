package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for session and quiz state violations.
var (
	ErrNotFound                = errors.New("session not found")
	ErrExpired                 = errors.New("session expired")
	ErrQuizMismatch            = errors.New("quiz id does not match the session's active quiz")
	ErrQuizAlreadySubmitted    = errors.New("quiz already submitted")
	ErrQuestionNotFound        = errors.New("question not in the active quiz")
	ErrHomeworkInProgress      = errors.New("a homework review is already in progress for this session")
	ErrClassificationFailed    = errors.New("could not classify the request")
	ErrContentGenerationFailed = errors.New("content generation failed")
)

// RateLimitedError is returned when a capability budget is exhausted.
type RateLimitedError struct {
	Capability string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Capability, e.RetryAfter)
}

// ErrorKind is the user-safe classification carried on terminal error events.
type ErrorKind string

const (
	ErrKindNotFound           ErrorKind = "not_found"
	ErrKindExpired            ErrorKind = "expired"
	ErrKindRateLimited        ErrorKind = "rate_limited"
	ErrKindClassification     ErrorKind = "classification_failed"
	ErrKindContentGeneration  ErrorKind = "content_generation_failed"
	ErrKindEnrichmentDegraded ErrorKind = "enrichment_degraded"
	ErrKindStageTimeout       ErrorKind = "stage_timeout"
	ErrKindMismatch           ErrorKind = "mismatch"
	ErrKindAlreadySubmitted   ErrorKind = "already_submitted"
	ErrKindInternal           ErrorKind = "internal"
)

// KindForError maps an error to its user-safe kind.
func KindForError(err error) ErrorKind {
	var rle *RateLimitedError
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrKindNotFound
	case errors.Is(err, ErrExpired):
		return ErrKindExpired
	case errors.As(err, &rle):
		return ErrKindRateLimited
	case errors.Is(err, ErrClassificationFailed):
		return ErrKindClassification
	case errors.Is(err, ErrContentGenerationFailed):
		return ErrKindContentGeneration
	case errors.Is(err, ErrQuizMismatch):
		return ErrKindMismatch
	case errors.Is(err, ErrQuizAlreadySubmitted):
		return ErrKindAlreadySubmitted
	default:
		return ErrKindInternal
	}
}
