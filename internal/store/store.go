// Package store provides session persistence with per-session write serialization.
package store

import (
	"context"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

// SessionStore owns session records and their context windows. All mutating
// operations on a single session id are serialized; operations on distinct
// ids proceed independently.
type SessionStore interface {
	// Create creates a new session for the user. languagePinned marks the
	// language as explicitly declared, which lets the router skip detection.
	Create(ctx context.Context, userID string, language domain.Language, languagePinned bool, persona domain.Persona) (*domain.Session, error)

	// Get retrieves a session by id. Returns domain.ErrNotFound for unknown
	// ids and domain.ErrExpired when the session is past its TTL.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// AppendTurn appends a completed turn to the session's context window,
	// evicting the oldest entry on overflow, and returns the updated session.
	AppendTurn(ctx context.Context, id string, turn *domain.Turn) (*domain.Session, error)

	// SetActiveQuiz sets or clears (quiz == nil) the session's active quiz.
	SetActiveQuiz(ctx context.Context, id string, quiz *domain.Quiz) error

	// UpdateActiveQuiz mutates the active quiz atomically. The quiz id is
	// re-verified under the session lock; a stale id returns
	// domain.ErrQuizAlreadySubmitted or domain.ErrQuizMismatch.
	UpdateActiveQuiz(ctx context.Context, id, quizID string, mutate func(*domain.Quiz) error) error

	// CompleteQuiz clears the active quiz and records the scored quiz and
	// attempt as immutable history. The active quiz must still match the
	// given quiz's id; concurrent completions of the same quiz resolve to a
	// single winner, the rest get domain.ErrQuizAlreadySubmitted.
	CompleteQuiz(ctx context.Context, id string, quiz *domain.Quiz, attempt *domain.QuizAttempt) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// ExpiredSessionIDs returns ids of sessions idle longer than the TTL.
	ExpiredSessionIDs(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies backing storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the backing storage.
	Close() error
}
