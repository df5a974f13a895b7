package domain

import (
	"time"
)

// Session holds one learner's tutoring state: identity, language, persona,
// the bounded context window of completed turns, and the active quiz, if any.
//
// Sessions are owned by the store; components address them by id and never
// share a mutable reference across turns.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Language       Language  `json:"language"`
	LanguagePinned bool      `json:"language_pinned"`
	Persona        Persona   `json:"persona"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Context is the bounded window of prior turns, oldest first.
	Context []Turn `json:"context_window"`

	// ActiveQuiz is the in-flight quiz, nil when none is active.
	ActiveQuiz *Quiz `json:"active_quiz,omitempty"`

	// LastQuiz and LastAttempt are immutable history of the most recently
	// scored quiz, kept so a repeated submission can be distinguished from
	// an unknown quiz id.
	LastQuiz    *Quiz        `json:"last_quiz,omitempty"`
	LastAttempt *QuizAttempt `json:"last_attempt,omitempty"`
}

// RecentTurns returns the last n turns from the context window.
func (s *Session) RecentTurns(n int) []Turn {
	if n >= len(s.Context) {
		return s.Context
	}
	return s.Context[len(s.Context)-n:]
}
