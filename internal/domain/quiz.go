package domain

import (
	"time"
)

// QuizState tracks a quiz through its lifecycle.
// Transitions: Created -> InProgress -> Submitted -> Scored.
type QuizState string

const (
	QuizCreated    QuizState = "created"
	QuizInProgress QuizState = "in_progress"
	QuizSubmitted  QuizState = "submitted"
	QuizScored     QuizState = "scored"
)

// QuizQuestion is one multiple-choice question.
type QuizQuestion struct {
	ID           string   `json:"question_id"`
	Prompt       string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_answer"`
	Explanation  string   `json:"explanation,omitempty"`
	Hint         string   `json:"hint,omitempty"`
	Topic        string   `json:"topic,omitempty"`
}

// Quiz is a generated question set. It is referenced by the session while
// active and becomes immutable history once an attempt is scored.
type Quiz struct {
	ID           string         `json:"quiz_id"`
	Topic        string         `json:"topic"`
	Difficulty   Difficulty     `json:"difficulty"`
	Subject      Subject        `json:"subject"`
	Questions    []QuizQuestion `json:"questions"`
	TimeLimitSec int            `json:"time_limit,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	State        QuizState      `json:"state"`

	// Answers records selections made before submission, keyed by question id.
	Answers map[string]int `json:"answers,omitempty"`
}

// QuestionOutcome is the per-question verdict of a scored attempt, produced
// in question order.
type QuestionOutcome struct {
	QuestionID   string `json:"question_id"`
	Selected     int    `json:"selected"`
	CorrectIndex int    `json:"correct_answer"`
	Correct      bool   `json:"correct"`
	Explanation  string `json:"explanation,omitempty"`
}

// QuizAttempt is the scored result of one full answer submission.
type QuizAttempt struct {
	QuizID      string            `json:"quiz_id"`
	Answers     map[string]int    `json:"answers"`
	Score       float64           `json:"score"`
	Correct     int               `json:"correct_answers"`
	Total       int               `json:"total_questions"`
	PerQuestion []QuestionOutcome `json:"detailed_feedback"`
	Remediation []string          `json:"remediation_plan,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}
