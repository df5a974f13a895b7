// Package quiz drives the quiz lifecycle: generation, answer recording, and
// scoring. States move Created -> InProgress -> Submitted -> Scored; a scored
// quiz is immutable history.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
	"github.com/vidyalabs/tutor-server/internal/store"
)

const defaultQuestionCount = 5

// Service owns quiz state transitions for sessions.
type Service struct {
	sessions  store.SessionStore
	generator inference.Generator
}

// NewService creates a quiz service.
func NewService(sessions store.SessionStore, generator inference.Generator) *Service {
	return &Service{sessions: sessions, generator: generator}
}

// Generate creates a new quiz and makes it the session's active quiz,
// replacing any unfinished one.
func (s *Service) Generate(ctx context.Context, sessionID, topic string, difficulty domain.Difficulty, subject domain.Subject, count int) (*domain.Quiz, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if count <= 0 {
		count = defaultQuestionCount
	}
	if !difficulty.IsValid() {
		difficulty = domain.DifficultyMedium
	}
	if !subject.IsValid() {
		subject = domain.SubjectGeneral
	}

	questions, err := s.generator.GenerateQuiz(ctx, inference.QuizGenRequest{
		Topic:      topic,
		Difficulty: difficulty,
		Subject:    subject,
		Language:   session.Language,
		Count:      count,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrContentGenerationFailed, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: empty question set", domain.ErrContentGenerationFailed)
	}

	for i := range questions {
		if questions[i].ID == "" {
			questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}

	quiz := &domain.Quiz{
		ID:           uuid.NewString(),
		Topic:        topic,
		Difficulty:   difficulty,
		Subject:      subject,
		Questions:    questions,
		Instructions: "Answer every question, then submit once. Each question has exactly one correct option.",
		CreatedAt:    time.Now(),
		State:        domain.QuizCreated,
		Answers:      make(map[string]int),
	}

	if err := s.sessions.SetActiveQuiz(ctx, sessionID, quiz); err != nil {
		return nil, err
	}
	slog.Info("Quiz generated", "session_id", sessionID, "quiz_id", quiz.ID, "topic", topic, "questions", len(questions))
	return quiz, nil
}

// RecordAnswer stores one answer selection on the active quiz. The first
// recorded answer moves the quiz from Created to InProgress. The update runs
// under the session lock, so concurrent recordings cannot lose answers.
func (s *Service) RecordAnswer(ctx context.Context, sessionID, quizID, questionID string, selected int) error {
	return s.sessions.UpdateActiveQuiz(ctx, sessionID, quizID, func(quiz *domain.Quiz) error {
		if !questionExists(quiz, questionID) {
			return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
		}
		if quiz.Answers == nil {
			quiz.Answers = make(map[string]int)
		}
		quiz.Answers[questionID] = selected
		if quiz.State == domain.QuizCreated {
			quiz.State = domain.QuizInProgress
		}
		return nil
	})
}

// Submit scores a full answer set against the session's active quiz. The quiz
// moves through Submitted to Scored, the attempt is recorded as history, and
// the active quiz is cleared. Submitting the same quiz twice returns
// AlreadySubmitted; an unknown quiz id returns Mismatch. CompleteQuiz
// re-verifies the active quiz under the session lock, so concurrent
// submissions of the same quiz resolve to a single scored attempt.
func (s *Service) Submit(ctx context.Context, sessionID, quizID string, answers map[string]int) (*domain.QuizAttempt, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	quiz := session.ActiveQuiz
	if quiz == nil || quiz.ID != quizID {
		return nil, s.mismatchError(session, quizID)
	}

	quiz.State = domain.QuizSubmitted
	attempt := Score(quiz, answers)
	quiz.State = domain.QuizScored

	if err := s.sessions.CompleteQuiz(ctx, sessionID, quiz, attempt); err != nil {
		return nil, err
	}
	slog.Info("Quiz scored", "session_id", sessionID, "quiz_id", quizID,
		"score", attempt.Score, "correct", attempt.Correct, "total", attempt.Total)
	return attempt, nil
}

// mismatchError distinguishes a repeat submission of the last scored quiz
// from a genuinely unknown quiz id.
func (s *Service) mismatchError(session *domain.Session, quizID string) error {
	if session.LastQuiz != nil && session.LastQuiz.ID == quizID {
		return domain.ErrQuizAlreadySubmitted
	}
	return domain.ErrQuizMismatch
}

// Score grades an answer set. Unanswered questions count as incorrect. The
// score is correct/total*100, rounded to one decimal; per-question outcomes
// follow question order.
func Score(quiz *domain.Quiz, answers map[string]int) *domain.QuizAttempt {
	attempt := &domain.QuizAttempt{
		QuizID:      quiz.ID,
		Answers:     answers,
		Total:       len(quiz.Questions),
		PerQuestion: make([]domain.QuestionOutcome, 0, len(quiz.Questions)),
		SubmittedAt: time.Now(),
	}

	missedTopics := make(map[string]bool)
	for _, q := range quiz.Questions {
		selected, answered := answers[q.ID]
		if !answered {
			selected = -1
		}
		correct := answered && selected == q.CorrectIndex
		if correct {
			attempt.Correct++
		} else if q.Topic != "" && !missedTopics[q.Topic] {
			missedTopics[q.Topic] = true
			attempt.Remediation = append(attempt.Remediation, "Review "+q.Topic)
		}
		attempt.PerQuestion = append(attempt.PerQuestion, domain.QuestionOutcome{
			QuestionID:   q.ID,
			Selected:     selected,
			CorrectIndex: q.CorrectIndex,
			Correct:      correct,
			Explanation:  q.Explanation,
		})
	}

	if attempt.Total > 0 {
		attempt.Score = math.Round(float64(attempt.Correct)/float64(attempt.Total)*1000) / 10
	}
	return attempt
}

func questionExists(quiz *domain.Quiz, questionID string) bool {
	for _, q := range quiz.Questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}
