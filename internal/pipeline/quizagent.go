package pipeline

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/quiz"
)

// topicPrefix strips quiz-request phrasing so the remainder can serve as the
// quiz topic.
var topicPrefix = regexp.MustCompile(`(?i)^(give me a quiz( on| about)?|quiz me( on| about)?|test my knowledge( of| on| about)?|practice questions( on| about)?|create a quiz( on| about)?|challenge me( on| about)?)\s*`)

// QuizStage generates a quiz from a conversational request and activates it
// on the session.
type QuizStage struct {
	quizzes *quiz.Service
	budget  time.Duration
}

// NewQuizStage creates the quiz content stage.
func NewQuizStage(quizzes *quiz.Service, budget time.Duration) *QuizStage {
	return &QuizStage{quizzes: quizzes, budget: budget}
}

func (s *QuizStage) Name() string          { return StageQuiz }
func (s *QuizStage) Budget() time.Duration { return s.budget }

func (s *QuizStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	topic := extractTopic(state.Text)
	if topic == "" {
		topic = string(state.Subject)
	}

	generated, err := s.quizzes.Generate(ctx, state.Session.ID, topic, domain.DifficultyMedium, state.Subject, 0)
	if err != nil {
		return domain.FailedResult(domain.ErrKindContentGeneration, "quiz generation failed: "+err.Error())
	}

	state.Quiz = generated
	return domain.SuccessResult(generated, 1)
}

func extractTopic(text string) string {
	topic := topicPrefix.ReplaceAllString(strings.TrimSpace(text), "")
	return strings.Trim(topic, " .!?")
}
