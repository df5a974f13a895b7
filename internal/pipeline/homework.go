package pipeline

import (
	"context"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

// HomeworkStage obtains a review verdict for an uploaded submission. It only
// runs on turns carrying a homework reference.
type HomeworkStage struct {
	generator inference.Generator
	budget    time.Duration
}

// NewHomeworkStage creates the homework review stage.
func NewHomeworkStage(generator inference.Generator, budget time.Duration) *HomeworkStage {
	return &HomeworkStage{generator: generator, budget: budget}
}

func (s *HomeworkStage) Name() string          { return StageHomework }
func (s *HomeworkStage) Budget() time.Duration { return s.budget }

func (s *HomeworkStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	submission := state.Input.Homework
	if submission == nil {
		return domain.FailedResult(domain.ErrKindContentGeneration, "no homework submission on turn")
	}

	subject := submission.Subject
	if !subject.IsValid() {
		subject = state.Subject
	}

	result, err := s.generator.ReviewHomework(ctx, inference.HomeworkRequest{
		FileRef:        submission.FileRef,
		Subject:        subject,
		Language:       state.Language,
		ExpectedFormat: submission.ExpectedFormat,
	})
	if err != nil {
		return domain.FailedResult(domain.ErrKindContentGeneration, "homework review failed: "+err.Error())
	}

	state.Homework = result
	return domain.SuccessResult(result, result.Confidence)
}
