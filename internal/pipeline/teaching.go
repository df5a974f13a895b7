package pipeline

import (
	"context"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
	"github.com/vidyalabs/tutor-server/internal/prompts"
)

// fallbackAnswer is substituted when the teaching service responds but
// produces no usable text.
const fallbackAnswer = "I apologize, but I encountered an error processing your request. Please try again."

// contextTurns is how many prior turns ground a teaching request.
const contextTurns = 5

// TeachingStage produces the instructional answer for ask and small-talk
// turns. Transport failures are fatal; an empty answer degrades to the fixed
// fallback text.
type TeachingStage struct {
	generator inference.Generator
	library   *prompts.Library
	budget    time.Duration
}

// NewTeachingStage creates the teaching stage.
func NewTeachingStage(generator inference.Generator, library *prompts.Library, budget time.Duration) *TeachingStage {
	return &TeachingStage{generator: generator, library: library, budget: budget}
}

func (s *TeachingStage) Name() string          { return StageTeaching }
func (s *TeachingStage) Budget() time.Duration { return s.budget }

func (s *TeachingStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	req := inference.TeachRequest{
		Text:         state.Text,
		Language:     state.Language,
		Subject:      state.Subject,
		Persona:      state.Session.Persona,
		SystemPrompt: s.library.SystemPrompt(state.Subject, state.Session.Persona),
		Style:        s.library.Style(state.Subject),
		Context:      buildContext(state.Session),
	}

	result, err := s.generator.Teach(ctx, req)
	if err != nil {
		return domain.FailedResult(domain.ErrKindContentGeneration, "teaching request failed: "+err.Error())
	}
	if result.Text == "" {
		state.Teaching = &inference.TeachingResult{Text: fallbackAnswer}
		return domain.DegradedResult(state.Teaching, "empty answer, substituted fallback text")
	}

	state.Teaching = result
	return domain.SuccessResult(result, result.Confidence)
}

// buildContext collects the most recent completed turns as grounding pairs.
func buildContext(session *domain.Session) []inference.ContextEntry {
	recent := session.RecentTurns(contextTurns)
	entries := make([]inference.ContextEntry, 0, len(recent))
	for _, turn := range recent {
		if turn.Response == nil {
			continue
		}
		entries = append(entries, inference.ContextEntry{
			Input:  turn.Input.Text,
			Output: turn.Response.Text,
		})
	}
	return entries
}
