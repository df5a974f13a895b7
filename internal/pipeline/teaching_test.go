package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
	"github.com/vidyalabs/tutor-server/internal/prompts"
)

// teachCapture records the request the teaching stage builds.
type teachCapture struct {
	req inference.TeachRequest
}

func (c *teachCapture) Teach(_ context.Context, req inference.TeachRequest) (*inference.TeachingResult, error) {
	c.req = req
	return &inference.TeachingResult{Text: "answer", Confidence: 1}, nil
}

func (c *teachCapture) GenerateQuiz(context.Context, inference.QuizGenRequest) ([]domain.QuizQuestion, error) {
	return nil, errors.New("not used")
}

func (c *teachCapture) ReviewHomework(context.Context, inference.HomeworkRequest) (*inference.HomeworkResult, error) {
	return nil, errors.New("not used")
}

func TestTeachingRequestCarriesPromptAndStyle(t *testing.T) {
	library, err := prompts.Load()
	if err != nil {
		t.Fatalf("prompts.Load: %v", err)
	}

	capture := &teachCapture{}
	stage := NewTeachingStage(capture, library, time.Second)
	state := &TurnState{
		Session:  &domain.Session{Persona: domain.PersonaFriendly},
		Text:     "what is a fraction",
		Language: domain.LanguageEnglish,
		Subject:  domain.SubjectMath,
	}

	if result := stage.Execute(context.Background(), state); !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}

	if capture.req.SystemPrompt == "" {
		t.Error("system prompt missing from the teach request")
	}
	if want := library.Style(domain.SubjectMath); capture.req.Style != want {
		t.Errorf("style hint = %q, want %q", capture.req.Style, want)
	}
	if capture.req.Subject != domain.SubjectMath || capture.req.Persona != domain.PersonaFriendly {
		t.Errorf("request fields lost: %+v", capture.req)
	}
}
