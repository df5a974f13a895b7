package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

func TestLanguageDetectionFallbackCarriesConfidence(t *testing.T) {
	stage := NewLanguageDetectionStage(&fakeInference{classifyErr: errors.New("classifier down")}, time.Second)
	state := &TurnState{
		Input: domain.TurnInput{Text: "the cat is on the mat and it was there"},
		Text:  "the cat is on the mat and it was there",
	}

	result := stage.Execute(context.Background(), state)
	if result.Status != domain.StageDegraded {
		t.Fatalf("expected degraded result, got %+v", result)
	}
	if state.Language != domain.LanguageEnglish {
		t.Errorf("heuristic language = %s", state.Language)
	}

	_, want := DetectLanguageByScript(state.Text, "")
	if result.Confidence != want {
		t.Errorf("degraded result confidence = %v, want heuristic confidence %v", result.Confidence, want)
	}
	if result.Confidence <= 0 {
		t.Errorf("heuristic confidence must be positive for clear text, got %v", result.Confidence)
	}
}

func TestLanguageDetectionRemoteSuccess(t *testing.T) {
	stage := NewLanguageDetectionStage(&fakeInference{
		classification: &inference.Classification{Language: domain.LanguageHindi, Confidence: 0.9},
	}, time.Second)
	state := &TurnState{Text: "some text"}

	result := stage.Execute(context.Background(), state)
	if !result.Succeeded() || result.Confidence != 0.9 {
		t.Fatalf("expected success with remote confidence, got %+v", result)
	}
	if state.Language != domain.LanguageHindi {
		t.Errorf("language = %s", state.Language)
	}
}
