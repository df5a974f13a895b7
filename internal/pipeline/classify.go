package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

// LanguageDetectionStage resolves the turn's language. The remote classifier
// is consulted first; when it cannot be reached the script and indicator-word
// heuristic substitutes a Degraded result. Sessions with a pinned language
// never route through this stage.
type LanguageDetectionStage struct {
	classifier inference.Classifier
	budget     time.Duration
}

// NewLanguageDetectionStage creates the language detection stage.
func NewLanguageDetectionStage(classifier inference.Classifier, budget time.Duration) *LanguageDetectionStage {
	return &LanguageDetectionStage{classifier: classifier, budget: budget}
}

func (s *LanguageDetectionStage) Name() string          { return StageLanguage }
func (s *LanguageDetectionStage) Budget() time.Duration { return s.budget }

func (s *LanguageDetectionStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	cls, err := s.classifier.Classify(ctx, state.Text)
	if err == nil && cls.Language.IsValid() {
		state.Language = cls.Language
		return domain.SuccessResult(cls.Language, cls.Confidence)
	}

	lang, confidence := DetectLanguageByScript(state.Text, state.Input.LanguageHint)
	state.Language = lang
	if err != nil {
		slog.Warn("Language classifier failed, using heuristic", "error", err)
	}
	result := domain.DegradedResult(lang, "classifier unavailable, detected by script heuristic")
	result.Confidence = confidence
	return result
}

// IntentClassificationStage resolves the turn's intent and subject. The
// keyword rules back up the remote classifier; with neither available the
// turn cannot be routed and the stage fails.
type IntentClassificationStage struct {
	classifier inference.Classifier
	budget     time.Duration
}

// NewIntentClassificationStage creates the intent classification stage.
func NewIntentClassificationStage(classifier inference.Classifier, budget time.Duration) *IntentClassificationStage {
	return &IntentClassificationStage{classifier: classifier, budget: budget}
}

func (s *IntentClassificationStage) Name() string          { return StageIntent }
func (s *IntentClassificationStage) Budget() time.Duration { return s.budget }

func (s *IntentClassificationStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	if state.Text == "" {
		return domain.FailedResult(domain.ErrKindClassification, "no text to classify")
	}

	cls, err := s.classifier.Classify(ctx, state.Text)
	if err == nil && cls.Intent.IsValid() {
		state.Intent = cls.Intent
		if cls.Subject.IsValid() {
			state.Subject = cls.Subject
		} else {
			state.Subject, _ = ClassifySubjectByKeywords(state.Text)
		}
		state.Confidence = cls.Confidence
		return domain.SuccessResult(cls, cls.Confidence)
	}
	if err != nil {
		slog.Warn("Intent classifier failed, using keyword rules", "error", err)
	}

	intent, intentConfidence := ClassifyIntentByKeywords(state.Text)
	subject, _ := ClassifySubjectByKeywords(state.Text)
	state.Intent = intent
	state.Subject = subject
	state.Confidence = intentConfidence
	return domain.DegradedResult(intent, "classifier unavailable, classified by keyword rules")
}
