// Package pipeline runs one tutoring turn through its staged processing
// graph: classification, content generation, synthesis, and enrichment.
package pipeline

import (
	"context"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

// Stage names, stable identifiers used in routes, progress events, and
// persisted stage outputs.
const (
	StageTranscription  = "transcription"
	StageLanguage       = "language_detection"
	StageIntent         = "intent_classification"
	StageTeaching       = "teaching"
	StageQuiz           = "quiz"
	StageHomework       = "homework"
	StageSynthesizer    = "response_synthesis"
	StageSpeech         = "speech_synthesis"
	StageAvatarRenderer = "avatar_rendering"
)

// TurnState is the mutable working state one turn's stages read and write.
// It is owned by a single orchestrator invocation and never shared.
type TurnState struct {
	Session *domain.Session
	Input   domain.TurnInput

	// Text is the working input text: the submitted text, or the transcript
	// once transcription has run.
	Text string

	Language   domain.Language
	Intent     domain.Intent
	Subject    domain.Subject
	Confidence float64

	Teaching    *inference.TeachingResult
	Quiz        *domain.Quiz
	Homework    *inference.HomeworkResult
	Synthesized *SynthesizedResponse
	Speech      *inference.SpeechResult
	Avatar      *inference.AvatarResult
}

// SynthesizedResponse is the response synthesizer's output: the final text
// plus the delivery metadata the enrichment stages consume.
type SynthesizedResponse struct {
	Text          string                `json:"text"`
	Summary       string                `json:"summary,omitempty"`
	Confidence    float64               `json:"confidence"`
	NeedSteps     bool                  `json:"need_steps,omitempty"`
	Citations     []string              `json:"citations,omitempty"`
	VoiceStyle    string                `json:"voice_style"`
	Emotion       domain.Emotion        `json:"emotion"`
	GestureTag    domain.GestureTag     `json:"gesture_tag"`
	EmphasisSpans []domain.EmphasisSpan `json:"emphasis_spans,omitempty"`
}

// Stage is one unit of turn processing. Execute must honor ctx cancellation
// and return within its budget; the orchestrator enforces the budget with a
// context deadline.
type Stage interface {
	Name() string
	Budget() time.Duration
	Execute(ctx context.Context, state *TurnState) domain.StageResult
}
