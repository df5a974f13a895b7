// Package inference defines the contracts for the external model services
// the pipeline stages call: transcription, classification, content
// generation, speech synthesis, and avatar rendering. All implementations
// are opaque remote services; the pipeline only depends on these interfaces.
package inference

import (
	"context"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

// WordTiming is one word-level timestamp in a transcript.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscriptResult is the output of the transcription service.
type TranscriptResult struct {
	Transcript string          `json:"transcript"`
	Language   domain.Language `json:"language"`
	Confidence float64         `json:"confidence"`
	Timings    []WordTiming    `json:"timings,omitempty"`
}

// Classification is the output of the language/intent classification service.
type Classification struct {
	Language   domain.Language `json:"language"`
	Intent     domain.Intent   `json:"intent"`
	Subject    domain.Subject  `json:"subject"`
	Confidence float64         `json:"confidence"`
}

// ContextEntry is one prior turn handed to the content services for grounding.
type ContextEntry struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// TeachRequest asks the teaching service for an instructional answer.
type TeachRequest struct {
	Text         string          `json:"text"`
	Language     domain.Language `json:"language"`
	Subject      domain.Subject  `json:"subject"`
	Persona      domain.Persona  `json:"persona"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Style        string          `json:"style,omitempty"`
	Context      []ContextEntry  `json:"context,omitempty"`
}

// TeachingResult is the teaching service's answer.
type TeachingResult struct {
	Text       string   `json:"text"`
	Summary    string   `json:"summary,omitempty"`
	Confidence float64  `json:"confidence"`
	NeedSteps  bool     `json:"need_steps,omitempty"`
	Citations  []string `json:"citations,omitempty"`
}

// QuizGenRequest asks the quiz service for a question set.
type QuizGenRequest struct {
	Topic      string            `json:"topic"`
	Difficulty domain.Difficulty `json:"difficulty"`
	Subject    domain.Subject    `json:"subject"`
	Language   domain.Language   `json:"language"`
	Count      int               `json:"num_questions"`
}

// HomeworkRequest asks the review service for a verdict on uploaded homework.
type HomeworkRequest struct {
	FileRef        string          `json:"file_ref"`
	Subject        domain.Subject  `json:"subject"`
	Language       domain.Language `json:"language"`
	ExpectedFormat string          `json:"expected_format,omitempty"`
}

// HomeworkResult is the review service's verdict.
type HomeworkResult struct {
	Verdict     string   `json:"verdict"` // correct / incorrect / partial
	Score       float64  `json:"score"`
	ShortReason string   `json:"short_reason"`
	Explanation string   `json:"detailed_explanation,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// PhonemeTiming is one phoneme timestamp in synthesized speech.
type PhonemeTiming struct {
	Phoneme string  `json:"phoneme"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// SpeechRequest asks the speech service to synthesize audio.
type SpeechRequest struct {
	Text       string          `json:"text"`
	VoiceStyle string          `json:"voice_style"`
	Language   domain.Language `json:"language"`
	Emotion    domain.Emotion  `json:"emotion"`
}

// SpeechResult references synthesized audio.
type SpeechResult struct {
	AudioRef string          `json:"audio_ref"`
	Phonemes []PhonemeTiming `json:"phoneme_timestamps,omitempty"`
}

// GestureCue is one entry in an avatar gesture timeline.
type GestureCue struct {
	Gesture string  `json:"gesture"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// AvatarRequest asks the avatar service to render a clip.
type AvatarRequest struct {
	Text       string            `json:"text"`
	AudioRef   string            `json:"audio_ref,omitempty"`
	Emotion    domain.Emotion    `json:"emotion"`
	GestureTag domain.GestureTag `json:"gesture_tag"`
}

// AvatarResult references a rendered avatar clip.
type AvatarResult struct {
	VideoRef        string       `json:"video_ref"`
	ExpectedDelayMS int          `json:"expected_delay_ms,omitempty"`
	GestureTimeline []GestureCue `json:"gesture_timeline,omitempty"`
}

// Transcriber converts audio into a transcript with word timings.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, hint domain.Language) (*TranscriptResult, error)
}

// Classifier detects the language, intent, and subject of a text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}

// Generator produces instructional content: answers, quizzes, and homework
// verdicts.
type Generator interface {
	Teach(ctx context.Context, req TeachRequest) (*TeachingResult, error)
	GenerateQuiz(ctx context.Context, req QuizGenRequest) ([]domain.QuizQuestion, error)
	ReviewHomework(ctx context.Context, req HomeworkRequest) (*HomeworkResult, error)
}

// SpeechSynthesizer turns response text into audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}

// AvatarRenderer turns response text and gesture tags into an avatar clip.
type AvatarRenderer interface {
	Render(ctx context.Context, req AvatarRequest) (*AvatarResult, error)
}
