package pipeline

import (
	"context"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

// TranscriptionStage converts submitted audio into working text. A turn with
// no usable transcript cannot be classified, so failures are fatal.
type TranscriptionStage struct {
	transcriber inference.Transcriber
	budget      time.Duration
}

// NewTranscriptionStage creates the transcription stage.
func NewTranscriptionStage(transcriber inference.Transcriber, budget time.Duration) *TranscriptionStage {
	return &TranscriptionStage{transcriber: transcriber, budget: budget}
}

func (s *TranscriptionStage) Name() string          { return StageTranscription }
func (s *TranscriptionStage) Budget() time.Duration { return s.budget }

func (s *TranscriptionStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	result, err := s.transcriber.Transcribe(ctx, state.Input.Audio, state.Input.LanguageHint)
	if err != nil {
		return domain.FailedResult(domain.ErrKindClassification, "transcription failed: "+err.Error())
	}
	if result.Transcript == "" {
		return domain.FailedResult(domain.ErrKindClassification, "empty transcript")
	}

	state.Text = result.Transcript
	if result.Language.IsValid() {
		state.Language = result.Language
	}
	return domain.SuccessResult(result, result.Confidence)
}
