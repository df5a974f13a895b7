package pipeline

import (
	"context"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

// Enrichment stages decorate an already-complete response. They degrade on
// any error or timeout and never fail the turn.

// SpeechStage synthesizes audio for the final response text.
type SpeechStage struct {
	synthesizer inference.SpeechSynthesizer
	budget      time.Duration
}

// NewSpeechStage creates the speech enrichment stage.
func NewSpeechStage(synthesizer inference.SpeechSynthesizer, budget time.Duration) *SpeechStage {
	return &SpeechStage{synthesizer: synthesizer, budget: budget}
}

func (s *SpeechStage) Name() string          { return StageSpeech }
func (s *SpeechStage) Budget() time.Duration { return s.budget }

func (s *SpeechStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	if state.Synthesized == nil {
		return domain.DegradedResult(nil, "no synthesized response to voice")
	}

	result, err := s.synthesizer.Synthesize(ctx, inference.SpeechRequest{
		Text:       state.Synthesized.Text,
		VoiceStyle: state.Synthesized.VoiceStyle,
		Language:   state.Language,
		Emotion:    state.Synthesized.Emotion,
	})
	if err != nil {
		return domain.DegradedResult(nil, "speech synthesis failed: "+err.Error())
	}

	state.Speech = result
	return domain.SuccessResult(result, 1)
}

// AvatarStage renders an avatar clip for the final response.
type AvatarStage struct {
	renderer inference.AvatarRenderer
	budget   time.Duration
}

// NewAvatarStage creates the avatar enrichment stage.
func NewAvatarStage(renderer inference.AvatarRenderer, budget time.Duration) *AvatarStage {
	return &AvatarStage{renderer: renderer, budget: budget}
}

func (s *AvatarStage) Name() string          { return StageAvatarRenderer }
func (s *AvatarStage) Budget() time.Duration { return s.budget }

func (s *AvatarStage) Execute(ctx context.Context, state *TurnState) domain.StageResult {
	if state.Synthesized == nil {
		return domain.DegradedResult(nil, "no synthesized response to render")
	}

	// Runs concurrently with speech, so no audio reference is available yet;
	// the client pairs audio and video from the final response.
	result, err := s.renderer.Render(ctx, inference.AvatarRequest{
		Text:       state.Synthesized.Text,
		Emotion:    state.Synthesized.Emotion,
		GestureTag: state.Synthesized.GestureTag,
	})
	if err != nil {
		return domain.DegradedResult(nil, "avatar rendering failed: "+err.Error())
	}

	state.Avatar = result
	return domain.SuccessResult(result, 1)
}
