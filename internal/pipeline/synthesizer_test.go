package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
)

func synthState(intent domain.Intent, teaching *inference.TeachingResult) *TurnState {
	return &TurnState{
		Session:  &domain.Session{Persona: domain.PersonaFriendly},
		Intent:   intent,
		Language: domain.LanguageEnglish,
		Teaching: teaching,
	}
}

func TestSynthesizerEscalationPayloadIsFixed(t *testing.T) {
	stage := NewSynthesizerStage()

	first := synthState(domain.IntentEscalate, nil)
	second := synthState(domain.IntentEscalate, &inference.TeachingResult{Text: "ignored"})

	r1 := stage.Execute(context.Background(), first)
	r2 := stage.Execute(context.Background(), second)
	if !r1.Succeeded() || !r2.Succeeded() {
		t.Fatalf("escalation synthesis must succeed: %+v %+v", r1, r2)
	}
	if first.Synthesized.Text != second.Synthesized.Text {
		t.Error("escalation payload must be identical across turns")
	}
	if first.Synthesized.Emotion != domain.EmotionCalm {
		t.Errorf("escalation emotion should be calm, got %s", first.Synthesized.Emotion)
	}
}

func TestSynthesizerCarriesTeachingResult(t *testing.T) {
	stage := NewSynthesizerStage()
	state := synthState(domain.IntentAsk, &inference.TeachingResult{
		Text:       "A derivative measures the rate of change.",
		Summary:    "derivatives",
		Confidence: 0.9,
		Citations:  []string{"calculus-basics"},
	})

	result := stage.Execute(context.Background(), state)
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	synth := state.Synthesized
	if !strings.Contains(synth.Text, "rate of change") {
		t.Errorf("teaching text lost: %q", synth.Text)
	}
	if synth.Summary != "derivatives" || synth.Confidence != 0.9 {
		t.Errorf("metadata lost: %+v", synth)
	}
	if synth.VoiceStyle == "" || synth.GestureTag == "" {
		t.Errorf("expected delivery metadata, got %+v", synth)
	}
}

func TestSynthesizerSmallTalkGetsEncouragingFrame(t *testing.T) {
	stage := NewSynthesizerStage()
	state := synthState(domain.IntentSmallTalk, &inference.TeachingResult{Text: "Doing great today."})

	stage.Execute(context.Background(), state)
	if state.Synthesized.Emotion != domain.EmotionEncouraging {
		t.Errorf("small talk should be encouraging, got %s", state.Synthesized.Emotion)
	}
	if !strings.HasPrefix(state.Synthesized.Text, "Great! ") {
		t.Errorf("encouraging prefix missing: %q", state.Synthesized.Text)
	}
}

func TestGestureForText(t *testing.T) {
	cases := []struct {
		text string
		want domain.GestureTag
	}{
		{"Yes, that is correct, good work", domain.GestureAffirmative},
		{"No, that is incorrect, try again", domain.GestureCorrective},
		{"Imagine a picture, for example visualize a circle", domain.GestureIllustrative},
	}
	for _, tc := range cases {
		if got := gestureForText(tc.text); got != tc.want {
			t.Errorf("gestureForText(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestDetectEmphasisSpansAreOrdered(t *testing.T) {
	spans := detectEmphasis(`Remember this: **fractions** are "parts of a whole", a key idea.`)
	if len(spans) == 0 {
		t.Fatal("expected emphasis spans")
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Start < spans[i-1].Start {
			t.Fatalf("spans out of order: %v", spans)
		}
	}
}

func TestVoiceStyle(t *testing.T) {
	if got := voiceStyle(domain.PersonaProfessional, domain.EmotionCalm); got != "formal_low" {
		t.Errorf("voiceStyle professional/calm = %s", got)
	}
	if got := voiceStyle(domain.PersonaEncouraging, domain.EmotionExcited); got != "enthusiastic_high" {
		t.Errorf("voiceStyle encouraging/excited = %s", got)
	}
	if got := voiceStyle("", domain.EmotionNeutral); got != "warm_medium" {
		t.Errorf("voiceStyle default = %s", got)
	}
}
