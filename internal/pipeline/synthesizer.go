package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

// escalationText is the fixed supportive payload for escalated turns. No
// content agent runs; the synthesizer emits this verbatim.
const escalationText = "I can see this is challenging, and that's completely okay. Let's slow down and work through it together, one small step at a time. Tell me which part feels most confusing and we'll start there."

// SynthesizerStage shapes the content agent's output into the final response:
// emotion-adjusted text, voice style, gesture tag, and emphasis spans. It is
// a local transform and never fails.
type SynthesizerStage struct{}

// NewSynthesizerStage creates the response synthesis stage.
func NewSynthesizerStage() *SynthesizerStage { return &SynthesizerStage{} }

func (s *SynthesizerStage) Name() string          { return StageSynthesizer }
func (s *SynthesizerStage) Budget() time.Duration { return time.Second }

func (s *SynthesizerStage) Execute(_ context.Context, state *TurnState) domain.StageResult {
	synth := &SynthesizedResponse{}

	switch {
	case state.Intent == domain.IntentEscalate:
		synth.Text = escalationText
		synth.Confidence = 1
		synth.Emotion = domain.EmotionCalm
	case state.Teaching != nil:
		synth.Text = state.Teaching.Text
		synth.Summary = state.Teaching.Summary
		synth.Confidence = state.Teaching.Confidence
		synth.NeedSteps = state.Teaching.NeedSteps
		synth.Citations = state.Teaching.Citations
		synth.Emotion = emotionForIntent(state.Intent)
	default:
		synth.Text = fallbackAnswer
		synth.Emotion = domain.EmotionNeutral
	}

	synth.Text = applyEmotion(synth.Text, synth.Emotion)
	synth.GestureTag = gestureForText(synth.Text)
	synth.VoiceStyle = voiceStyle(state.Session.Persona, synth.Emotion)
	synth.EmphasisSpans = detectEmphasis(synth.Text)

	state.Synthesized = synth
	return domain.SuccessResult(synth, synth.Confidence)
}

func emotionForIntent(intent domain.Intent) domain.Emotion {
	switch intent {
	case domain.IntentSmallTalk:
		return domain.EmotionEncouraging
	case domain.IntentEscalate:
		return domain.EmotionCalm
	default:
		return domain.EmotionNeutral
	}
}

type emotionModifier struct {
	prefix   string
	suffix   string
	emphasis []string
}

var emotionModifiers = map[domain.Emotion]emotionModifier{
	domain.EmotionEncouraging: {
		prefix:   "Great! ",
		suffix:   " Keep up the excellent work!",
		emphasis: []string{"excellent", "wonderful", "fantastic", "amazing"},
	},
	domain.EmotionCorrective: {
		prefix:   "Let me help you with that. ",
		suffix:   " Does that make sense?",
		emphasis: []string{"important", "remember", "note", "key"},
	},
	domain.EmotionExcited: {
		prefix:   "Excellent question! ",
		suffix:   " This is really interesting!",
		emphasis: []string{"exciting", "fascinating", "incredible", "amazing"},
	},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func applyEmotion(text string, emotion domain.Emotion) string {
	mod, ok := emotionModifiers[emotion]
	if !ok {
		return text
	}
	out := mod.prefix + text + mod.suffix
	for _, word := range mod.emphasis {
		if strings.Contains(strings.ToLower(out), word) {
			re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word))
			out = re.ReplaceAllString(out, "**"+word+"**")
		}
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(out, " "))
}

type gestureRule struct {
	triggers []string
	weight   float64
}

var gestureRules = map[domain.GestureTag]gestureRule{
	domain.GestureAffirmative: {
		triggers: []string{"yes", "correct", "right", "good", "excellent", "perfect"},
		weight:   2,
	},
	domain.GestureCorrective: {
		triggers: []string{"no", "incorrect", "wrong", "mistake", "error", "try again"},
		weight:   1.5,
	},
	domain.GestureIllustrative: {
		triggers: []string{"imagine", "picture", "visualize", "see", "look", "example"},
		weight:   2,
	},
	domain.GestureQuestioning: {
		triggers: []string{"?", "what", "how", "why", "when", "where", "do you"},
		weight:   1.5,
	},
	domain.GesturePointing: {
		triggers: []string{"here", "there", "this", "that", "note", "important"},
		weight:   2,
	},
}

func gestureForText(text string) domain.GestureTag {
	lower := strings.ToLower(text)
	best := domain.GestureAffirmative
	bestScore := 0.0
	for _, tag := range []domain.GestureTag{
		domain.GestureAffirmative, domain.GestureCorrective, domain.GestureIllustrative,
		domain.GestureQuestioning, domain.GesturePointing,
	} {
		rule := gestureRules[tag]
		score := 0.0
		for _, trigger := range rule.triggers {
			if strings.Contains(lower, trigger) {
				score++
			}
		}
		score *= rule.weight
		if score > bestScore {
			best = tag
			bestScore = score
		}
	}
	return best
}

var personaTones = map[domain.Persona]string{
	domain.PersonaFriendly:     "warm",
	domain.PersonaProfessional: "formal",
	domain.PersonaEncouraging:  "enthusiastic",
	domain.PersonaStrict:       "firm",
}

func voiceStyle(persona domain.Persona, emotion domain.Emotion) string {
	tone, ok := personaTones[persona]
	if !ok {
		tone = "warm"
	}
	pitch := "medium"
	switch emotion {
	case domain.EmotionExcited, domain.EmotionEncouraging:
		pitch = "high"
	case domain.EmotionCalm:
		pitch = "low"
	}
	return tone + "_" + pitch
}

var emphasisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\*\*(.*?)\*\*`),
	regexp.MustCompile("`(.*?)`"),
	regexp.MustCompile(`"(.*?)"`),
	regexp.MustCompile(`(?i)\bimportant\b`),
	regexp.MustCompile(`(?i)\bkey\b`),
	regexp.MustCompile(`(?i)\bremember\b`),
	regexp.MustCompile(`(?i)\bnote\b`),
}

func detectEmphasis(text string) []domain.EmphasisSpan {
	var spans []domain.EmphasisSpan
	for _, pattern := range emphasisPatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, domain.EmphasisSpan{Start: loc[0], End: loc[1]})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}
