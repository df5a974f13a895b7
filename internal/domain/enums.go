// Package domain defines the core tutoring data model shared across the service.
package domain

// Language identifies a supported tutoring language.
type Language string

const (
	LanguageEnglish  Language = "en"
	LanguageHindi    Language = "hi"
	LanguageGujarati Language = "gu"
	LanguageSpanish  Language = "es"
	LanguageFrench   Language = "fr"
)

// IsValid reports whether the language is one of the supported codes.
func (l Language) IsValid() bool {
	switch l {
	case LanguageEnglish, LanguageHindi, LanguageGujarati, LanguageSpanish, LanguageFrench:
		return true
	}
	return false
}

// Persona selects the tutor's conversational register.
type Persona string

const (
	PersonaFriendly     Persona = "friendly"
	PersonaProfessional Persona = "professional"
	PersonaEncouraging  Persona = "encouraging"
	PersonaStrict       Persona = "strict"
)

// IsValid reports whether the persona is known.
func (p Persona) IsValid() bool {
	switch p {
	case PersonaFriendly, PersonaProfessional, PersonaEncouraging, PersonaStrict:
		return true
	}
	return false
}

// Subject identifies the academic domain of a question, quiz, or homework.
type Subject string

const (
	SubjectMath        Subject = "math"
	SubjectScience     Subject = "science"
	SubjectProgramming Subject = "programming"
	SubjectGeneral     Subject = "general"
	SubjectHistory     Subject = "history"
	SubjectLiterature  Subject = "literature"
)

// IsValid reports whether the subject is known.
func (s Subject) IsValid() bool {
	switch s {
	case SubjectMath, SubjectScience, SubjectProgramming, SubjectGeneral, SubjectHistory, SubjectLiterature:
		return true
	}
	return false
}

// Intent is the classified purpose of a turn.
type Intent string

const (
	IntentAsk           Intent = "ask"
	IntentCheckHomework Intent = "check-homework"
	IntentStartQuiz     Intent = "start-quiz"
	IntentSmallTalk     Intent = "small-talk"
	IntentEscalate      Intent = "escalate"
)

// IsValid reports whether the intent is known.
func (i Intent) IsValid() bool {
	switch i {
	case IntentAsk, IntentCheckHomework, IntentStartQuiz, IntentSmallTalk, IntentEscalate:
		return true
	}
	return false
}

// Difficulty grades a quiz.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether the difficulty is known.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Emotion tags a synthesized response for voice and avatar rendering.
type Emotion string

const (
	EmotionCalm        Emotion = "calm"
	EmotionEncouraging Emotion = "encouraging"
	EmotionCorrective  Emotion = "corrective"
	EmotionExcited     Emotion = "excited"
	EmotionNeutral     Emotion = "neutral"
)

// GestureTag selects the avatar gesture family for a response.
type GestureTag string

const (
	GestureAffirmative  GestureTag = "affirmative"
	GestureCorrective   GestureTag = "corrective"
	GestureIllustrative GestureTag = "illustrative"
	GestureQuestioning  GestureTag = "questioning"
	GesturePointing     GestureTag = "pointing"
)
