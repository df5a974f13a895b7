package pipeline

import (
	"regexp"
	"strings"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

// Keyword and pattern scoring used when the remote classifier is unavailable.
// Keyword hits score 0.3, pattern hits 0.5, scaled by the intent's priority
// weight and normalized against 2.0.

type intentRule struct {
	keywords []string
	patterns []*regexp.Regexp
	weight   float64
}

type subjectRule struct {
	keywords []string
	patterns []*regexp.Regexp
}

var intentRules = map[domain.Intent]intentRule{
	domain.IntentAsk: {
		keywords: []string{"what", "how", "why", "when", "where", "explain", "tell me", "show me", "help"},
		patterns: compile(
			`what is`, `how do`, `why does`, `explain`, `tell me about`,
			`show me how`, `help me understand`, `can you explain`,
			`what does.*mean`, `how does.*work`,
		),
		weight: 2,
	},
	domain.IntentCheckHomework: {
		keywords: []string{"check", "grade", "review", "homework", "assignment", "solution", "answer"},
		patterns: compile(
			`check my`, `grade my`, `review my`, `homework`, `assignment`,
			`is this correct`, `did i get this right`, `check my work`, `verify my answer`,
		),
		weight: 2,
	},
	domain.IntentStartQuiz: {
		keywords: []string{"quiz", "test", "practice", "questions", "exam", "challenge"},
		patterns: compile(
			`give me a quiz`, `quiz me on`, `test my knowledge`, `practice questions`,
			`challenge me`, `create a quiz`, `generate questions`, `quiz time`,
		),
		weight: 2,
	},
	domain.IntentSmallTalk: {
		keywords: []string{"hello", "hi", "how are you", "good morning", "good afternoon", "thanks", "thank you"},
		patterns: compile(
			`hello`, `hi there`, `how are you`, `good morning`, `good afternoon`,
			`thanks`, `thank you`, `nice to meet you`, `how's it going`,
		),
		weight: 1,
	},
	domain.IntentEscalate: {
		keywords: []string{"help", "stuck", "confused", "don't understand", "too hard", "difficult"},
		patterns: compile(
			`i'm stuck`, `i don't understand`, `this is too hard`, `it's too difficult`,
			`i need help`, `can't figure out`, `i'm confused`, `this doesn't make sense`,
		),
		weight: 3,
	},
}

var subjectRules = map[domain.Subject]subjectRule{
	domain.SubjectMath: {
		keywords: []string{"math", "mathematics", "algebra", "geometry", "calculus", "equation", "solve", "calculate"},
		patterns: compile(
			`\d+\s*[+\-*/]\s*\d+`, `equation`, `solve for`, `calculate`, `geometry`,
			`algebra`, `calculus`, `derivative`, `integral`, `quadratic`, `polynomial`,
		),
	},
	domain.SubjectScience: {
		keywords: []string{"science", "physics", "chemistry", "biology", "experiment", "theory", "hypothesis"},
		patterns: compile(
			`physics`, `chemistry`, `biology`, `experiment`, `theory`, `hypothesis`,
			`molecule`, `atom`, `force`, `energy`, `evolution`, `photosynthesis`,
		),
	},
	domain.SubjectProgramming: {
		keywords: []string{"programming", "code", "python", "javascript", "java", "function", "variable", "algorithm"},
		patterns: compile(
			`programming`, `coding`, `python`, `javascript`, `java`, `function`,
			`variable`, `algorithm`, `data structure`, `loop`, `if statement`, `class`, `object`,
		),
	},
	domain.SubjectHistory: {
		keywords: []string{"history", "historical", "war", "revolution", "ancient", "medieval", "timeline"},
		patterns: compile(
			`history`, `historical`, `war`, `revolution`, `ancient`, `medieval`,
			`timeline`, `century`, `empire`, `civilization`,
		),
	},
	domain.SubjectLiterature: {
		keywords: []string{"literature", "book", "novel", "poetry", "author", "character", "theme", "plot"},
		patterns: compile(
			`literature`, `book`, `novel`, `poetry`, `author`, `character`,
			`theme`, `plot`, `story`, `poem`, `writing`,
		),
	},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// ClassifyIntentByKeywords scores the text against the intent rules and
// returns the best intent with a 0..1 confidence. Empty or unmatched text
// defaults to ask with low confidence.
func ClassifyIntentByKeywords(text string) (domain.Intent, float64) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return domain.IntentAsk, 0
	}

	best := domain.IntentAsk
	bestScore := 0.0
	for _, intent := range []domain.Intent{
		domain.IntentAsk, domain.IntentCheckHomework, domain.IntentStartQuiz,
		domain.IntentSmallTalk, domain.IntentEscalate,
	} {
		rule := intentRules[intent]
		score := 0.0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score += 0.3
			}
		}
		for _, p := range rule.patterns {
			if p.MatchString(lower) {
				score += 0.5
			}
		}
		score *= rule.weight
		if score > bestScore {
			best = intent
			bestScore = score
		}
	}

	if bestScore == 0 {
		return domain.IntentAsk, 0.1
	}
	return best, min(bestScore/2, 1)
}

// ClassifySubjectByKeywords scores the text against the subject rules and
// returns the best subject with a 0..1 confidence. Unmatched text defaults
// to general.
func ClassifySubjectByKeywords(text string) (domain.Subject, float64) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return domain.SubjectGeneral, 0
	}

	best := domain.SubjectGeneral
	bestScore := 0.0
	for _, subject := range []domain.Subject{
		domain.SubjectMath, domain.SubjectScience, domain.SubjectProgramming,
		domain.SubjectHistory, domain.SubjectLiterature,
	} {
		rule := subjectRules[subject]
		score := 0.0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score += 0.4
			}
		}
		for _, p := range rule.patterns {
			if p.MatchString(lower) {
				score += 0.6
			}
		}
		if score > bestScore {
			best = subject
			bestScore = score
		}
	}

	if bestScore == 0 {
		return domain.SubjectGeneral, 0.1
	}
	return best, min(bestScore/2, 1)
}

// DetectLanguageByScript scores the text against per-language indicator words
// and script ranges. Used when the remote classifier cannot be reached.
func DetectLanguageByScript(text string, hint domain.Language) (domain.Language, float64) {
	if strings.TrimSpace(text) == "" {
		if hint.IsValid() {
			return hint, 0
		}
		return domain.LanguageEnglish, 0
	}

	lower := strings.ToLower(text)
	scores := map[domain.Language]float64{}
	for lang, ind := range languageIndicators {
		score := 0.0
		for _, word := range ind.words {
			if strings.Contains(lower, word) {
				score++
			}
		}
		score /= float64(len(ind.words))
		if ind.scriptLo != 0 && containsRune(text, ind.scriptLo, ind.scriptHi) {
			score += 0.3
		}
		scores[lang] = score
	}

	best := domain.LanguageEnglish
	bestScore := scores[best]
	for _, lang := range []domain.Language{
		domain.LanguageHindi, domain.LanguageGujarati,
		domain.LanguageSpanish, domain.LanguageFrench,
	} {
		if scores[lang] > bestScore {
			best = lang
			bestScore = scores[lang]
		}
	}

	// Prefer the hint when its score is close to the winner's.
	if hint.IsValid() && scores[hint] >= bestScore*0.8 {
		return hint, scores[hint]
	}
	return best, bestScore
}

type languageIndicator struct {
	words              []string
	scriptLo, scriptHi rune
}

var languageIndicators = map[domain.Language]languageIndicator{
	domain.LanguageEnglish: {
		words: []string{"the", "and", "is", "are", "was", "were", "have", "has", "had"},
	},
	domain.LanguageHindi: {
		words:    []string{"है", "हैं", "था", "थे", "कर", "के", "को", "से", "में"},
		scriptLo: 0x0900, scriptHi: 0x097F,
	},
	domain.LanguageGujarati: {
		words:    []string{"છે", "છો", "હતા", "હતો", "કર", "કે", "કો", "સે", "માં"},
		scriptLo: 0x0A80, scriptHi: 0x0AFF,
	},
	domain.LanguageSpanish: {
		words: []string{"el", "la", "de", "que", "y", "en", "un", "es", "se"},
	},
	domain.LanguageFrench: {
		words: []string{"le", "la", "de", "que", "et", "à", "en", "un", "est", "se"},
	},
}

func containsRune(text string, lo, hi rune) bool {
	for _, r := range text {
		if r >= lo && r <= hi {
			return true
		}
	}
	return false
}
