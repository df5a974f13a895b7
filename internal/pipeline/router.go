package pipeline

import "github.com/vidyalabs/tutor-server/internal/domain"

// Route maps a classified intent to the ordered stage names that complete
// the turn. The mapping is deterministic; the same intent and session flags
// always produce the same route.
//
// Language detection only runs for ask turns, and only when the session has
// not pinned its language at creation.
func Route(intent domain.Intent, session *domain.Session) []string {
	switch intent {
	case domain.IntentAsk:
		route := make([]string, 0, 5)
		if !session.LanguagePinned {
			route = append(route, StageLanguage)
		}
		return append(route, StageTeaching, StageSynthesizer, StageSpeech, StageAvatarRenderer)
	case domain.IntentCheckHomework:
		return []string{StageHomework}
	case domain.IntentStartQuiz:
		return []string{StageQuiz}
	case domain.IntentSmallTalk:
		return []string{StageTeaching, StageSynthesizer}
	case domain.IntentEscalate:
		return []string{StageSynthesizer}
	default:
		return nil
	}
}
