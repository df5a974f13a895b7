package pipeline

import (
	"reflect"
	"testing"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

func TestRoute(t *testing.T) {
	unpinned := &domain.Session{}
	pinned := &domain.Session{LanguagePinned: true}

	cases := []struct {
		name    string
		intent  domain.Intent
		session *domain.Session
		want    []string
	}{
		{
			name:    "ask detects language when not pinned",
			intent:  domain.IntentAsk,
			session: unpinned,
			want:    []string{StageLanguage, StageTeaching, StageSynthesizer, StageSpeech, StageAvatarRenderer},
		},
		{
			name:    "ask skips language detection when pinned",
			intent:  domain.IntentAsk,
			session: pinned,
			want:    []string{StageTeaching, StageSynthesizer, StageSpeech, StageAvatarRenderer},
		},
		{
			name:    "homework runs only the review stage",
			intent:  domain.IntentCheckHomework,
			session: unpinned,
			want:    []string{StageHomework},
		},
		{
			name:    "quiz runs only the quiz stage",
			intent:  domain.IntentStartQuiz,
			session: unpinned,
			want:    []string{StageQuiz},
		},
		{
			name:    "small talk skips enrichment",
			intent:  domain.IntentSmallTalk,
			session: unpinned,
			want:    []string{StageTeaching, StageSynthesizer},
		},
		{
			name:    "escalate goes straight to synthesis",
			intent:  domain.IntentEscalate,
			session: unpinned,
			want:    []string{StageSynthesizer},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Route(tc.intent, tc.session)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Route(%s) = %v, want %v", tc.intent, got, tc.want)
			}
		})
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	session := &domain.Session{}
	first := Route(domain.IntentAsk, session)
	for i := 0; i < 10; i++ {
		if !reflect.DeepEqual(Route(domain.IntentAsk, session), first) {
			t.Fatal("route must not vary between calls")
		}
	}
}

func TestRouteExcludesEnrichmentForHomeworkAndQuiz(t *testing.T) {
	session := &domain.Session{}
	for _, intent := range []domain.Intent{domain.IntentCheckHomework, domain.IntentStartQuiz} {
		for _, name := range Route(intent, session) {
			if name == StageSpeech || name == StageAvatarRenderer {
				t.Errorf("%s route must not include enrichment, got %s", intent, name)
			}
		}
	}
}

func TestRouteUnknownIntent(t *testing.T) {
	if got := Route(domain.Intent("unknown"), &domain.Session{}); got != nil {
		t.Errorf("unknown intent must have no route, got %v", got)
	}
}

func TestSplitRoute(t *testing.T) {
	sequential, enrichment := splitRoute([]string{StageLanguage, StageTeaching, StageSynthesizer, StageSpeech, StageAvatarRenderer})
	if !reflect.DeepEqual(sequential, []string{StageLanguage, StageTeaching, StageSynthesizer}) {
		t.Errorf("sequential = %v", sequential)
	}
	if !reflect.DeepEqual(enrichment, []string{StageSpeech, StageAvatarRenderer}) {
		t.Errorf("enrichment = %v", enrichment)
	}
}
