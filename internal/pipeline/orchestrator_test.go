package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
	"github.com/vidyalabs/tutor-server/internal/prompts"
	"github.com/vidyalabs/tutor-server/internal/quiz"
	"github.com/vidyalabs/tutor-server/internal/ratelimit"
	"github.com/vidyalabs/tutor-server/internal/store"
	"github.com/vidyalabs/tutor-server/internal/stream"
)

// fakeInference fakes every external model service.
type fakeInference struct {
	classification *inference.Classification
	classifyErr    error

	teach    *inference.TeachingResult
	teachErr error

	questions []domain.QuizQuestion

	homework        *inference.HomeworkResult
	homeworkErr     error
	homeworkRelease chan struct{} // when set, ReviewHomework blocks until closed

	transcript    *inference.TranscriptResult
	transcribeErr error

	speechDelay time.Duration
	speechErr   error

	avatarErr error
}

func (f *fakeInference) Transcribe(context.Context, []byte, domain.Language) (*inference.TranscriptResult, error) {
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	return f.transcript, nil
}

func (f *fakeInference) Classify(context.Context, string) (*inference.Classification, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.classification, nil
}

func (f *fakeInference) Teach(context.Context, inference.TeachRequest) (*inference.TeachingResult, error) {
	if f.teachErr != nil {
		return nil, f.teachErr
	}
	return f.teach, nil
}

func (f *fakeInference) GenerateQuiz(context.Context, inference.QuizGenRequest) ([]domain.QuizQuestion, error) {
	return f.questions, nil
}

func (f *fakeInference) ReviewHomework(ctx context.Context, _ inference.HomeworkRequest) (*inference.HomeworkResult, error) {
	if f.homeworkRelease != nil {
		select {
		case <-f.homeworkRelease:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.homeworkErr != nil {
		return nil, f.homeworkErr
	}
	return f.homework, nil
}

func (f *fakeInference) Synthesize(ctx context.Context, _ inference.SpeechRequest) (*inference.SpeechResult, error) {
	if f.speechDelay > 0 {
		select {
		case <-time.After(f.speechDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.speechErr != nil {
		return nil, f.speechErr
	}
	return &inference.SpeechResult{AudioRef: "audio-1"}, nil
}

func (f *fakeInference) Render(context.Context, inference.AvatarRequest) (*inference.AvatarResult, error) {
	if f.avatarErr != nil {
		return nil, f.avatarErr
	}
	return &inference.AvatarResult{VideoRef: "video-1"}, nil
}

// collectChannel records events published to the live channel.
type collectChannel struct {
	mu     sync.Mutex
	events []*stream.Event
	got    chan *stream.Event
}

func newCollectChannel() *collectChannel {
	return &collectChannel{got: make(chan *stream.Event, 64)}
}

func (c *collectChannel) Send(event *stream.Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.got <- event
	return nil
}

func (c *collectChannel) Close(string) error { return nil }

func (c *collectChannel) waitFor(t *testing.T, match func(*stream.Event) bool) *stream.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.got:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

type testHarness struct {
	orchestrator *Orchestrator
	publisher    *stream.Publisher
	sessions     store.SessionStore
	sessionID    string
}

func askClassification() *inference.Classification {
	return &inference.Classification{
		Language:   domain.LanguageEnglish,
		Intent:     domain.IntentAsk,
		Subject:    domain.SubjectMath,
		Confidence: 0.95,
	}
}

func newHarness(t *testing.T, fake *fakeInference, speechBudget time.Duration, turnLimit int) *testHarness {
	t.Helper()

	sessions, err := store.NewSQLite(filepath.Join(t.TempDir(), "orch.db"), store.SQLiteOptions{})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	sess, err := sessions.Create(context.Background(), "user-1", domain.LanguageEnglish, false, domain.PersonaFriendly)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	library, err := prompts.Load()
	if err != nil {
		t.Fatalf("prompts.Load: %v", err)
	}

	limiter := ratelimit.New(map[ratelimit.Capability]ratelimit.Budget{
		ratelimit.CapabilityTurn: {Limit: turnLimit, Window: time.Minute},
	})
	t.Cleanup(limiter.Close)

	quizzes := quiz.NewService(sessions, fake)
	budget := 2 * time.Second
	stages := map[string]Stage{
		StageTranscription:  NewTranscriptionStage(fake, budget),
		StageLanguage:       NewLanguageDetectionStage(fake, budget),
		StageIntent:         NewIntentClassificationStage(fake, budget),
		StageTeaching:       NewTeachingStage(fake, library, budget),
		StageQuiz:           NewQuizStage(quizzes, budget),
		StageHomework:       NewHomeworkStage(fake, budget),
		StageSynthesizer:    NewSynthesizerStage(),
		StageSpeech:         NewSpeechStage(fake, speechBudget),
		StageAvatarRenderer: NewAvatarStage(fake, budget),
	}

	publisher := stream.NewPublisher()
	return &testHarness{
		orchestrator: NewOrchestrator(sessions, limiter, publisher, stages),
		publisher:    publisher,
		sessions:     sessions,
		sessionID:    sess.ID,
	}
}

func runTurn(t *testing.T, h *testHarness, input domain.TurnInput) ([]*stream.Event, error) {
	t.Helper()
	var events []*stream.Event
	for ev, err := range h.orchestrator.Run(context.Background(), h.sessionID, input) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestRunAskFlow(t *testing.T) {
	fake := &fakeInference{
		classification: askClassification(),
		teach:          &inference.TeachingResult{Text: "A fraction is part of a whole.", Confidence: 0.9},
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	events, err := runTurn(t, h, domain.TurnInput{Text: "what is a fraction"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := events[len(events)-1]
	if final.Type != stream.EventFinal {
		t.Fatalf("last event must be final, got %s", final.Type)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type != stream.EventProgress {
			t.Errorf("expected only progress before final, got %s", ev.Type)
		}
	}

	// Stage order: intent, language, teaching, synthesis, then the two
	// enrichment stages in completion order.
	wantPrefix := []string{StageIntent, StageLanguage, StageTeaching, StageSynthesizer}
	for i, want := range wantPrefix {
		if events[i].Stage != want {
			t.Errorf("event %d: stage = %s, want %s", i, events[i].Stage, want)
		}
	}
	seen := map[string]bool{}
	for _, ev := range events[4:6] {
		seen[ev.Stage] = true
	}
	if !seen[StageSpeech] || !seen[StageAvatarRenderer] {
		t.Errorf("expected speech and avatar progress, got %v", seen)
	}

	resp := final.Turn.Response
	if resp.AudioRef != "audio-1" || resp.VideoRef != "video-1" {
		t.Errorf("enrichment refs missing: %+v", resp)
	}
	if len(resp.Degraded) != 0 {
		t.Errorf("no stage degraded, got %v", resp.Degraded)
	}

	sess, err := h.sessions.Get(context.Background(), h.sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Context) != 1 {
		t.Fatalf("expected turn persisted, got %d", len(sess.Context))
	}
	if sess.Context[0].Intent != domain.IntentAsk {
		t.Errorf("persisted intent = %s", sess.Context[0].Intent)
	}
}

func TestRunEnrichmentTimeoutDegrades(t *testing.T) {
	fake := &fakeInference{
		classification: askClassification(),
		teach:          &inference.TeachingResult{Text: "An integral accumulates change.", Confidence: 0.9},
		speechDelay:    500 * time.Millisecond,
	}
	h := newHarness(t, fake, 50*time.Millisecond, 100)

	start := time.Now()
	events, err := runTurn(t, h, domain.TurnInput{Text: "what is an integral"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("turn must complete within the bounded wait, took %v", elapsed)
	}

	final := events[len(events)-1]
	if final.Type != stream.EventFinal {
		t.Fatalf("slow enrichment must still produce a final event, got %s", final.Type)
	}

	resp := final.Turn.Response
	if resp.AudioRef != "" {
		t.Error("timed-out speech must not contribute an audio ref")
	}
	if resp.VideoRef != "video-1" {
		t.Error("fast avatar stage should still contribute")
	}
	degraded := false
	for _, name := range resp.Degraded {
		if name == StageSpeech {
			degraded = true
		}
	}
	if !degraded {
		t.Errorf("speech must be flagged degraded, got %v", resp.Degraded)
	}
}

func TestRunContentFailureIsFatal(t *testing.T) {
	fake := &fakeInference{
		classification: askClassification(),
		teachErr:       errors.New("model overloaded"),
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	events, err := runTurn(t, h, domain.TurnInput{Text: "what is calculus"})
	if !errors.Is(err, domain.ErrContentGenerationFailed) {
		t.Fatalf("expected ErrContentGenerationFailed, got %v", err)
	}
	for _, ev := range events {
		if ev.Type == stream.EventFinal {
			t.Error("failed turn must not produce a final event")
		}
	}

	sess, _ := h.sessions.Get(context.Background(), h.sessionID)
	if len(sess.Context) != 0 {
		t.Error("failed turn must not be persisted")
	}
}

func TestRunClassifierFallbackDegrades(t *testing.T) {
	fake := &fakeInference{
		classifyErr: errors.New("classifier down"),
		teach:       &inference.TeachingResult{Text: "Happy to help.", Confidence: 0.8},
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	events, err := runTurn(t, h, domain.TurnInput{Text: "hello, how are you"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if events[0].Stage != StageIntent || events[0].Result.Status != domain.StageDegraded {
		t.Fatalf("expected degraded intent classification, got %+v", events[0])
	}
	final := events[len(events)-1]
	if final.Turn.Intent != domain.IntentSmallTalk {
		t.Errorf("keyword fallback should classify small talk, got %s", final.Turn.Intent)
	}
}

func TestRunRateLimited(t *testing.T) {
	fake := &fakeInference{
		classification: askClassification(),
		teach:          &inference.TeachingResult{Text: "ok", Confidence: 1},
	}
	h := newHarness(t, fake, 2*time.Second, 1)

	if _, err := runTurn(t, h, domain.TurnInput{Text: "what is one plus one"}); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	_, err := runTurn(t, h, domain.TurnInput{Text: "what is two plus two"})
	var rle *domain.RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("retry-after must be positive, got %v", rle.RetryAfter)
	}
}

func TestRunUnknownSession(t *testing.T) {
	h := newHarness(t, &fakeInference{}, 2*time.Second, 100)

	for _, err := range h.orchestrator.Run(context.Background(), "no-such-session", domain.TurnInput{Text: "hi"}) {
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return
	}
	t.Fatal("expected the sequence to yield an error")
}

func TestRunHomeworkAckThenCompletion(t *testing.T) {
	fake := &fakeInference{
		homework: &inference.HomeworkResult{
			Verdict:     "partial",
			Score:       0.7,
			ShortReason: "Two steps missing",
			Confidence:  0.85,
		},
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	ch := newCollectChannel()
	h.publisher.Bind(h.sessionID, ch)

	input := domain.TurnInput{
		Homework: &domain.HomeworkSubmission{FileRef: "upload/hw-1.pdf", Subject: domain.SubjectMath},
	}
	events, err := runTurn(t, h, input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := events[len(events)-1]
	if last.Type != stream.EventAck {
		t.Fatalf("homework sequence must end with the ack, got %s", last.Type)
	}

	final := ch.waitFor(t, func(ev *stream.Event) bool { return ev.Type == stream.EventFinal })
	if final.Turn.Response.Text != "Two steps missing" {
		t.Errorf("completion text = %q", final.Turn.Response.Text)
	}
	if len(final.Turn.Response.Homework) == 0 {
		t.Error("expected homework verdict payload on the final event")
	}

	// Ack was observed by the caller before the background completion.
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ackIdx, finalIdx := -1, -1
	for i, ev := range ch.events {
		switch ev.Type {
		case stream.EventAck:
			ackIdx = i
		case stream.EventFinal:
			finalIdx = i
		}
	}
	if ackIdx == -1 || finalIdx == -1 || ackIdx > finalIdx {
		t.Errorf("ack must precede completion on the channel: ack=%d final=%d", ackIdx, finalIdx)
	}
}

func TestRunHomeworkRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeInference{
		homework:        &inference.HomeworkResult{Verdict: "correct", Score: 1, ShortReason: "All good"},
		homeworkRelease: release,
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	ch := newCollectChannel()
	h.publisher.Bind(h.sessionID, ch)

	input := domain.TurnInput{
		Homework: &domain.HomeworkSubmission{FileRef: "upload/hw-1.pdf", Subject: domain.SubjectMath},
	}
	if _, err := runTurn(t, h, input); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	// First review is still blocked; a second submission must be rejected.
	_, err := runTurn(t, h, input)
	if !errors.Is(err, domain.ErrHomeworkInProgress) {
		t.Fatalf("expected ErrHomeworkInProgress, got %v", err)
	}

	close(release)
	ch.waitFor(t, func(ev *stream.Event) bool { return ev.Type == stream.EventFinal })

	// Gate released: a new submission is accepted again. The gate clears
	// just after the completion event, so retry briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := runTurn(t, h, input)
		if errors.Is(err, domain.ErrHomeworkInProgress) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("post-release submission: %v", err)
		}
		if events[len(events)-1].Type != stream.EventAck {
			t.Error("expected ack after gate release")
		}
		return
	}
}

func TestRunCancellationDoesNotPersist(t *testing.T) {
	fake := &fakeInference{
		classification: askClassification(),
		teach:          &inference.TeachingResult{Text: "answer", Confidence: 1},
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	ctx, cancel := context.WithCancel(context.Background())
	for ev, err := range h.orchestrator.Run(ctx, h.sessionID, domain.TurnInput{Text: "what is pi"}) {
		if err != nil {
			break
		}
		if ev.Type == stream.EventProgress && ev.Stage == StageTeaching {
			cancel() // consumer walks away mid-turn
			break
		}
	}
	cancel()

	time.Sleep(50 * time.Millisecond)
	sess, err := h.sessions.Get(context.Background(), h.sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.Context) != 0 {
		t.Error("cancelled turn must not be persisted")
	}
}

func TestRunPinnedLanguageSkipsDetection(t *testing.T) {
	fake := &fakeInference{
		classification: askClassification(),
		teach:          &inference.TeachingResult{Text: "answer", Confidence: 1},
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	pinned, err := h.sessions.Create(context.Background(), "user-2", domain.LanguageHindi, true, domain.PersonaFriendly)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var stagesSeen []string
	for ev, err := range h.orchestrator.Run(context.Background(), pinned.ID, domain.TurnInput{Text: "what is gravity"}) {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if ev.Type == stream.EventProgress {
			stagesSeen = append(stagesSeen, ev.Stage)
		}
	}
	for _, name := range stagesSeen {
		if name == StageLanguage {
			t.Error("pinned session must not run language detection")
		}
	}
}

func TestRunQuizFlow(t *testing.T) {
	fake := &fakeInference{
		classification: &inference.Classification{
			Language:   domain.LanguageEnglish,
			Intent:     domain.IntentStartQuiz,
			Subject:    domain.SubjectMath,
			Confidence: 0.9,
		},
		questions: []domain.QuizQuestion{
			{ID: "q1", Prompt: "2+2?", Options: []string{"3", "4"}, CorrectIndex: 1},
		},
	}
	h := newHarness(t, fake, 2*time.Second, 100)

	events, err := runTurn(t, h, domain.TurnInput{Text: "give me a quiz on addition"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := events[len(events)-1]
	if final.Turn.Response.Quiz == nil {
		t.Fatal("expected quiz on the final response")
	}
	if final.Turn.Response.Quiz.Topic != "addition" {
		t.Errorf("topic = %q", final.Turn.Response.Quiz.Topic)
	}

	sess, _ := h.sessions.Get(context.Background(), h.sessionID)
	if sess.ActiveQuiz == nil {
		t.Error("quiz must be active on the session")
	}
}
