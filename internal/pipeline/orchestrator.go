package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/inference"
	"github.com/vidyalabs/tutor-server/internal/ratelimit"
	"github.com/vidyalabs/tutor-server/internal/store"
	"github.com/vidyalabs/tutor-server/internal/stream"
)

// enrichmentGrace is added on top of the largest enrichment budget when
// waiting for the concurrent speech and avatar stages.
const enrichmentGrace = time.Second

// homeworkAckMessage is sent immediately when an async homework review is
// accepted.
const homeworkAckMessage = "Your homework has been received and is being reviewed. You'll get the result here shortly."

// Orchestrator drives one turn through classification, routing, content
// generation, synthesis, and enrichment, emitting a finite event sequence.
type Orchestrator struct {
	sessions  store.SessionStore
	limiter   *ratelimit.Limiter
	publisher *stream.Publisher
	stages    map[string]Stage

	mu             sync.Mutex
	homeworkActive map[string]bool
}

// NewOrchestrator creates an orchestrator over the given stage set. The
// stages map must contain every stage name the router can produce, plus
// transcription.
func NewOrchestrator(sessions store.SessionStore, limiter *ratelimit.Limiter, publisher *stream.Publisher, stages map[string]Stage) *Orchestrator {
	return &Orchestrator{
		sessions:       sessions,
		limiter:        limiter,
		publisher:      publisher,
		stages:         stages,
		homeworkActive: make(map[string]bool),
	}
}

// Run executes one turn and returns its event sequence. Progress events are
// yielded to the caller and mirrored to the session's live channel. Fatal
// failures end the sequence with a non-nil error; the live channel receives
// the matching terminal error event. A turn interrupted by ctx cancellation
// stops emitting and is not persisted.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, input domain.TurnInput) iter.Seq2[*stream.Event, error] {
	return func(yield func(*stream.Event, error) bool) {
		session, err := o.sessions.Get(ctx, sessionID)
		if err != nil {
			yield(nil, err)
			return
		}

		if allowed, retryAfter := o.limiter.Check(sessionID, ratelimit.CapabilityTurn); !allowed {
			yield(nil, &domain.RateLimitedError{Capability: string(ratelimit.CapabilityTurn), RetryAfter: retryAfter})
			return
		}

		turn := &domain.Turn{
			ID:           uuid.NewString(),
			Input:        input,
			StageOutputs: make(map[string]domain.StageResult),
			SubmittedAt:  time.Now(),
		}
		state := &TurnState{
			Session:  session,
			Input:    input,
			Text:     input.Text,
			Language: session.Language,
			Subject:  domain.SubjectGeneral,
		}

		// fail publishes the terminal error event to the live channel and
		// ends the sequence with the error.
		fail := func(err error) {
			ev := stream.ErrorEvent(sessionID, turn.ID, domain.KindForError(err), err.Error())
			o.publisher.Publish(ev)
			yield(nil, err)
		}
		// emit mirrors an event to the live channel and yields it.
		emit := func(ev *stream.Event) bool {
			o.publisher.Publish(ev)
			return yield(ev, nil)
		}

		if len(input.Audio) > 0 {
			if allowed, retryAfter := o.limiter.Check(sessionID, ratelimit.CapabilityTranscription); !allowed {
				fail(&domain.RateLimitedError{Capability: string(ratelimit.CapabilityTranscription), RetryAfter: retryAfter})
				return
			}
			result := o.runStage(ctx, o.stages[StageTranscription], state)
			turn.StageOutputs[StageTranscription] = result
			if !emit(stream.ProgressEvent(sessionID, turn.ID, StageTranscription, result)) {
				return
			}
			if !result.Usable() {
				fail(fmt.Errorf("%w: %s", domain.ErrClassificationFailed, result.Reason))
				return
			}
		}

		// A homework upload declares its own intent; everything else is
		// classified.
		if input.Homework != nil {
			state.Intent = domain.IntentCheckHomework
			if input.Homework.Subject.IsValid() {
				state.Subject = input.Homework.Subject
			}
		} else {
			result := o.runStage(ctx, o.stages[StageIntent], state)
			turn.StageOutputs[StageIntent] = result
			if !emit(stream.ProgressEvent(sessionID, turn.ID, StageIntent, result)) {
				return
			}
			if !result.Usable() {
				fail(fmt.Errorf("%w: %s", domain.ErrClassificationFailed, result.Reason))
				return
			}
		}
		turn.Intent = state.Intent

		if capability, gated := intentCapability(state.Intent); gated {
			if allowed, retryAfter := o.limiter.Check(sessionID, capability); !allowed {
				fail(&domain.RateLimitedError{Capability: string(capability), RetryAfter: retryAfter})
				return
			}
		}

		if state.Intent == domain.IntentCheckHomework {
			o.runHomework(ctx, sessionID, turn, state, emit, fail)
			return
		}

		route := Route(state.Intent, session)
		if len(route) == 0 {
			fail(fmt.Errorf("%w: no route for intent %q", domain.ErrClassificationFailed, state.Intent))
			return
		}

		sequential, enrichment := splitRoute(route)
		for _, name := range sequential {
			result := o.runStage(ctx, o.stages[name], state)
			turn.StageOutputs[name] = result
			if !emit(stream.ProgressEvent(sessionID, turn.ID, name, result)) {
				return
			}
			if !result.Usable() {
				fail(fmt.Errorf("%w: %s", domain.ErrContentGenerationFailed, result.Reason))
				return
			}
		}

		if len(enrichment) > 0 {
			for name, result := range o.runEnrichment(ctx, enrichment, state) {
				turn.StageOutputs[name] = result
				if !emit(stream.ProgressEvent(sessionID, turn.ID, name, result)) {
					return
				}
			}
		}

		o.assemble(turn, state)

		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		if _, err := o.sessions.AppendTurn(ctx, sessionID, turn); err != nil {
			fail(fmt.Errorf("persist turn: %w", err))
			return
		}
		emit(stream.FinalEvent(sessionID, turn))
	}
}

// runHomework acknowledges the submission immediately and completes the
// review in the background, delivering the result on the live channel. A
// session runs at most one review at a time.
func (o *Orchestrator) runHomework(ctx context.Context, sessionID string, turn *domain.Turn, state *TurnState, emit func(*stream.Event) bool, fail func(error)) {
	o.mu.Lock()
	if o.homeworkActive[sessionID] {
		o.mu.Unlock()
		fail(domain.ErrHomeworkInProgress)
		return
	}
	o.homeworkActive[sessionID] = true
	o.mu.Unlock()

	if !emit(stream.AckEvent(sessionID, turn.ID, homeworkAckMessage)) {
		o.clearHomeworkGate(sessionID)
		return
	}

	// The review outlives the submitting request; detach from its
	// cancellation but keep request-scoped values.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.clearHomeworkGate(sessionID)

		result := o.runStage(bgCtx, o.stages[StageHomework], state)
		turn.StageOutputs[StageHomework] = result
		o.publisher.Publish(stream.ProgressEvent(sessionID, turn.ID, StageHomework, result))

		if !result.Usable() {
			o.publisher.Publish(stream.ErrorEvent(sessionID, turn.ID, domain.ErrKindContentGeneration, result.Reason))
			return
		}

		o.assemble(turn, state)
		if _, err := o.sessions.AppendTurn(bgCtx, sessionID, turn); err != nil {
			slog.Error("Failed to persist homework turn", "session_id", sessionID, "turn_id", turn.ID, "error", err)
			o.publisher.Publish(stream.ErrorEvent(sessionID, turn.ID, domain.ErrKindInternal, "failed to record review result"))
			return
		}
		o.publisher.Publish(stream.FinalEvent(sessionID, turn))
	}()
}

func (o *Orchestrator) clearHomeworkGate(sessionID string) {
	o.mu.Lock()
	delete(o.homeworkActive, sessionID)
	o.mu.Unlock()
}

// runStage executes one stage under its budget. A budget overrun on a
// non-enrichment stage surfaces as a stage timeout.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, state *TurnState) domain.StageResult {
	stageCtx, cancel := context.WithTimeout(ctx, stage.Budget())
	defer cancel()

	start := time.Now()
	result := stage.Execute(stageCtx, state)
	slog.Debug("Stage finished", "stage", stage.Name(), "status", result.Status, "elapsed", time.Since(start))

	if result.Status == domain.StageFailed && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		result.ErrKind = domain.ErrKindStageTimeout
	}
	return result
}

// runEnrichment executes the enrichment stages concurrently and collects
// their results, substituting a degraded timeout result for any stage that
// outlives the bounded wait. Results arrive in completion order.
func (o *Orchestrator) runEnrichment(ctx context.Context, names []string, state *TurnState) map[string]domain.StageResult {
	type outcome struct {
		name   string
		result domain.StageResult
	}

	maxBudget := time.Duration(0)
	for _, name := range names {
		if b := o.stages[name].Budget(); b > maxBudget {
			maxBudget = b
		}
	}

	done := make(chan outcome, len(names))
	for _, name := range names {
		go func(stage Stage) {
			done <- outcome{stage.Name(), o.runStage(ctx, stage, state)}
		}(o.stages[name])
	}

	pending := make(map[string]bool, len(names))
	for _, name := range names {
		pending[name] = true
	}

	results := make(map[string]domain.StageResult, len(names))
	timer := time.NewTimer(maxBudget + enrichmentGrace)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case out := <-done:
			delete(pending, out.name)
			results[out.name] = out.result
		case <-timer.C:
			for name := range pending {
				slog.Warn("Enrichment stage timed out", "stage", name)
				results[name] = domain.StageResult{
					Status:  domain.StageDegraded,
					Reason:  "stage timed out",
					ErrKind: domain.ErrKindStageTimeout,
				}
				delete(pending, name)
			}
		}
	}
	return results
}

// assemble builds the turn's final response from whatever the stages
// produced. Degraded stage names are surfaced on the response.
func (o *Orchestrator) assemble(turn *domain.Turn, state *TurnState) {
	resp := &domain.FinalResponse{}

	if synth := state.Synthesized; synth != nil {
		resp.Text = synth.Text
		resp.Summary = synth.Summary
		resp.Confidence = synth.Confidence
		resp.NeedSteps = synth.NeedSteps
		resp.Citations = synth.Citations
		resp.VoiceStyle = synth.VoiceStyle
		resp.Emotion = synth.Emotion
		resp.GestureTag = synth.GestureTag
		resp.EmphasisSpans = synth.EmphasisSpans
	}

	if state.Quiz != nil {
		resp.Quiz = state.Quiz
		if resp.Text == "" {
			resp.Text = fmt.Sprintf("Here's a %s quiz on %s with %d questions. Good luck!",
				state.Quiz.Difficulty, state.Quiz.Topic, len(state.Quiz.Questions))
			resp.Confidence = 1
		}
	}

	if state.Homework != nil {
		if payload, err := marshalHomework(state.Homework); err == nil {
			resp.Homework = payload
		}
		if resp.Text == "" {
			resp.Text = state.Homework.ShortReason
			resp.Confidence = state.Homework.Confidence
		}
	}

	// Enrichment results only attach through their recorded outputs, so a
	// timed-out stage can never contribute a reference.
	if result, ok := turn.StageOutputs[StageSpeech]; ok && result.Succeeded() && state.Speech != nil {
		resp.AudioRef = state.Speech.AudioRef
	}
	if result, ok := turn.StageOutputs[StageAvatarRenderer]; ok && result.Succeeded() && state.Avatar != nil {
		resp.VideoRef = state.Avatar.VideoRef
	}

	for _, name := range orderedStageNames {
		if result, ok := turn.StageOutputs[name]; ok && result.Status == domain.StageDegraded {
			resp.Degraded = append(resp.Degraded, name)
		}
	}

	turn.Language = state.Language
	turn.Intent = state.Intent
	turn.Subject = state.Subject
	turn.Response = resp
	turn.CompletedAt = time.Now()
}

// orderedStageNames fixes the order degraded flags are reported in.
var orderedStageNames = []string{
	StageTranscription, StageLanguage, StageIntent, StageTeaching,
	StageQuiz, StageHomework, StageSynthesizer, StageSpeech, StageAvatarRenderer,
}

// splitRoute separates the trailing concurrent enrichment stages from the
// sequential prefix.
func splitRoute(route []string) (sequential, enrichment []string) {
	for _, name := range route {
		if name == StageSpeech || name == StageAvatarRenderer {
			enrichment = append(enrichment, name)
		} else {
			sequential = append(sequential, name)
		}
	}
	return sequential, enrichment
}

func marshalHomework(result *inference.HomeworkResult) (json.RawMessage, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode homework result: %w", err)
	}
	return payload, nil
}

func intentCapability(intent domain.Intent) (ratelimit.Capability, bool) {
	switch intent {
	case domain.IntentAsk, domain.IntentSmallTalk:
		return ratelimit.CapabilityGeneration, true
	case domain.IntentStartQuiz:
		return ratelimit.CapabilityQuiz, true
	case domain.IntentCheckHomework:
		return ratelimit.CapabilityHomework, true
	default:
		return "", false
	}
}
