package domain

import (
	"encoding/json"
	"time"
)

// TurnInput is the learner's submission for one turn: text, audio to be
// transcribed, or a homework review request.
type TurnInput struct {
	Text         string              `json:"text,omitempty"`
	Audio        []byte              `json:"audio,omitempty"`
	LanguageHint Language            `json:"language_hint,omitempty"`
	Homework     *HomeworkSubmission `json:"homework,omitempty"`
}

// HomeworkSubmission references an uploaded piece of homework. The file
// itself is captured and stored by the presentation layer; the pipeline only
// carries an opaque reference.
type HomeworkSubmission struct {
	FileRef        string  `json:"file_ref"`
	Subject        Subject `json:"subject"`
	ExpectedFormat string  `json:"expected_format,omitempty"`
}

// StageStatus is the outcome class of one stage invocation.
type StageStatus string

const (
	StageSuccess  StageStatus = "success"
	StageDegraded StageStatus = "degraded"
	StageFailed   StageStatus = "failed"
)

// StageResult is the single outcome of one stage invocation.
//
// Degraded means a fallback was substituted: the payload is usable but the
// caller must be told. Failed aborts the turn for classification and content
// stages; enrichment stages never produce it.
type StageResult struct {
	Status     StageStatus `json:"status"`
	Payload    any         `json:"payload,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	ErrKind    ErrorKind   `json:"error_kind,omitempty"`
}

// Succeeded reports whether the stage produced a primary (non-fallback) result.
func (r StageResult) Succeeded() bool { return r.Status == StageSuccess }

// Usable reports whether the turn can continue with this result.
func (r StageResult) Usable() bool { return r.Status != StageFailed }

// SuccessResult builds a Success stage result.
func SuccessResult(payload any, confidence float64) StageResult {
	return StageResult{Status: StageSuccess, Payload: payload, Confidence: confidence}
}

// DegradedResult builds a Degraded stage result carrying the substituted payload.
func DegradedResult(payload any, reason string) StageResult {
	return StageResult{Status: StageDegraded, Payload: payload, Reason: reason}
}

// FailedResult builds a Failed stage result.
func FailedResult(kind ErrorKind, reason string) StageResult {
	return StageResult{Status: StageFailed, ErrKind: kind, Reason: reason}
}

// EmphasisSpan marks a character range of the response text to stress during
// speech and avatar rendering.
type EmphasisSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FinalResponse is the assembled payload returned to the client at the end
// of a turn.
type FinalResponse struct {
	Text          string         `json:"text"`
	Summary       string         `json:"summary,omitempty"`
	Confidence    float64        `json:"confidence"`
	NeedSteps     bool           `json:"need_steps,omitempty"`
	Citations     []string       `json:"citations,omitempty"`
	VoiceStyle    string         `json:"voice_style,omitempty"`
	Emotion       Emotion        `json:"emotion,omitempty"`
	GestureTag    GestureTag     `json:"gesture_tag,omitempty"`
	EmphasisSpans []EmphasisSpan `json:"emphasis_spans,omitempty"`
	AudioRef      string         `json:"audio_ref,omitempty"`
	VideoRef      string         `json:"video_ref,omitempty"`

	// Degraded lists the stages that fell back to a substitute, surfaced as
	// EnrichmentDegraded flags on the final event.
	Degraded []string `json:"degraded,omitempty"`

	// Quiz and Homework carry the content payload for their respective flows.
	Quiz     *Quiz           `json:"quiz,omitempty"`
	Homework json.RawMessage `json:"homework,omitempty"`
}

// Turn is one request/response cycle. It is owned by the orchestrator
// invocation that created it until persisted into the session's context
// window; afterwards it is immutable history.
type Turn struct {
	ID           string                 `json:"turn_id"`
	Input        TurnInput              `json:"input"`
	Language     Language               `json:"language,omitempty"`
	Intent       Intent                 `json:"intent,omitempty"`
	Subject      Subject                `json:"subject,omitempty"`
	StageOutputs map[string]StageResult `json:"stage_outputs"`
	Response     *FinalResponse         `json:"response,omitempty"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	CompletedAt  time.Time              `json:"completed_at"`
}
