// Package api provides the HTTP handlers for the tutoring service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/pipeline"
	"github.com/vidyalabs/tutor-server/internal/quiz"
	"github.com/vidyalabs/tutor-server/internal/store"
	"github.com/vidyalabs/tutor-server/internal/stream"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the session, turn, quiz, and homework endpoints.
type Handler struct {
	sessions     store.SessionStore
	orchestrator *pipeline.Orchestrator
	quizzes      *quiz.Service
}

// NewHandler creates the API handler.
func NewHandler(sessions store.SessionStore, orchestrator *pipeline.Orchestrator, quizzes *quiz.Service) *Handler {
	return &Handler{
		sessions:     sessions,
		orchestrator: orchestrator,
		quizzes:      quizzes,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.handleCreateSession)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Post("/turns", h.handleSubmitTurn)
		r.Post("/quiz/generate", h.handleQuizGenerate)
		r.Post("/quiz/answer", h.handleQuizAnswer)
		r.Post("/quiz/submit", h.handleQuizSubmit)
		r.Post("/homework/check", h.handleHomeworkCheck)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps a domain error to its HTTP status and body. Rate-limited
// responses carry a Retry-After header.
func writeError(w http.ResponseWriter, err error) {
	var rle *domain.RateLimitedError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrExpired):
		Error(w, http.StatusGone, "session expired")
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())+1))
		Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrQuestionNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrQuizMismatch):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrQuizAlreadySubmitted):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrHomeworkInProgress):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrClassificationFailed):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrContentGenerationFailed):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

type createSessionRequest struct {
	UserID   string          `json:"user_id"`
	Language domain.Language `json:"language,omitempty"`
	Persona  domain.Persona  `json:"persona,omitempty"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	// A declared language pins the session; detection is skipped for it.
	pinned := req.Language != ""
	if pinned && !req.Language.IsValid() {
		Error(w, http.StatusBadRequest, "unsupported language")
		return
	}
	language := req.Language
	if language == "" {
		language = domain.LanguageEnglish
	}
	persona := req.Persona
	if persona == "" {
		persona = domain.PersonaFriendly
	}
	if !persona.IsValid() {
		Error(w, http.StatusBadRequest, "unknown persona")
		return
	}

	session, err := h.sessions.Create(r.Context(), req.UserID, language, pinned, persona)
	if err != nil {
		slog.Error("Failed to create session", "user_id", req.UserID, "error", err)
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

type submitTurnRequest struct {
	SessionID    string          `json:"session_id"`
	Text         string          `json:"text,omitempty"`
	Audio        []byte          `json:"audio,omitempty"`
	LanguageHint domain.Language `json:"language_hint,omitempty"`
}

// handleSubmitTurn runs a turn and streams its events over SSE. The stream
// ends with exactly one terminal frame: final or error.
func (h *Handler) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req submitTurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Text == "" && len(req.Audio) == 0 {
		Error(w, http.StatusBadRequest, "text or audio is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	input := domain.TurnInput{
		Text:         req.Text,
		Audio:        req.Audio,
		LanguageHint: req.LanguageHint,
	}

	for ev, err := range h.orchestrator.Run(r.Context(), req.SessionID, input) {
		if err != nil {
			payload, _ := json.Marshal(map[string]string{
				"error_kind": string(domain.KindForError(err)),
				"message":    err.Error(),
			})
			if writeErr := writeSSE(w, "error", string(payload)); writeErr != nil {
				slog.Warn("Failed to write SSE error event", "error", writeErr)
				return
			}
			flusher.Flush()
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("Failed to marshal turn event", "error", err)
			if writeErr := writeSSE(w, "error", `{"error_kind":"internal","message":"failed to serialize event"}`); writeErr == nil {
				flusher.Flush()
			}
			return
		}
		if err := writeSSE(w, string(ev.Type), string(data)); err != nil {
			slog.Warn("Failed to write SSE event", "error", err)
			return
		}
		flusher.Flush()
	}
}

type quizGenerateRequest struct {
	SessionID  string            `json:"session_id"`
	Topic      string            `json:"topic"`
	Difficulty domain.Difficulty `json:"difficulty,omitempty"`
	Subject    domain.Subject    `json:"subject,omitempty"`
	Count      int               `json:"num_questions,omitempty"`
}

func (h *Handler) handleQuizGenerate(w http.ResponseWriter, r *http.Request) {
	var req quizGenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Topic == "" {
		Error(w, http.StatusBadRequest, "session_id and topic are required")
		return
	}

	generated, err := h.quizzes.Generate(r.Context(), req.SessionID, req.Topic, req.Difficulty, req.Subject, req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, generated)
}

type quizAnswerRequest struct {
	SessionID  string `json:"session_id"`
	QuizID     string `json:"quiz_id"`
	QuestionID string `json:"question_id"`
	Selected   int    `json:"selected"`
}

func (h *Handler) handleQuizAnswer(w http.ResponseWriter, r *http.Request) {
	var req quizAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.QuizID == "" || req.QuestionID == "" {
		Error(w, http.StatusBadRequest, "session_id, quiz_id and question_id are required")
		return
	}

	if err := h.quizzes.RecordAnswer(r.Context(), req.SessionID, req.QuizID, req.QuestionID, req.Selected); err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type quizSubmitRequest struct {
	SessionID string         `json:"session_id"`
	QuizID    string         `json:"quiz_id"`
	Answers   map[string]int `json:"answers"`
}

func (h *Handler) handleQuizSubmit(w http.ResponseWriter, r *http.Request) {
	var req quizSubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.QuizID == "" {
		Error(w, http.StatusBadRequest, "session_id and quiz_id are required")
		return
	}

	attempt, err := h.quizzes.Submit(r.Context(), req.SessionID, req.QuizID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, attempt)
}

type homeworkCheckRequest struct {
	SessionID      string         `json:"session_id"`
	FileRef        string         `json:"file_ref"`
	Subject        domain.Subject `json:"subject,omitempty"`
	ExpectedFormat string         `json:"expected_format,omitempty"`
}

// handleHomeworkCheck accepts a homework review and returns the ack. The
// verdict arrives later on the session's live channel.
func (h *Handler) handleHomeworkCheck(w http.ResponseWriter, r *http.Request) {
	var req homeworkCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.FileRef == "" {
		Error(w, http.StatusBadRequest, "session_id and file_ref are required")
		return
	}

	input := domain.TurnInput{
		Homework: &domain.HomeworkSubmission{
			FileRef:        req.FileRef,
			Subject:        req.Subject,
			ExpectedFormat: req.ExpectedFormat,
		},
	}

	// The homework sequence ends at the ack; the review completes in the
	// background and publishes to the live channel.
	var ack *stream.Event
	for ev, err := range h.orchestrator.Run(r.Context(), req.SessionID, input) {
		if err != nil {
			writeError(w, err)
			return
		}
		if ev.Type == stream.EventAck {
			ack = ev
		}
	}
	if ack == nil {
		Error(w, http.StatusInternalServerError, "review was not acknowledged")
		return
	}

	JSON(w, http.StatusAccepted, map[string]any{
		"turn_id":     ack.TurnID,
		"session_id":  ack.SessionID,
		"status":      "accepted",
		"message":     ack.Message,
		"accepted_at": ack.Timestamp.Format(time.RFC3339),
	})
}

// decodeBody decodes a bounded JSON request body, writing the error response
// itself when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
