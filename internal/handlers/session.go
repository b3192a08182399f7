package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/middleware"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/services"
)

type sessionService interface {
	Start(ctx context.Context, userID uuid.UUID, req models.StartSessionRequest) (*models.Session, error)
	Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error)
	History(ctx context.Context, userID, sessionID uuid.UUID) ([]models.FeedbackHistoryEntry, error)
}

type attemptRecorder interface {
	SubmitAttempt(ctx context.Context, callerID uuid.UUID, req models.SubmitAttemptRequest) (*services.RecordResult, error)
}

type promptSubmitter interface {
	Submit(ctx context.Context, userID, sessionID uuid.UUID, req models.PromptRequest) (*services.PromptResult, error)
}

type SessionHandler struct {
	sessions sessionService
	ledger   attemptRecorder
	prompts  promptSubmitter
	log      *logger.Logger
}

func NewSessionHandler(sessions sessionService, ledger attemptRecorder, prompts promptSubmitter, log *logger.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, ledger: ledger, prompts: prompts, log: log}
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := h.sessions.Start(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	sess, err := h.sessions.Get(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.sessions.History(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// SubmitPrompt runs the full generate-evaluate-test pipeline for one prompt.
func (h *SessionHandler) SubmitPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.PromptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.prompts.Submit(r.Context(), middleware.GetUserID(r.Context()), id, req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitAttempt records a client-scored attempt: 400 on invalid input, 401
// without a user, 404 for a missing or foreign session.
func (h *SessionHandler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitAttemptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.ledger.SubmitAttempt(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":      result.Session,
		"newBestScore": result.NewBestScore,
	})
}
