package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/models"
)

type leaderboardService interface {
	Global(ctx context.Context, filter string) (*models.GlobalLeaderboard, error)
	ForTask(ctx context.Context, taskID uuid.UUID) (*models.TaskLeaderboard, error)
}

type LeaderboardHandler struct {
	leaderboards leaderboardService
	log          *logger.Logger
}

func NewLeaderboardHandler(leaderboards leaderboardService, log *logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboards: leaderboards, log: log}
}

// Global serves GET /leaderboard?taskId=<id|all>.
func (h *LeaderboardHandler) Global(w http.ResponseWriter, r *http.Request) {
	board, err := h.leaderboards.Global(r.Context(), r.URL.Query().Get("taskId"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *LeaderboardHandler) ForTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := urlUUID(w, r, "taskId")
	if !ok {
		return
	}

	board, err := h.leaderboards.ForTask(r.Context(), taskID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
