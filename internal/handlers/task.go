package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/services"
)

type taskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context) ([]models.Task, error)
}

type TaskHandler struct {
	tasks taskReader
	log   *logger.Logger
}

func NewTaskHandler(tasks taskReader, log *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, log: log}
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = &services.NotFoundError{Message: "Task not found"}
	}
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}
