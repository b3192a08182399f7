package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"promptarena-backend/internal/models"
)

type SessionRepository interface {
	Start(ctx context.Context, userID, taskID uuid.UUID) (*models.Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	History(ctx context.Context, sessionID uuid.UUID) ([]models.FeedbackHistoryEntry, error)
}

// SessionService opens and reads challenge sessions. Writes go through the ledger.
type SessionService struct {
	sessions SessionRepository
	tasks    TaskGetter
}

func NewSessionService(sessions SessionRepository, tasks TaskGetter) *SessionService {
	return &SessionService{sessions: sessions, tasks: tasks}
}

// Start returns the caller's session for the task, creating it on first use.
func (s *SessionService) Start(ctx context.Context, userID uuid.UUID, req models.StartSessionRequest) (*models.Session, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Authentication required"}
	}
	taskID, err := uuid.Parse(strings.TrimSpace(req.TaskID))
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"task_id": "A valid task id is required"}}
	}

	if _, err := s.tasks.GetByID(ctx, taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Task not found"}
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	sess, err := s.sessions.Start(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && sess.UserID != userID) {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// History returns the session's feedback log, oldest first.
func (s *SessionService) History(ctx context.Context, userID, sessionID uuid.UUID) ([]models.FeedbackHistoryEntry, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	entries, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if entries == nil {
		entries = []models.FeedbackHistoryEntry{}
	}
	return entries, nil
}
