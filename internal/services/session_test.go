package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptarena-backend/internal/models"
)

type sessionRepoStub struct {
	*memSessions
	started int
}

func (s *sessionRepoStub) Start(ctx context.Context, userID, taskID uuid.UUID) (*models.Session, error) {
	s.started++
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.TaskID == taskID {
			sess := sess
			return &sess, nil
		}
	}
	sess := models.Session{ID: uuid.New(), UserID: userID, TaskID: taskID, Prompts: []string{}}
	s.sessions[sess.ID] = sess
	return &sess, nil
}

func (s *sessionRepoStub) History(ctx context.Context, sessionID uuid.UUID) ([]models.FeedbackHistoryEntry, error) {
	return nil, nil
}

func TestSessionService(t *testing.T) {
	task := models.Task{ID: uuid.New()}
	repo := &sessionRepoStub{memSessions: newMemSessions()}
	svc := NewSessionService(repo, &fakeTasks{tasks: []models.Task{task}})
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.Start(ctx, user, models.StartSessionRequest{TaskID: task.ID.String()})
	require.NoError(t, err)
	again, err := svc.Start(ctx, user, models.StartSessionRequest{TaskID: task.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = svc.Start(ctx, user, models.StartSessionRequest{TaskID: uuid.NewString()})
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))

	_, err = svc.Start(ctx, user, models.StartSessionRequest{TaskID: "x"})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	got, err := svc.Get(ctx, user, first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.TaskID)

	_, err = svc.Get(ctx, uuid.New(), first.ID)
	assert.True(t, errors.As(err, &nf))

	history, err := svc.History(ctx, user, first.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}
