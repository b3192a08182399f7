package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/middleware"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/repository"
	"promptarena-backend/internal/services"
)

type sessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.Session
}

func (s *sessionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	sess.Prompts = append([]string(nil), sess.Prompts...)
	return &sess, nil
}

func (s *sessionStore) UpdateIfVersion(ctx context.Context, sess *models.Session, expectedVersion int, submittedScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.sessions[sess.ID]
	if cur.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	if submittedScore > cur.Score {
		cur.Score = submittedScore
	}
	cur.Prompts = sess.Prompts
	cur.Feedback = sess.Feedback
	cur.Version++
	s.sessions[sess.ID] = cur
	*sess = cur
	return nil
}

type boardStub struct {
	global *models.GlobalLeaderboard
	task   *models.TaskLeaderboard
	err    error
	filter string
}

func (b *boardStub) Global(ctx context.Context, filter string) (*models.GlobalLeaderboard, error) {
	b.filter = filter
	return b.global, b.err
}

func (b *boardStub) ForTask(ctx context.Context, taskID uuid.UUID) (*models.TaskLeaderboard, error) {
	return b.task, b.err
}

func newAttemptRouter(t *testing.T, store *sessionStore) *chi.Mux {
	t.Helper()
	ledger := services.NewLedgerService(store, nil, nil, metrics.New(), logger.Nop())
	h := NewSessionHandler(nil, ledger, nil, logger.Nop())

	r := chi.NewRouter()
	r.Post("/submit-attempt", h.SubmitAttempt)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, target string, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAttempt(t *testing.T) {
	owner := uuid.New()
	sessionID := uuid.New()
	store := &sessionStore{sessions: map[uuid.UUID]models.Session{
		sessionID: {ID: sessionID, UserID: owner, TaskID: uuid.New(), Score: 40, Prompts: []string{}},
	}}
	r := newAttemptRouter(t, store)

	score := func(n int) *int { return &n }

	tests := []struct {
		name   string
		user   uuid.UUID
		body   interface{}
		status int
		code   string
	}{
		{
			name:   "unauthenticated",
			body:   models.SubmitAttemptRequest{SessionID: sessionID.String(), Prompt: "p", Score: score(50)},
			status: http.StatusUnauthorized,
			code:   "UNAUTHORIZED",
		},
		{
			name:   "missing score",
			user:   owner,
			body:   models.SubmitAttemptRequest{SessionID: sessionID.String(), Prompt: "p"},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "score out of range",
			user:   owner,
			body:   models.SubmitAttemptRequest{SessionID: sessionID.String(), Prompt: "p", Score: score(101)},
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown session",
			user:   owner,
			body:   models.SubmitAttemptRequest{SessionID: uuid.NewString(), Prompt: "p", Score: score(50)},
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:   "someone else's session",
			user:   uuid.New(),
			body:   models.SubmitAttemptRequest{SessionID: sessionID.String(), Prompt: "p", Score: score(50)},
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, r, http.MethodPost, "/submit-attempt", tt.user, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit-attempt", strings.NewReader("{"))
		req = req.WithContext(middleware.WithUserID(req.Context(), owner))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("records best score", func(t *testing.T) {
		body := models.SubmitAttemptRequest{SessionID: sessionID.String(), Prompt: "first", Score: score(72)}
		rec := doJSON(t, r, http.MethodPost, "/submit-attempt", owner, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Session      models.Session `json:"session"`
			NewBestScore bool           `json:"newBestScore"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.NewBestScore)
		assert.Equal(t, 72, resp.Session.Score)
		assert.Equal(t, []string{"first"}, resp.Session.Prompts)

		body = models.SubmitAttemptRequest{SessionID: sessionID.String(), Prompt: "second", Score: score(30)}
		rec = doJSON(t, r, http.MethodPost, "/submit-attempt", owner, body)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.NewBestScore)
		assert.Equal(t, 72, resp.Session.Score)
		assert.Len(t, resp.Session.Prompts, 2)
	})
}

func TestLeaderboardHandler(t *testing.T) {
	taskID := uuid.New()
	stub := &boardStub{
		global: &models.GlobalLeaderboard{
			Leaderboard:   []models.UserLeaderboardEntry{{Rank: 1, Username: "ada", AverageScore: 80}},
			Tasks:         []models.TaskSummary{},
			TotalUsers:    1,
			FilterApplied: "all",
		},
		task: &models.TaskLeaderboard{
			Task:        &models.Task{ID: taskID},
			Leaderboard: []models.TaskLeaderboardEntry{{Rank: 1, Username: "ada", Score: 80}},
		},
	}
	h := NewLeaderboardHandler(stub, logger.Nop())
	r := chi.NewRouter()
	r.Get("/leaderboard", h.Global)
	r.Get("/leaderboard/{taskId}", h.ForTask)

	t.Run("global passes filter through", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodGet, "/leaderboard?taskId=all", uuid.Nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "all", stub.filter)

		var board models.GlobalLeaderboard
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
		assert.Equal(t, 1, board.TotalUsers)
		assert.Equal(t, "ada", board.Leaderboard[0].Username)
	})

	t.Run("task board", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodGet, "/leaderboard/"+taskID.String(), uuid.Nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"score":80`)
	})

	t.Run("bad task id", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodGet, "/leaderboard/nope", uuid.Nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service errors map to status", func(t *testing.T) {
		stub.err = &services.NotFoundError{Message: "Task not found"}
		defer func() { stub.err = nil }()

		rec := doJSON(t, r, http.MethodGet, "/leaderboard?taskId="+uuid.NewString(), uuid.Nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"a": "b"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", &services.ConflictError{Message: "busy"}, http.StatusConflict, "CONFLICT"},
		{"rate limited", &services.RateLimitError{Message: "slow"}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"upstream", &services.UpstreamError{Service: "gemini", Op: "generate", Err: context.DeadlineExceeded}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"wrapped not found", wrapErr(&services.NotFoundError{Message: "gone"}), http.StatusNotFound, "NOT_FOUND"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()
			handleServiceError(rec, req, logger.Nop(), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, "req-1", resp.Error.RequestID)
		})
	}
}

type wrapped struct{ err error }

func (w wrapped) Error() string { return "outer: " + w.err.Error() }
func (w wrapped) Unwrap() error { return w.err }

func wrapErr(err error) error { return wrapped{err} }
