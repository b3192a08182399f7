package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/repository"
	"promptarena-backend/internal/scoring"
)

const ledgerMaxAttempts = 5

// Submission sources, used as a metrics label.
const (
	SourcePrompt        = "prompt"
	SourceSubmitAttempt = "submit_attempt"
	SourceChain         = "prompt_chaining"
)

// SessionStore is the persistence the ledger needs. UpdateIfVersion must
// return repository.ErrVersionConflict when the stored version moved.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateIfVersion(ctx context.Context, s *models.Session, expectedVersion int, submittedScore int) error
}

type EventPublisher interface {
	PublishUpdate(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
}

type LeaderboardInvalidator interface {
	Invalidate(ctx context.Context, taskID uuid.UUID)
}

// Submission is one write to a session. Prompt is nil for background metric
// updates that do not add a prompt. Score is the client-reported score; when
// nil the composite of the reconciled feedback is used.
type Submission struct {
	SessionID uuid.UUID
	CallerID  uuid.UUID
	Prompt    *string
	Fresh     scoring.FreshValues
	Score     *int
	Source    string
}

type RecordResult struct {
	Session      *models.Session `json:"session"`
	Composite    int             `json:"composite"`
	Submitted    int             `json:"submitted_score"`
	NewBestScore bool            `json:"newBestScore"`
}

// LedgerService owns every write to a session's prompts, feedback and score.
type LedgerService struct {
	store       SessionStore
	publisher   EventPublisher
	leaderboard LeaderboardInvalidator
	metrics     *metrics.Metrics
	log         *logger.Logger
	now         func() time.Time
}

func NewLedgerService(store SessionStore, publisher EventPublisher, leaderboard LeaderboardInvalidator, m *metrics.Metrics, log *logger.Logger) *LedgerService {
	return &LedgerService{
		store:       store,
		publisher:   publisher,
		leaderboard: leaderboard,
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// SubmitAttempt records a client-scored attempt.
func (s *LedgerService) SubmitAttempt(ctx context.Context, callerID uuid.UUID, req models.SubmitAttemptRequest) (*RecordResult, error) {
	if callerID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Authentication required"}
	}

	fieldErrors := make(map[string]string)
	sessionID, err := uuid.Parse(strings.TrimSpace(req.SessionID))
	if err != nil {
		fieldErrors["sessionId"] = "A valid session id is required"
	}
	if strings.TrimSpace(req.Prompt) == "" {
		fieldErrors["prompt"] = "Prompt is required"
	}
	if req.Score == nil {
		fieldErrors["score"] = "Score is required"
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{Fields: fieldErrors}
	}

	prompt := req.Prompt
	return s.Record(ctx, Submission{
		SessionID: sessionID,
		CallerID:  callerID,
		Prompt:    &prompt,
		Fresh:     scoring.FreshValues{Metrics: req.Metrics},
		Score:     req.Score,
		Source:    SourceSubmitAttempt,
	})
}

// Record reconciles the submission into the session and persists it with an
// optimistic compare-and-swap on the session version, retrying on conflict.
// The stored score never decreases.
func (s *LedgerService) Record(ctx context.Context, sub Submission) (*RecordResult, error) {
	if err := validateSubmission(sub); err != nil {
		s.metrics.RecordSubmissionFailure(sub.Source)
		return nil, err
	}

	for attempt := 1; attempt <= ledgerMaxAttempts; attempt++ {
		result, err := s.tryRecord(ctx, sub)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.metrics.RecordLedgerConflict()
			s.log.Debug("Session version conflict, retrying", "session_id", sub.SessionID, "attempt", attempt)
			continue
		}
		if err != nil {
			s.metrics.RecordSubmissionFailure(sub.Source)
			return nil, err
		}

		s.metrics.RecordSubmission(sub.Source, result.Composite, result.NewBestScore)
		s.afterWrite(ctx, result)
		return result, nil
	}

	s.metrics.RecordSubmissionFailure(sub.Source)
	return nil, &ConflictError{Message: "Session is being updated concurrently, please retry"}
}

func validateSubmission(sub Submission) error {
	if sub.CallerID == uuid.Nil {
		return &UnauthorizedError{Message: "Authentication required"}
	}
	fieldErrors := make(map[string]string)
	if sub.SessionID == uuid.Nil {
		fieldErrors["sessionId"] = "A valid session id is required"
	}
	if sub.Prompt != nil && strings.TrimSpace(*sub.Prompt) == "" {
		fieldErrors["prompt"] = "Prompt is required"
	}
	if sub.Score != nil && (*sub.Score < 0 || *sub.Score > scoring.MaxScore) {
		fieldErrors["score"] = fmt.Sprintf("Score must be between 0 and %d", scoring.MaxScore)
	}
	if len(fieldErrors) > 0 {
		return &ValidationError{Fields: fieldErrors}
	}
	return nil
}

func (s *LedgerService) tryRecord(ctx context.Context, sub Submission) (*RecordResult, error) {
	sess, err := s.store.GetByID(ctx, sub.SessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	// Another user's session is reported as missing.
	if sess.UserID != sub.CallerID {
		return nil, &NotFoundError{Message: "Session not found"}
	}

	previousScore := sess.Score
	expectedVersion := sess.Version

	feedback, composite := scoring.Reconcile(sess.Feedback, sub.Fresh, s.now())
	submitted := composite
	if sub.Score != nil {
		submitted = *sub.Score
	}

	if sub.Prompt != nil {
		prompts := make([]string, len(sess.Prompts), len(sess.Prompts)+1)
		copy(prompts, sess.Prompts)
		sess.Prompts = append(prompts, *sub.Prompt)
	}
	sess.Feedback = feedback
	sess.State = models.SessionStateActive

	if err := s.store.UpdateIfVersion(ctx, sess, expectedVersion, submitted); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return &RecordResult{
		Session:      sess,
		Composite:    composite,
		Submitted:    submitted,
		NewBestScore: submitted > previousScore,
	}, nil
}

func (s *LedgerService) afterWrite(ctx context.Context, result *RecordResult) {
	sess := result.Session
	s.log.Info("Session score recorded",
		"session_id", sess.ID,
		"composite", result.Composite,
		"submitted", result.Submitted,
		"score", sess.Score,
		"new_best", result.NewBestScore,
	)
	// Prompt counts, token counts and chaining percentages are on the boards
	// too, so every write drops them, not only a new best.
	if s.leaderboard != nil {
		s.leaderboard.Invalidate(ctx, sess.TaskID)
	}
	if !result.NewBestScore {
		return
	}

	if s.publisher != nil {
		s.publisher.PublishUpdate(ctx, sess.UserID, models.WSMessage{
			Type: "score_update",
			Payload: models.ScoreUpdate{
				SessionID:    sess.ID,
				TaskID:       sess.TaskID,
				Score:        sess.Score,
				Composite:    result.Composite,
				NewBestScore: true,
			},
		})
	}
}
