package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptarena-backend/internal/models"
)

// ErrVersionConflict means the session changed between read and write.
var ErrVersionConflict = errors.New("session version conflict")

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `session_id, user_id, task_id, prompts, feedback, score, state, version, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	var feedback []byte
	err := row.Scan(
		&s.ID, &s.UserID, &s.TaskID, &s.Prompts, &feedback,
		&s.Score, &s.State, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Feedback = decodeStoredFeedback(feedback)
	if s.Prompts == nil {
		s.Prompts = []string{}
	}
	return s, nil
}

// decodeStoredFeedback drops documents that are not a valid prompt_analysis
// record; the reconciler then starts from an empty record.
func decodeStoredFeedback(raw []byte) *models.Feedback {
	fb, err := models.DecodeFeedback(raw)
	if err != nil {
		return nil
	}
	return fb
}

// Start returns the user's session for the task, creating it on first use.
func (r *SessionRepo) Start(ctx context.Context, userID, taskID uuid.UUID) (*models.Session, error) {
	query := `
		INSERT INTO sessions (user_id, task_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, task_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + sessionColumns

	return scanSession(r.pool.QueryRow(ctx, query, userID, taskID))
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE session_id = $1", id))
}

// UpdateIfVersion writes prompts, feedback and state, raises score to
// GREATEST(score, s.Score) and appends a feedback_history row, all only when
// the stored version still equals expectedVersion. On success s carries the
// stored score, version and updated_at.
func (r *SessionRepo) UpdateIfVersion(ctx context.Context, s *models.Session, expectedVersion int, submittedScore int) error {
	feedback, err := json.Marshal(s.Feedback)
	if err != nil {
		return fmt.Errorf("failed to encode feedback: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		UPDATE sessions
		SET prompts = $3,
			feedback = $4,
			score = GREATEST(score, $5),
			state = $6,
			version = version + 1,
			updated_at = NOW()
		WHERE session_id = $1
		  AND version = $2
		RETURNING score, version, updated_at
	`, s.ID, expectedVersion, s.Prompts, feedback, submittedScore, s.State).Scan(&s.Score, &s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO feedback_history (session_id, feedback, score)
		VALUES ($1, $2, $3)
	`, s.ID, feedback, submittedScore); err != nil {
		return fmt.Errorf("failed to append feedback history: %w", err)
	}

	return tx.Commit(ctx)
}

// History returns the append-only feedback log, oldest first.
func (r *SessionRepo) History(ctx context.Context, sessionID uuid.UUID) ([]models.FeedbackHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, feedback, score, created_at
		FROM feedback_history
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.FeedbackHistoryEntry
	for rows.Next() {
		var e models.FeedbackHistoryEntry
		var feedback []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &feedback, &e.Score, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Feedback = decodeStoredFeedback(feedback)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListScored returns every session with a positive score, optionally limited
// to one task, in session id order.
func (r *SessionRepo) ListScored(ctx context.Context, taskID *uuid.UUID) ([]models.SessionRow, error) {
	query := `
		SELECT session_id, user_id, task_id, COALESCE(array_length(prompts, 1), 0), score, feedback, updated_at
		FROM sessions
		WHERE score > 0`
	args := []interface{}{}
	if taskID != nil {
		query += " AND task_id = $1"
		args = append(args, *taskID)
	}
	query += " ORDER BY session_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionRow
	for rows.Next() {
		var row models.SessionRow
		var score int
		var feedback []byte
		if err := rows.Scan(&row.SessionID, &row.UserID, &row.TaskID, &row.Prompts, &score, &feedback, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Score = &score
		row.Feedback = decodeStoredFeedback(feedback)
		out = append(out, row)
	}
	return out, rows.Err()
}
