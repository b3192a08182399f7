package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/ranking"
)

const filterAll = "all"

type ScoredSessionLister interface {
	ListScored(ctx context.Context, taskID *uuid.UUID) ([]models.SessionRow, error)
}

type TaskLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context) ([]models.Task, error)
}

type ProfileLookup interface {
	Profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

// LeaderboardService reads scored sessions and hands them to the rankers.
// Results are cached for ttl and dropped on every ledger write to the task.
type LeaderboardService struct {
	sessions ScoredSessionLister
	tasks    TaskLookup
	profiles ProfileLookup
	cache    Cache
	ttl      time.Duration
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func NewLeaderboardService(sessions ScoredSessionLister, tasks TaskLookup, profiles ProfileLookup, cache Cache, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *LeaderboardService {
	return &LeaderboardService{
		sessions: sessions,
		tasks:    tasks,
		profiles: profiles,
		cache:    cache,
		ttl:      ttl,
		metrics:  m,
		log:      log,
	}
}

// Invalidate drops every cached board a change to taskID can affect.
func (s *LeaderboardService) Invalidate(ctx context.Context, taskID uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, taskBoardKey(taskID), globalBoardKey(filterAll), globalBoardKey(taskID.String()))
}

// Global ranks users across all tasks, or across one task when filter is a
// task id. An empty filter means "all".
func (s *LeaderboardService) Global(ctx context.Context, filter string) (*models.GlobalLeaderboard, error) {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		filter = filterAll
	}

	var taskID *uuid.UUID
	if filter != filterAll {
		id, err := uuid.Parse(filter)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"taskId": "Must be a task id or 'all'"}}
		}
		taskID = &id
		filter = id.String()
	}

	var board models.GlobalLeaderboard
	if s.cached(ctx, "global", globalBoardKey(filter), &board) {
		return &board, nil
	}

	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	taskByID := make(map[uuid.UUID]models.Task, len(tasks))
	summaries := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
		summaries = append(summaries, models.TaskSummary{ID: t.ID, Name: t.Name, Type: t.Type})
	}
	if taskID != nil {
		if _, ok := taskByID[*taskID]; !ok {
			return nil, &NotFoundError{Message: "Task not found"}
		}
	}

	rows, err := s.sessions.ListScored(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	profiles, err := s.profiles.Profiles(ctx, userIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	entries := ranking.RankUsers(rows, taskByID, profiles)
	if entries == nil {
		entries = []models.UserLeaderboardEntry{}
	}
	board = models.GlobalLeaderboard{
		Leaderboard:   entries,
		Tasks:         summaries,
		TotalUsers:    len(entries),
		FilterApplied: filter,
	}
	s.store(ctx, globalBoardKey(filter), board)
	return &board, nil
}

// ForTask ranks the sessions of one task.
func (s *LeaderboardService) ForTask(ctx context.Context, taskID uuid.UUID) (*models.TaskLeaderboard, error) {
	var board models.TaskLeaderboard
	if s.cached(ctx, "task", taskBoardKey(taskID), &board) {
		return &board, nil
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Message: "Task not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	rows, err := s.sessions.ListScored(ctx, &taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	profiles, err := s.profiles.Profiles(ctx, userIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	entries := ranking.RankTask(rows, profiles)
	if entries == nil {
		entries = []models.TaskLeaderboardEntry{}
	}
	board = models.TaskLeaderboard{Task: task, Leaderboard: entries}
	s.store(ctx, taskBoardKey(taskID), board)
	return &board, nil
}

func (s *LeaderboardService) cached(ctx context.Context, board, key string, v interface{}) bool {
	if s.cache == nil {
		return false
	}
	data, ok := s.cache.Get(ctx, key)
	if ok {
		if err := json.Unmarshal(data, v); err != nil {
			s.log.Warn("Discarding unreadable cached leaderboard", "key", key, "error", err)
			ok = false
		}
	}
	s.metrics.RecordCacheLookup(board, ok)
	return ok
}

func (s *LeaderboardService) store(ctx context.Context, key string, v interface{}) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("Failed to encode leaderboard for cache", "key", key, "error", err)
		return
	}
	s.cache.Set(ctx, key, data, s.ttl)
}

func userIDs(rows []models.SessionRow) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		ids = append(ids, r.UserID)
	}
	return ids
}
