package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionRow is what the rankers read for one scored session.
type SessionRow struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	TaskID    uuid.UUID
	Prompts   int
	Score     *int
	Feedback  *Feedback
	UpdatedAt time.Time
}

type Profile struct {
	UserID   uuid.UUID `json:"user_id"`
	Username *string   `json:"username"`
}

type TaskLeaderboardEntry struct {
	Rank               int       `json:"rank"`
	SessionID          uuid.UUID `json:"session_id"`
	UserID             uuid.UUID `json:"user_id"`
	Username           string    `json:"username"`
	Score              int       `json:"score"`
	PromptCount        int       `json:"prompt_count"`
	PromptQuality      float64   `json:"prompt_quality"`
	PromptChaining     float64   `json:"prompt_chaining"`
	CodeEvaluation     float64   `json:"code_evaluation"`
	CodeAccuracy       float64   `json:"code_accuracy"`
	PromptTokenCount   int       `json:"prompt_token_count"`
	ResponseTokenCount int       `json:"response_token_count"`
	LastSubmission     time.Time `json:"last_submission"`
}

type UserLeaderboardEntry struct {
	Rank                int       `json:"rank"`
	UserID              uuid.UUID `json:"user_id"`
	Username            string    `json:"username"`
	AverageScore        int       `json:"average_score"`
	MaxScore            int       `json:"max_score"`
	TotalSessions       int       `json:"total_sessions"`
	TotalPrompts        int       `json:"total_prompts"`
	ChallengesCompleted int       `json:"challenges_completed"`
	TaskTypesCompleted  int       `json:"task_types_completed"`
	AvgFinalScore       float64   `json:"avg_final_score"`
	AvgPromptChaining   float64   `json:"avg_prompt_chaining"`
	AvgCodeEvaluation   float64   `json:"avg_code_evaluation"`
	AvgCodeAccuracy     float64   `json:"avg_code_accuracy"`
	LastActive          time.Time `json:"last_active"`
}

type GlobalLeaderboard struct {
	Leaderboard   []UserLeaderboardEntry `json:"leaderboard"`
	Tasks         []TaskSummary          `json:"tasks"`
	TotalUsers    int                    `json:"totalUsers"`
	FilterApplied string                 `json:"filterApplied"`
}

type TaskLeaderboard struct {
	Task        *Task                  `json:"task"`
	Leaderboard []TaskLeaderboardEntry `json:"leaderboard"`
}
