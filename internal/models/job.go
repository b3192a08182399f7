package models

import (
	"time"

	"github.com/google/uuid"
)

const JobTypePromptChaining = "prompt-chaining"

// Job is a queued background evaluation. Jobs live only in Redis.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	UserID     uuid.UUID `json:"user_id"`
	SessionID  uuid.UUID `json:"session_id"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ScoreUpdate struct {
	SessionID    uuid.UUID `json:"session_id"`
	TaskID       uuid.UUID `json:"task_id"`
	Score        int       `json:"score"`
	Composite    int       `json:"composite"`
	NewBestScore bool      `json:"new_best_score"`
}

type ChainUpdate struct {
	SessionID           uuid.UUID `json:"session_id"`
	PromptChainingScore float64   `json:"prompt_chaining_score"`
	Score               int       `json:"score"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
