package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const FeedbackTypePromptAnalysis = "prompt_analysis"

// FinalScoreKey is the metrics entry holding the evaluator's overall 0-10 prompt quality.
const FinalScoreKey = "final score"

const (
	SessionStateNotStarted = 0
	SessionStateActive     = 1
)

var ErrNotPromptAnalysis = errors.New("feedback is not a prompt_analysis record")

type Session struct {
	ID        uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	TaskID    uuid.UUID `json:"task_id"`
	Prompts   []string  `json:"prompts"`
	Feedback  *Feedback `json:"feedback"`
	Score     int       `json:"score"`
	State     int       `json:"state"`
	Version   int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptMetrics is the raw criterion breakdown returned by the prompt-quality evaluator.
type PromptMetrics map[string]float64

// FinalScore returns metrics["final score"], or 0 when absent.
func (m PromptMetrics) FinalScore() float64 {
	if m == nil {
		return 0
	}
	return m[FinalScoreKey]
}

// Feedback is the single reconciled "current feedback" snapshot of a session.
// Pointer fields distinguish a metric that was never computed from one that scored zero.
type Feedback struct {
	Type                string        `json:"type"`
	QualityScore        float64       `json:"qualityScore"`
	PromptChainingScore *float64      `json:"promptChainingScore,omitempty"`
	CodeEvaluationScore *float64      `json:"codeEvaluationScore,omitempty"`
	CodeAccuracyScore   *float64      `json:"codeAccuracyScore,omitempty"`
	PromptTokenCount    *int          `json:"promptTokenCount,omitempty"`
	ResponseTokenCount  *int          `json:"responseTokenCount,omitempty"`
	Metrics             PromptMetrics `json:"metrics"`
	Timestamp           time.Time     `json:"timestamp"`
}

func (f *Feedback) IsPromptAnalysis() bool {
	return f != nil && f.Type == FeedbackTypePromptAnalysis
}

// DecodeFeedback validates a feedback document read from the store.
// An empty or null document decodes to (nil, nil).
func DecodeFeedback(raw json.RawMessage) (*Feedback, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var fb Feedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		return nil, err
	}
	if fb.Type != FeedbackTypePromptAnalysis {
		return nil, ErrNotPromptAnalysis
	}
	return &fb, nil
}

type FeedbackHistoryEntry struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Feedback  *Feedback `json:"feedback"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

type StartSessionRequest struct {
	TaskID string `json:"task_id"`
}

type PromptRequest struct {
	Prompt string            `json:"prompt"`
	Files  map[string]string `json:"files"`
}

// SubmitAttemptRequest keeps the camelCase body used by the challenge editor.
type SubmitAttemptRequest struct {
	SessionID string        `json:"sessionId"`
	Prompt    string        `json:"prompt"`
	Score     *int          `json:"score"`
	Metrics   PromptMetrics `json:"metrics"`
}
