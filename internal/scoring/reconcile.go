package scoring

import (
	"time"

	"promptarena-backend/internal/models"
)

// FreshValues are the values computed for one submission. Nil means "not
// computed this time" and never clobbers a stored value.
type FreshValues struct {
	// Metrics and QualityScore come from the prompt-quality evaluator. When
	// Metrics is nil the evaluation was skipped or failed.
	Metrics      models.PromptMetrics
	QualityScore *float64

	PromptChaining *float64
	CodeEvaluation *float64
	CodeAccuracy   *float64

	PromptTokens   int
	ResponseTokens int
}

// HasQuality reports whether a prompt-quality evaluation is part of this submission.
func (f FreshValues) HasQuality() bool {
	return f.Metrics != nil || f.QualityScore != nil
}

// Reconcile merges fresh values into the previously stored feedback and
// returns the record to persist together with its composite score.
//
// Per field, a fresh value wins, then the stored value, else the field stays
// absent. Token counts only move when the fresh count is positive. Metrics and
// QualityScore are replaced whenever a quality evaluation ran.
func Reconcile(prev *models.Feedback, fresh FreshValues, now time.Time) (*models.Feedback, int) {
	next := &models.Feedback{
		Type:      models.FeedbackTypePromptAnalysis,
		Timestamp: now.UTC(),
	}

	if prev != nil {
		next.QualityScore = prev.QualityScore
		next.Metrics = copyMetrics(prev.Metrics)
		next.PromptChainingScore = copyFloat(prev.PromptChainingScore)
		next.CodeEvaluationScore = copyFloat(prev.CodeEvaluationScore)
		next.CodeAccuracyScore = copyFloat(prev.CodeAccuracyScore)
		next.PromptTokenCount = copyInt(prev.PromptTokenCount)
		next.ResponseTokenCount = copyInt(prev.ResponseTokenCount)
	}

	if fresh.HasQuality() {
		next.Metrics = copyMetrics(fresh.Metrics)
		if next.Metrics == nil {
			next.Metrics = models.PromptMetrics{}
		}
		if fresh.QualityScore != nil {
			next.QualityScore = *fresh.QualityScore
		} else {
			next.QualityScore = QualityScore(fresh.Metrics)
		}
	}
	if next.Metrics == nil {
		next.Metrics = models.PromptMetrics{}
	}

	next.PromptChainingScore = pick(fresh.PromptChaining, next.PromptChainingScore)
	next.CodeEvaluationScore = pick(fresh.CodeEvaluation, next.CodeEvaluationScore)
	next.CodeAccuracyScore = pick(fresh.CodeAccuracy, next.CodeAccuracyScore)

	if fresh.PromptTokens > 0 {
		next.PromptTokenCount = Int(fresh.PromptTokens)
	}
	if fresh.ResponseTokens > 0 {
		next.ResponseTokenCount = Int(fresh.ResponseTokens)
	}

	return next, AggregateFeedback(next)
}

func pick(fresh, stored *float64) *float64 {
	if fresh != nil {
		return copyFloat(fresh)
	}
	return stored
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	return Int(*v)
}

func copyMetrics(m models.PromptMetrics) models.PromptMetrics {
	if m == nil {
		return nil
	}
	out := make(models.PromptMetrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
