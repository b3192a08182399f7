package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptarena-backend/internal/models"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func TestReconcile_FirstSubmission(t *testing.T) {
	fb, score := Reconcile(nil, FreshValues{
		Metrics:        models.PromptMetrics{"clarity": 8, models.FinalScoreKey: 8},
		QualityScore:   Float(8),
		CodeEvaluation: Float(0.5),
		PromptTokens:   40,
		ResponseTokens: 120,
	}, t0)

	require.NotNil(t, fb)
	assert.Equal(t, models.FeedbackTypePromptAnalysis, fb.Type)
	assert.Equal(t, t0, fb.Timestamp)
	assert.Equal(t, 8.0, fb.QualityScore)
	assert.Nil(t, fb.PromptChainingScore, "never computed stays absent")
	assert.Nil(t, fb.CodeAccuracyScore)
	require.NotNil(t, fb.CodeEvaluationScore)
	assert.Equal(t, 0.5, *fb.CodeEvaluationScore)
	assert.Equal(t, 40, *fb.PromptTokenCount)
	assert.Equal(t, 120, *fb.ResponseTokenCount)
	// 0.10*0.8 + 0.30*0.5 = 0.23
	assert.Equal(t, 23, score)
}

func TestReconcile_CarriesForwardAbsentMetrics(t *testing.T) {
	first, _ := Reconcile(nil, FreshValues{
		Metrics:        models.PromptMetrics{models.FinalScoreKey: 6},
		PromptChaining: Float(0.8),
	}, t0)

	second, _ := Reconcile(first, FreshValues{
		Metrics:      models.PromptMetrics{models.FinalScoreKey: 7},
		CodeAccuracy: Float(1),
	}, t1)

	require.NotNil(t, second.PromptChainingScore)
	assert.Equal(t, 0.8, *second.PromptChainingScore)
	assert.Equal(t, 1.0, *second.CodeAccuracyScore)
	assert.Equal(t, 7.0, second.QualityScore, "quality is always overwritten")
	assert.Equal(t, t1, second.Timestamp)
}

func TestReconcile_TokenCountsNeverRegress(t *testing.T) {
	first, _ := Reconcile(nil, FreshValues{PromptTokens: 30, ResponseTokens: 120}, t0)
	second, _ := Reconcile(first, FreshValues{PromptTokens: 0, ResponseTokens: 0}, t1)

	assert.Equal(t, 30, *second.PromptTokenCount)
	assert.Equal(t, 120, *second.ResponseTokenCount)

	third, _ := Reconcile(second, FreshValues{ResponseTokens: 90}, t1)
	assert.Equal(t, 90, *third.ResponseTokenCount, "positive fresh counts overwrite")
	assert.Equal(t, 30, *third.PromptTokenCount)
}

func TestReconcile_MetricsReplacedNotMerged(t *testing.T) {
	first, _ := Reconcile(nil, FreshValues{Metrics: models.PromptMetrics{"clarity": 9, "examples": 2}}, t0)
	second, _ := Reconcile(first, FreshValues{Metrics: models.PromptMetrics{"clarity": 4}}, t1)

	assert.Equal(t, models.PromptMetrics{"clarity": 4}, second.Metrics)
}

func TestReconcile_SkippedEvaluationKeepsQuality(t *testing.T) {
	first, _ := Reconcile(nil, FreshValues{Metrics: models.PromptMetrics{models.FinalScoreKey: 9}}, t0)
	second, score := Reconcile(first, FreshValues{PromptChaining: Float(0.6)}, t1)

	assert.Equal(t, 9.0, second.QualityScore)
	assert.Equal(t, models.PromptMetrics{models.FinalScoreKey: 9}, second.Metrics)
	// 0.10*0.9 + 0.15*0.6 = 0.18
	assert.Equal(t, 18, score)
}

func TestReconcile_DoesNotAliasPrevious(t *testing.T) {
	prev, _ := Reconcile(nil, FreshValues{Metrics: models.PromptMetrics{"clarity": 5}, CodeAccuracy: Float(0.4)}, t0)
	next, _ := Reconcile(prev, FreshValues{}, t1)

	*next.CodeAccuracyScore = 0.9
	next.Metrics["clarity"] = 1

	assert.Equal(t, 0.4, *prev.CodeAccuracyScore)
	assert.Equal(t, 5.0, prev.Metrics["clarity"])
}
