// Package scoring combines the independently computed submission metrics into
// the composite score and reconciles them into a session's current feedback.
package scoring

import (
	"math"

	"promptarena-backend/internal/models"
)

// Fixed metric weights. Code accuracy dominates, then code quality, then
// iterative prompting, then single-prompt wording.
const (
	WeightPromptQuality  = 0.10
	WeightPromptChaining = 0.15
	WeightCodeEvaluation = 0.30
	WeightCodeAccuracy   = 0.45

	// promptQualityScale brings the 0-10 quality score onto the 0-1 scale.
	promptQualityScale = 10.0

	MaxScore = 100
)

// Inputs holds the four raw metrics. A nil field counts as 0.
type Inputs struct {
	PromptQuality  *float64 // 0-10
	PromptChaining *float64 // 0-1
	CodeEvaluation *float64 // 0-1
	CodeAccuracy   *float64 // 0-1
}

// Aggregate returns round(weightedSum * 100) in [0, 100].
func Aggregate(in Inputs) int {
	sum := WeightPromptQuality*(valueOf(in.PromptQuality)/promptQualityScale) +
		WeightPromptChaining*valueOf(in.PromptChaining) +
		WeightCodeEvaluation*valueOf(in.CodeEvaluation) +
		WeightCodeAccuracy*valueOf(in.CodeAccuracy)

	score := int(math.Round(sum * 100))
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// AggregateFeedback scores a reconciled feedback record. A nil record scores 0.
func AggregateFeedback(fb *models.Feedback) int {
	if fb == nil {
		return 0
	}
	quality := fb.QualityScore
	return Aggregate(Inputs{
		PromptQuality:  &quality,
		PromptChaining: fb.PromptChainingScore,
		CodeEvaluation: fb.CodeEvaluationScore,
		CodeAccuracy:   fb.CodeAccuracyScore,
	})
}

func valueOf(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	return *v
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
