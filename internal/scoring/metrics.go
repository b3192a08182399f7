package scoring

import (
	"math"

	"promptarena-backend/internal/models"
)

// PromptCriteria are the nine prompt-quality criteria and their weights. The
// evaluator scores each on 0-10 and usually reports "final score" itself; the
// weights are only used when it does not.
var PromptCriteria = []struct {
	Name   string
	Weight float64
}{
	{"clarity", 0.15},
	{"specificity", 0.15},
	{"context", 0.10},
	{"structure", 0.10},
	{"constraints", 0.10},
	{"examples", 0.05},
	{"conciseness", 0.10},
	{"technical accuracy", 0.15},
	{"goal alignment", 0.10},
}

// CodeCriteria are the five code-evaluation criteria, averaged with equal weight.
var CodeCriteria = []string{
	"correctness",
	"readability",
	"efficiency",
	"maintainability",
	"best practices",
}

// QualityScore returns the 0-10 prompt quality for a metrics breakdown.
func QualityScore(m models.PromptMetrics) float64 {
	if m == nil {
		return 0
	}
	if v, ok := m[models.FinalScoreKey]; ok {
		return clamp(v, 0, 10)
	}
	var sum float64
	for _, c := range PromptCriteria {
		sum += c.Weight * clamp(m[c.Name], 0, 10)
	}
	return math.Round(sum*100) / 100
}

// CodeEvaluationScore averages the five 0-10 code criteria onto 0-1.
// Missing criteria count as zero.
func CodeEvaluationScore(criteria map[string]float64) float64 {
	var sum float64
	for _, name := range CodeCriteria {
		sum += clamp(criteria[name], 0, 10) / 10
	}
	return sum / float64(len(CodeCriteria))
}

// CodeAccuracyScore is the passing fraction of the executed tests, or nil when
// no test ran.
func CodeAccuracyScore(passed, failed int) *float64 {
	total := passed + failed
	if total <= 0 || passed < 0 || failed < 0 {
		return nil
	}
	return Float(float64(passed) / float64(total))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
