package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"promptarena-backend/internal/models"
)

func TestAggregate_Bounds(t *testing.T) {
	assert.Equal(t, 0, Aggregate(Inputs{}), "all absent scores 0")
	assert.Equal(t, 0, Aggregate(Inputs{
		PromptQuality: Float(0), PromptChaining: Float(0), CodeEvaluation: Float(0), CodeAccuracy: Float(0),
	}))
	assert.Equal(t, 100, Aggregate(Inputs{
		PromptQuality: Float(10), PromptChaining: Float(1), CodeEvaluation: Float(1), CodeAccuracy: Float(1),
	}))

	for q := 0.0; q <= 10; q += 2.5 {
		for _, x := range []float64{0, 0.25, 0.5, 0.75, 1} {
			got := Aggregate(Inputs{PromptQuality: Float(q), PromptChaining: Float(x), CodeEvaluation: Float(1 - x), CodeAccuracy: Float(x)})
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		}
	}
}

func TestAggregate_Weights(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want int
	}{
		{"quality and accuracy", Inputs{PromptQuality: Float(10), CodeAccuracy: Float(1)}, 55},
		{"accuracy only", Inputs{CodeAccuracy: Float(1)}, 45},
		{"evaluation only", Inputs{CodeEvaluation: Float(1)}, 30},
		{"chaining only", Inputs{PromptChaining: Float(1)}, 15},
		{"quality only", Inputs{PromptQuality: Float(10)}, 10},
		{"mixed", Inputs{PromptQuality: Float(7), PromptChaining: Float(0.8), CodeEvaluation: Float(0.6), CodeAccuracy: Float(0.4)}, 55},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Aggregate(tc.in))
		})
	}
}

func TestAggregate_ClampsOutOfRange(t *testing.T) {
	assert.Equal(t, 100, Aggregate(Inputs{PromptQuality: Float(50), PromptChaining: Float(3), CodeEvaluation: Float(3), CodeAccuracy: Float(3)}))
	assert.Equal(t, 0, Aggregate(Inputs{CodeAccuracy: Float(-2)}))
}

func TestAggregateFeedback(t *testing.T) {
	assert.Equal(t, 0, AggregateFeedback(nil))

	fb := &models.Feedback{
		Type:              models.FeedbackTypePromptAnalysis,
		QualityScore:      10,
		CodeAccuracyScore: Float(1),
	}
	assert.Equal(t, 55, AggregateFeedback(fb))
}
