package ranking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptarena-backend/internal/models"
)

var (
	alice = uuid.MustParse("aaaaaaaa-1111-4111-8111-111111111111")
	bob   = uuid.MustParse("bbbbbbbb-2222-4222-8222-222222222222")
	carol = uuid.MustParse("cccccccc-3333-4333-8333-333333333333")

	taskFE = uuid.MustParse("f0000000-0000-4000-8000-000000000001")
	taskBE = uuid.MustParse("f0000000-0000-4000-8000-000000000002")
	taskML = uuid.MustParse("f0000000-0000-4000-8000-000000000003")

	now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
)

func score(v int) *int           { return &v }
func ptr(v float64) *float64     { return &v }
func str(v string) *string       { return &v }
func sessionID(n byte) uuid.UUID { return uuid.UUID{0x10, 0, 0, 0, 0, 0, 0x40, 0, 0x80, 0, 0, 0, 0, 0, 0, n} }

func analysis(quality, chaining, eval, acc float64, final float64) *models.Feedback {
	m := models.PromptMetrics{}
	if final != 0 {
		m[models.FinalScoreKey] = final
	}
	return &models.Feedback{
		Type:                models.FeedbackTypePromptAnalysis,
		QualityScore:        quality,
		PromptChainingScore: ptr(chaining),
		CodeEvaluationScore: ptr(eval),
		CodeAccuracyScore:   ptr(acc),
		Metrics:             m,
	}
}

func TestResolveUsername(t *testing.T) {
	assert.Equal(t, "alice", ResolveUsername(&models.Profile{UserID: alice, Username: str("alice")}, alice))
	assert.Equal(t, "Useraaaaaaaa", ResolveUsername(nil, alice))
	assert.Equal(t, "Userbbbbbbbb", ResolveUsername(&models.Profile{UserID: bob, Username: str("  ")}, bob))
}

func TestRankTask_ExcludesUnscoredSessions(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(1), UserID: alice, TaskID: taskFE, Score: nil},
		{SessionID: sessionID(2), UserID: bob, TaskID: taskFE, Score: score(0)},
		{SessionID: sessionID(3), UserID: carol, TaskID: taskFE, Score: score(-4)},
		{SessionID: sessionID(4), UserID: carol, TaskID: taskFE, Score: score(12)},
	}

	entries := RankTask(rows, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, sessionID(4), entries[0].SessionID)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestRankTask_OrderingAndDecoration(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(3), UserID: carol, TaskID: taskFE, Score: score(70), Prompts: 2, UpdatedAt: now},
		{SessionID: sessionID(1), UserID: alice, TaskID: taskFE, Score: score(90), Prompts: 4,
			Feedback: analysis(8, 0.5, 0.75, 1, 8), UpdatedAt: now},
		{SessionID: sessionID(2), UserID: bob, TaskID: taskFE, Score: score(70), Prompts: 1, UpdatedAt: now},
	}
	rows[1].Feedback.PromptTokenCount = func(v int) *int { return &v }(55)
	profiles := map[uuid.UUID]models.Profile{alice: {UserID: alice, Username: str("alice")}}

	entries := RankTask(rows, profiles)
	require.Len(t, entries, 3)

	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})
	assert.Equal(t, sessionID(1), entries[0].SessionID)
	assert.Equal(t, sessionID(2), entries[1].SessionID, "ties break by session id")
	assert.Equal(t, sessionID(3), entries[2].SessionID)

	top := entries[0]
	assert.Equal(t, "alice", top.Username)
	assert.Equal(t, 4, top.PromptCount)
	assert.Equal(t, 80.0, top.PromptQuality)
	assert.Equal(t, 50.0, top.PromptChaining)
	assert.Equal(t, 75.0, top.CodeEvaluation)
	assert.Equal(t, 100.0, top.CodeAccuracy)
	assert.Equal(t, 55, top.PromptTokenCount)

	assert.Equal(t, "Userbbbbbbbb", entries[1].Username)
	assert.Equal(t, 0.0, entries[1].CodeAccuracy, "missing feedback reads as zero")
}

func TestRankUsers_Averages(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(1), UserID: alice, TaskID: taskFE, Score: score(80), Prompts: 3, Feedback: analysis(8, 1, 1, 1, 8)},
		{SessionID: sessionID(2), UserID: alice, TaskID: taskBE, Score: score(60), Prompts: 2, Feedback: analysis(6, 0, 0.5, 0, 6)},
		{SessionID: sessionID(3), UserID: bob, TaskID: taskFE, Score: score(95), Prompts: 1, Feedback: analysis(9, 1, 1, 1, 9)},
	}
	tasks := map[uuid.UUID]models.Task{
		taskFE: {ID: taskFE, Type: models.TaskTypeFrontend},
		taskBE: {ID: taskBE, Type: models.TaskTypeBackend},
	}

	entries := RankUsers(rows, tasks, nil)
	require.Len(t, entries, 2)

	assert.Equal(t, bob, entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)

	a := entries[1]
	assert.Equal(t, 2, a.Rank)
	assert.Equal(t, 70, a.AverageScore)
	assert.Equal(t, 80, a.MaxScore)
	assert.Equal(t, 2, a.TotalSessions)
	assert.Equal(t, 5, a.TotalPrompts)
	assert.Equal(t, 2, a.ChallengesCompleted)
	assert.Equal(t, 2, a.TaskTypesCompleted)
	assert.Equal(t, 50.0, a.AvgPromptChaining, "zero chaining is included in the average")
	assert.Equal(t, 75.0, a.AvgCodeEvaluation)
	assert.Equal(t, 50.0, a.AvgCodeAccuracy)
	assert.Equal(t, 70.0, a.AvgFinalScore)
}

func TestRankUsers_ExcludesUnscoredSessions(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(1), UserID: alice, TaskID: taskFE, Score: score(0)},
		{SessionID: sessionID(2), UserID: bob, TaskID: taskFE},
		{SessionID: sessionID(3), UserID: alice, TaskID: taskML, Score: score(40)},
	}

	entries := RankUsers(rows, nil, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, alice, entries[0].UserID)
	assert.Equal(t, 1, entries[0].TotalSessions)
	assert.Equal(t, 0, entries[0].TaskTypesCompleted, "unknown tasks contribute no type")
}

func TestRankUsers_NoValidFeedback(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(1), UserID: carol, TaskID: taskFE, Score: score(50)},
		{SessionID: sessionID(2), UserID: carol, TaskID: taskBE, Score: score(30), Feedback: &models.Feedback{Type: "legacy"}},
	}

	entries := RankUsers(rows, nil, nil)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, 40, e.AverageScore)
	assert.Equal(t, 0.0, e.AvgFinalScore)
	assert.Equal(t, 0.0, e.AvgPromptChaining)
	assert.Equal(t, 0.0, e.AvgCodeEvaluation)
	assert.Equal(t, 0.0, e.AvgCodeAccuracy)
}

func TestRankUsers_FinalScoreZeroFiltering(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(1), UserID: alice, TaskID: taskFE, Score: score(50), Feedback: analysis(0, 0.4, 0.4, 0.4, 0)},
		{SessionID: sessionID(2), UserID: alice, TaskID: taskBE, Score: score(50), Feedback: analysis(0, 0.2, 0.2, 0.2, 0)},
	}

	e := RankUsers(rows, nil, nil)[0]
	assert.Equal(t, 0.0, e.AvgFinalScore)
	assert.Equal(t, 30.0, e.AvgPromptChaining)

	rows = append(rows, models.SessionRow{SessionID: sessionID(3), UserID: alice, TaskID: taskML, Score: score(50), Feedback: analysis(6, 0, 0, 0, 6)})
	e = RankUsers(rows, nil, nil)[0]
	assert.Equal(t, 60.0, e.AvgFinalScore, "only positive final scores enter the denominator")
	assert.Equal(t, 20.0, e.AvgPromptChaining, "other sub-metrics keep zeros")
}

func TestRankUsers_TieBreak(t *testing.T) {
	rows := []models.SessionRow{
		{SessionID: sessionID(1), UserID: bob, TaskID: taskFE, Score: score(60)},
		{SessionID: sessionID(2), UserID: alice, TaskID: taskFE, Score: score(60)},
		{SessionID: sessionID(3), UserID: carol, TaskID: taskFE, Score: score(40)},
		{SessionID: sessionID(4), UserID: carol, TaskID: taskBE, Score: score(80)},
	}

	entries := RankUsers(rows, nil, nil)
	require.Len(t, entries, 3)
	assert.Equal(t, carol, entries[0].UserID, "equal average, higher max wins")
	assert.Equal(t, alice, entries[1].UserID)
	assert.Equal(t, bob, entries[2].UserID)
}
