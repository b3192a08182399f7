package ranking

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"promptarena-backend/internal/models"
)

type userAggregate struct {
	userID   uuid.UUID
	scores   []int
	prompts  int
	tasks    map[uuid.UUID]struct{}
	types    map[models.TaskType]struct{}
	lastSeen models.SessionRow

	// Sub-metric sums over prompt_analysis sessions only.
	feedbackCount int
	chaining      float64
	evaluation    float64
	accuracy      float64
	finalScores   []float64
}

// RankUsers groups qualifying sessions by user and ranks users by their
// rounded average score. Sessions without a prompt_analysis feedback count
// toward score and session totals but not toward the sub-metric averages.
// avgFinalScore only averages positive metrics["final score"] values.
func RankUsers(rows []models.SessionRow, tasks map[uuid.UUID]models.Task, profiles map[uuid.UUID]models.Profile) []models.UserLeaderboardEntry {
	byUser := make(map[uuid.UUID]*userAggregate)
	var order []uuid.UUID

	for _, row := range rows {
		if !Qualifies(row) {
			continue
		}
		agg, ok := byUser[row.UserID]
		if !ok {
			agg = &userAggregate{
				userID: row.UserID,
				tasks:  make(map[uuid.UUID]struct{}),
				types:  make(map[models.TaskType]struct{}),
			}
			byUser[row.UserID] = agg
			order = append(order, row.UserID)
		}

		agg.scores = append(agg.scores, *row.Score)
		agg.prompts += row.Prompts
		agg.tasks[row.TaskID] = struct{}{}
		if task, ok := tasks[row.TaskID]; ok {
			agg.types[task.Type] = struct{}{}
		}
		if row.UpdatedAt.After(agg.lastSeen.UpdatedAt) {
			agg.lastSeen = row
		}

		fb := row.Feedback
		if !fb.IsPromptAnalysis() {
			continue
		}
		agg.feedbackCount++
		agg.chaining += valueOf(fb.PromptChainingScore)
		agg.evaluation += valueOf(fb.CodeEvaluationScore)
		agg.accuracy += valueOf(fb.CodeAccuracyScore)
		if fs := fb.Metrics.FinalScore(); fs > 0 {
			agg.finalScores = append(agg.finalScores, fs)
		}
	}

	entries := make([]models.UserLeaderboardEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, byUser[id].entry(profiles))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AverageScore != entries[j].AverageScore {
			return entries[i].AverageScore > entries[j].AverageScore
		}
		if entries[i].MaxScore != entries[j].MaxScore {
			return entries[i].MaxScore > entries[j].MaxScore
		}
		return entries[i].UserID.String() < entries[j].UserID.String()
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func (a *userAggregate) entry(profiles map[uuid.UUID]models.Profile) models.UserLeaderboardEntry {
	var sum, best int
	for _, s := range a.scores {
		sum += s
		if s > best {
			best = s
		}
	}

	e := models.UserLeaderboardEntry{
		UserID:              a.userID,
		Username:            ResolveUsername(lookup(profiles, a.userID), a.userID),
		AverageScore:        int(math.Round(float64(sum) / float64(len(a.scores)))),
		MaxScore:            best,
		TotalSessions:       len(a.scores),
		TotalPrompts:        a.prompts,
		ChallengesCompleted: len(a.tasks),
		TaskTypesCompleted:  len(a.types),
		LastActive:          a.lastSeen.UpdatedAt,
	}

	if a.feedbackCount > 0 {
		n := float64(a.feedbackCount)
		e.AvgPromptChaining = round1(a.chaining / n * 100)
		e.AvgCodeEvaluation = round1(a.evaluation / n * 100)
		e.AvgCodeAccuracy = round1(a.accuracy / n * 100)
	}
	if len(a.finalScores) > 0 {
		var fs float64
		for _, v := range a.finalScores {
			fs += v
		}
		e.AvgFinalScore = round1(fs / float64(len(a.finalScores)) * 10)
	}
	return e
}

func valueOf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
