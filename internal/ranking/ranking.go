// Package ranking builds the per-task and cross-task leaderboards from scored
// sessions. Everything here is pure; fetching rows and profiles is the
// caller's job.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"promptarena-backend/internal/models"
)

const usernamePrefixLen = 8

// ResolveUsername returns the profile's username, or "User" followed by the
// first eight characters of the user id.
func ResolveUsername(profile *models.Profile, userID uuid.UUID) string {
	if profile != nil && profile.Username != nil {
		if name := strings.TrimSpace(*profile.Username); name != "" {
			return name
		}
	}
	id := userID.String()
	if len(id) > usernamePrefixLen {
		id = id[:usernamePrefixLen]
	}
	return "User" + id
}

// Qualifies reports whether a session counts for any leaderboard.
func Qualifies(row models.SessionRow) bool {
	return row.Score != nil && *row.Score > 0
}

// RankTask returns one entry per qualifying session, ordered by score
// descending with session id as the tie-break, ranked from 1.
func RankTask(rows []models.SessionRow, profiles map[uuid.UUID]models.Profile) []models.TaskLeaderboardEntry {
	scored := make([]models.SessionRow, 0, len(rows))
	for _, row := range rows {
		if Qualifies(row) {
			scored = append(scored, row)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := *scored[i].Score, *scored[j].Score
		if si != sj {
			return si > sj
		}
		return scored[i].SessionID.String() < scored[j].SessionID.String()
	})

	entries := make([]models.TaskLeaderboardEntry, 0, len(scored))
	for i, row := range scored {
		entry := models.TaskLeaderboardEntry{
			Rank:           i + 1,
			SessionID:      row.SessionID,
			UserID:         row.UserID,
			Username:       ResolveUsername(lookup(profiles, row.UserID), row.UserID),
			Score:          *row.Score,
			PromptCount:    row.Prompts,
			LastSubmission: row.UpdatedAt,
		}
		if fb := row.Feedback; fb.IsPromptAnalysis() {
			entry.PromptQuality = round1(fb.QualityScore * 10)
			entry.PromptChaining = percent(fb.PromptChainingScore)
			entry.CodeEvaluation = percent(fb.CodeEvaluationScore)
			entry.CodeAccuracy = percent(fb.CodeAccuracyScore)
			entry.PromptTokenCount = intValue(fb.PromptTokenCount)
			entry.ResponseTokenCount = intValue(fb.ResponseTokenCount)
		}
		entries = append(entries, entry)
	}
	return entries
}

func lookup(profiles map[uuid.UUID]models.Profile, userID uuid.UUID) *models.Profile {
	if p, ok := profiles[userID]; ok {
		return &p
	}
	return nil
}

func percent(v *float64) float64 {
	if v == nil {
		return 0
	}
	return round1(*v * 100)
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
