package core

import (
	"cmp"
	"slices"
)

const (
	MinChartDays     = 7
	MaxChartDays     = 365
	DefaultChartDays = 30
)

// LeaderboardEntry is one ranked row of a leaderboard.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
}

// UserSeries holds one value per day of a Series window.
type UserSeries struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Values []int  `json:"values"`
	Total  int    `json:"total"`
}

// Series is the per-day data handed to the chart renderer.
type Series struct {
	From  DateKey      `json:"from"`
	To    DateKey      `json:"to"`
	Days  []DateKey    `json:"days"`
	Users []UserSeries `json:"users"`
}

// ClampChartDays bounds a display window to [MinChartDays, MaxChartDays].
func ClampChartDays(days int) int {
	return min(max(days, MinChartDays), MaxChartDays)
}

// RankEntries sorts by score descending, then name, then id, and assigns
// dense ranks (equal scores share a rank).
func RankEntries(entries []LeaderboardEntry) []LeaderboardEntry {
	slices.SortStableFunc(entries, func(a, b LeaderboardEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
	return entries
}
