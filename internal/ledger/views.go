package ledger

import (
	"cmp"
	"slices"

	"stairs/internal/core"
)

// Leaderboard ranks users by all-time total, or by a single day when day
// is non-empty. Users with nothing logged on that day are left out.
func (l *Ledger) Leaderboard(day core.DateKey) []core.LeaderboardEntry {
	entries := make([]core.LeaderboardEntry, 0, len(l.snap.Users))
	for id, rec := range l.snap.Users {
		score := rec.Total
		if day != "" {
			v, ok := rec.Days[day]
			if !ok || v == 0 {
				continue
			}
			score = v
		}
		entries = append(entries, core.LeaderboardEntry{UserID: id, Name: rec.Name, Score: score})
	}
	return core.RankEntries(entries)
}

// Series builds per-day values for the window of days ending today.
// Users are ordered by their total over the window, highest first.
func (l *Ledger) Series(days int) core.Series {
	days = core.ClampChartDays(days)
	to := l.Today()
	from := to.AddDays(-(days - 1))

	s := core.Series{From: from, To: to, Days: slices.Collect(core.RangeInclusive(from, to))}
	for id, rec := range l.snap.Users {
		us := core.UserSeries{UserID: id, Name: rec.Name, Values: make([]int, len(s.Days))}
		for i, d := range s.Days {
			us.Values[i] = rec.Days[d]
			us.Total += rec.Days[d]
		}
		s.Users = append(s.Users, us)
	}
	slices.SortFunc(s.Users, func(a, b core.UserSeries) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return s
}
