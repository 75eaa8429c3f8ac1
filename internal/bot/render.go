package bot

import (
	"fmt"
	"strings"

	"stairs/internal/core"
)

func renderLeaderboard(entries []core.LeaderboardEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s - %d", e.Rank, e.Name, e.Score)
	}
	return b.String()
}

// renderSeries summarises a chart window as text: one line per user with
// the window total and daily average.
func renderSeries(s core.Series) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stairs from %s to %s", s.From, s.To)
	if len(s.Users) == 0 {
		b.WriteString("\nNo data yet.")
		return b.String()
	}
	for _, u := range s.Users {
		avg := float64(u.Total) / float64(max(len(s.Days), 1))
		fmt.Fprintf(&b, "\n%s: %d (%.1f/day)", u.Name, u.Total, avg)
	}
	return b.String()
}
