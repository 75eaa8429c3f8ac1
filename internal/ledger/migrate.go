package ledger

import "stairs/internal/core"

// NeedsMigration reports whether snap predates the current schema.
func NeedsMigration(snap core.Snapshot) bool {
	return snap.SchemaVersion < core.SchemaVersion
}

// Migrate upgrades a legacy snapshot without touching the input.
//
// Schema 0 kept only a running total. Users with a positive total and no
// day history get the whole total booked on today; the real distribution
// is lost. Running Migrate on a current snapshot returns an equal copy.
func Migrate(snap core.Snapshot, today core.DateKey) core.Snapshot {
	out := snap.Clone()
	if !NeedsMigration(snap) {
		return out
	}
	for _, rec := range out.Users {
		if rec.Total > 0 && len(rec.Days) == 0 {
			rec.Days[today] = rec.Total
		}
	}
	out.SchemaVersion = core.SchemaVersion
	return out
}
