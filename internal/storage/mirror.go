package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stairs/internal/core"
	"stairs/internal/log"

	_ "modernc.org/sqlite"
)

// MirrorEntry is one ledger change as the mirror stores it. Values are
// absolute, so applying the same entry twice is harmless.
type MirrorEntry struct {
	UserID   string
	Name     string
	Day      core.DateKey // empty for changes that touch no day (registration)
	DayValue int
	Total    int
	At       time.Time
}

// Mirror is a SQLite read model of the ledger. The JSON snapshot stays the
// source of truth; the mirror backs the stairs-worker query endpoints.
type Mirror struct {
	db     *sql.DB
	logger *log.Logger
}

func NewMirror(dbPath string, logger *log.Logger) (*Mirror, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := &Mirror{db: db, logger: logger.WithComponent(log.ComponentMirror)}
	m.logger.Info("Mirror database ready", log.FieldFile, dbPath, "schema_version", version)
	return m, nil
}

func (m *Mirror) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *Mirror) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

const upsertUserSQL = `
INSERT INTO users (id, name, total, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    total = excluded.total,
    updated_at = excluded.updated_at
WHERE excluded.updated_at >= users.updated_at`

const upsertDaySQL = `
INSERT INTO day_entries (user_id, day, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(user_id, day) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at
WHERE excluded.updated_at >= day_entries.updated_at`

// Apply upserts the user row and, when the entry names a day, the day row.
// Entries older than what is already stored are ignored, so redelivered or
// reordered events cannot roll the mirror back.
func (m *Mirror) Apply(ctx context.Context, e MirrorEntry) error {
	if e.UserID == "" {
		return errors.New("mirror entry without user id")
	}
	if e.Day != "" && !e.Day.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidDateFormat, e.Day)
	}
	at := e.At.UnixNano()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mirror transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertUserSQL, e.UserID, e.Name, e.Total, at); err != nil {
		return fmt.Errorf("upsert mirror user %s: %w", e.UserID, err)
	}
	if e.Day != "" {
		if _, err := tx.ExecContext(ctx, upsertDaySQL, e.UserID, string(e.Day), e.DayValue, at); err != nil {
			return fmt.Errorf("upsert mirror day %s/%s: %w", e.UserID, e.Day, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror entry: %w", err)
	}

	m.logger.DebugContext(ctx, "Mirror entry applied",
		log.FieldUserID, e.UserID,
		log.FieldDay, string(e.Day),
		log.FieldTotal, e.Total)
	return nil
}

// Leaderboard ranks users by all-time total, or by their value on day when
// day is set. Users with nothing recorded on that day are left out.
func (m *Mirror) Leaderboard(ctx context.Context, day core.DateKey) ([]core.LeaderboardEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if day == "" {
		rows, err = m.db.QueryContext(ctx, `SELECT id, name, total FROM users`)
	} else {
		rows, err = m.db.QueryContext(ctx, `
SELECT u.id, u.name, d.value
FROM day_entries d JOIN users u ON u.id = d.user_id
WHERE d.day = ? AND d.value > 0`, string(day))
	}
	if err != nil {
		return nil, fmt.Errorf("query mirror leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []core.LeaderboardEntry
	for rows.Next() {
		var e core.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Name, &e.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard rows: %w", err)
	}
	return core.RankEntries(entries), nil
}

// DayValue returns the mirrored value for one user and day.
func (m *Mirror) DayValue(ctx context.Context, userID string, day core.DateKey) (int, bool, error) {
	var v int
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM day_entries WHERE user_id = ? AND day = ?`, userID, string(day)).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("query mirror day: %w", err)
	}
	return v, true, nil
}
