package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"stairs/internal/core"
	"stairs/internal/ledger"
	"stairs/internal/log"
	"stairs/internal/worker"
)

// Scheduler orders snapshot writes. *worker.WriteQueue implements it.
type Scheduler interface {
	Submit(name string, job worker.Job) *worker.Ticket
}

// Snapshotter is the part of the ledger the store needs to persist it.
type Snapshotter interface {
	Touch() time.Time
	Snapshot() core.Snapshot
}

// SnapshotStore keeps the ledger in a single JSON file. Every write goes to
// a temporary file next to the target and is renamed over it, so a reader
// never sees a partially written snapshot.
type SnapshotStore struct {
	path      string
	scheduler Scheduler
	clock     core.Clock
	logger    *log.Logger
}

func NewSnapshotStore(path string, scheduler Scheduler, clock core.Clock, logger *log.Logger) *SnapshotStore {
	if clock == nil {
		clock = core.SystemClock
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SnapshotStore{
		path:      path,
		scheduler: scheduler,
		clock:     clock,
		logger:    logger.WithComponent(log.ComponentStorage),
	}
}

func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file yields a fresh ledger; a corrupt
// one is discarded and replaced by a fresh ledger; a legacy one is
// migrated. In all three cases the result is written back before Load
// returns.
func (s *SnapshotStore) Load(ctx context.Context) (core.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		snap := core.NewSnapshot(s.clock())
		if err := s.persist(ctx, snap); err != nil {
			return core.Snapshot{}, fmt.Errorf("initialize ledger: %w", err)
		}
		s.logger.InfoContext(ctx, "Created new ledger snapshot", log.FieldFile, s.path)
		return snap, nil
	case err != nil:
		return core.Snapshot{}, fmt.Errorf("read ledger snapshot: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "Ledger snapshot is corrupt, reinitializing",
			log.FieldFile, s.path,
			log.FieldError, err)
		snap = core.NewSnapshot(s.clock())
		if err := s.persist(ctx, snap); err != nil {
			return core.Snapshot{}, fmt.Errorf("reinitialize corrupt ledger: %w", err)
		}
		return snap, nil
	}

	if ledger.NeedsMigration(snap) {
		from := snap.SchemaVersion
		snap = ledger.Migrate(snap, core.Today(s.clock()))
		if err := s.persist(ctx, snap); err != nil {
			return core.Snapshot{}, fmt.Errorf("persist migrated ledger: %w", err)
		}
		s.logger.InfoContext(ctx, "Migrated ledger snapshot",
			log.FieldOperation, log.OpMigrate,
			"from_version", from,
			"to_version", snap.SchemaVersion,
			"users", len(snap.Users))
	}

	s.logger.InfoContext(ctx, "Loaded ledger snapshot",
		log.FieldFile, s.path,
		"users", len(snap.Users),
		"schema_version", snap.SchemaVersion)
	return snap, nil
}

// Save stamps the ledger, serializes it right away and schedules the
// write. Later saves always carry a superset of earlier mutations, and the
// scheduler applies them in order.
func (s *SnapshotStore) Save(l Snapshotter) *worker.Ticket {
	l.Touch()
	data, err := Encode(l.Snapshot())
	if err != nil {
		return worker.FailedTicket(fmt.Errorf("%w: encode snapshot: %w", core.ErrWriteFailure, err))
	}
	return s.scheduler.Submit(log.OpSave, func(ctx context.Context) error {
		return WriteFileAtomic(ctx, s.path, data)
	})
}

func (s *SnapshotStore) persist(ctx context.Context, snap core.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	return WriteFileAtomic(ctx, s.path, data)
}

// Encode serializes a snapshot.
func Encode(snap core.Snapshot) ([]byte, error) {
	if snap.Users == nil {
		snap.Users = map[string]*core.UserRecord{}
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Decode parses and checks a snapshot. Structural damage (bad JSON,
// malformed day keys, negative values) is reported as core.ErrStoreCorrupt.
// A total that disagrees with a non-empty day history is recomputed.
func Decode(data []byte) (core.Snapshot, error) {
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("%w: %w", core.ErrStoreCorrupt, err)
	}
	if snap.Users == nil {
		snap.Users = map[string]*core.UserRecord{}
	}
	for id, rec := range snap.Users {
		if id == "" || rec == nil {
			return core.Snapshot{}, fmt.Errorf("%w: empty user entry", core.ErrStoreCorrupt)
		}
		rec.ID = id
		if rec.Days == nil {
			rec.Days = map[core.DateKey]int{}
		}
		if rec.Total < 0 {
			return core.Snapshot{}, fmt.Errorf("%w: user %s has negative total", core.ErrStoreCorrupt, id)
		}
		for day, v := range rec.Days {
			if !day.Valid() || v < 0 {
				return core.Snapshot{}, fmt.Errorf("%w: user %s has bad day entry %q=%d", core.ErrStoreCorrupt, id, day, v)
			}
		}
		if len(rec.Days) > 0 {
			rec.Total = core.SumDays(rec.Days)
		}
	}
	return snap, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func WriteFileAtomic(ctx context.Context, path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	// Persist the rename itself. Not every platform supports syncing a
	// directory, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// ReadSnapshot decodes the snapshot at path for read-only consumers.
// Nothing is written: a legacy snapshot is migrated in memory only.
func ReadSnapshot(path string, today core.DateKey) (core.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("read ledger snapshot: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return core.Snapshot{}, err
	}
	if ledger.NeedsMigration(snap) {
		snap = ledger.Migrate(snap, today)
	}
	return snap, nil
}
