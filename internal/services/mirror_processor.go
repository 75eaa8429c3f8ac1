package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"stairs/internal/amqp"
	"stairs/internal/core"
	"stairs/internal/log"
	"stairs/internal/storage"
)

// MirrorStore is the write side of storage.Mirror.
type MirrorStore interface {
	Apply(ctx context.Context, e storage.MirrorEntry) error
}

// SnapshotSource loads the current ledger snapshot without modifying it.
type SnapshotSource func(ctx context.Context) (core.Snapshot, error)

// MirrorProcessor keeps the SQLite mirror in step with the ledger: it applies
// ledger events as they arrive and periodically reconciles against the
// snapshot file in case events were lost.
type MirrorProcessor struct {
	mirror MirrorStore
	logger *log.Logger

	applied atomic.Int64
	failed  atomic.Int64
}

func NewMirrorProcessor(mirror MirrorStore, logger *log.Logger) *MirrorProcessor {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MirrorProcessor{mirror: mirror, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandleLedgerEvent applies one event. Returning an error requeues it.
func (p *MirrorProcessor) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	entry := storage.MirrorEntry{
		UserID:   msg.UserID,
		Name:     msg.Name,
		Day:      msg.Day,
		DayValue: msg.DayValue,
		Total:    msg.Total,
		At:       msg.Timestamp,
	}
	if err := p.mirror.Apply(ctx, entry); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("apply ledger event %s: %w", msg.EventID, err)
	}
	p.applied.Add(1)
	p.logger.DebugContext(ctx, "Ledger event mirrored",
		"event_id", msg.EventID,
		"kind", msg.Kind,
		log.FieldUserID, msg.UserID,
		log.FieldDay, string(msg.Day))
	return nil
}

// Reconcile writes every user and day of snap into the mirror. Entries are
// stamped with the record's UpdatedAt, so newer mirrored events win.
func (p *MirrorProcessor) Reconcile(ctx context.Context, snap core.Snapshot) (int, error) {
	applied := 0
	for _, id := range slices.Sorted(maps.Keys(snap.Users)) {
		rec := snap.Users[id]
		base := storage.MirrorEntry{UserID: id, Name: rec.Name, Total: rec.Total, At: rec.UpdatedAt}
		if len(rec.Days) == 0 {
			if err := p.mirror.Apply(ctx, base); err != nil {
				return applied, fmt.Errorf("reconcile user %s: %w", id, err)
			}
			applied++
			continue
		}
		for day, v := range rec.Days {
			entry := base
			entry.Day, entry.DayValue = day, v
			if err := p.mirror.Apply(ctx, entry); err != nil {
				return applied, fmt.Errorf("reconcile user %s day %s: %w", id, day, err)
			}
			applied++
		}
	}
	return applied, nil
}

// RunReconciler reconciles once immediately and then every interval until
// ctx is done. Failures are logged and retried on the next tick.
func (p *MirrorProcessor) RunReconciler(ctx context.Context, interval time.Duration, source SnapshotSource) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.reconcileOnce(ctx, source)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *MirrorProcessor) reconcileOnce(ctx context.Context, source SnapshotSource) {
	snap, err := source(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Could not read ledger snapshot for reconciliation", log.FieldError, err)
		return
	}
	n, err := p.Reconcile(ctx, snap)
	if err != nil {
		p.logger.ErrorContext(ctx, "Mirror reconciliation failed", log.FieldError, err, "applied", n)
		return
	}
	p.logger.InfoContext(ctx, "Mirror reconciled", "users", len(snap.Users), "entries", n)
}

// MirrorStats reports event counters.
type MirrorStats struct {
	Applied int64
	Failed  int64
}

func (p *MirrorProcessor) Stats() MirrorStats {
	return MirrorStats{Applied: p.applied.Load(), Failed: p.failed.Load()}
}
