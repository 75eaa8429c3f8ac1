// Package ledger holds every user's stairs record in memory and enforces the
// record invariants. It performs no I/O; persistence belongs to the storage
// package.
//
// A Ledger is not safe for concurrent use. Callers serialise access (see
// services.LedgerService).
package ledger

import (
	"fmt"
	"iter"
	"math"
	"time"

	"stairs/internal/core"
)

type Ledger struct {
	snap     core.Snapshot
	clock    core.Clock
	revision uint64
}

// New wraps a snapshot. The ledger takes ownership of snap.
func New(snap core.Snapshot, clock core.Clock) *Ledger {
	if clock == nil {
		clock = core.SystemClock
	}
	if snap.Users == nil {
		snap.Users = make(map[string]*core.UserRecord)
	}
	for id, rec := range snap.Users {
		if rec == nil {
			delete(snap.Users, id)
			continue
		}
		rec.ID = id
		if rec.Days == nil {
			rec.Days = make(map[core.DateKey]int)
		}
	}
	return &Ledger{snap: snap, clock: clock}
}

// Today returns the current day key according to the ledger clock.
func (l *Ledger) Today() core.DateKey {
	return core.Today(l.clock())
}

// Revision increases on every successful mutation.
func (l *Ledger) Revision() uint64 {
	return l.revision
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() core.Snapshot {
	return l.snap.Clone()
}

// Touch stamps the ledger-level updatedAt and returns the stamp.
func (l *Ledger) Touch() time.Time {
	now := l.now()
	l.snap.UpdatedAt = now
	return now
}

// Record returns a copy of the user's record.
func (l *Ledger) Record(userID string) (core.UserRecord, bool) {
	rec, ok := l.snap.Users[userID]
	if !ok {
		return core.UserRecord{}, false
	}
	return rec.Clone(), true
}

// IsRegistered reports whether the user has a record with a name.
func (l *Ledger) IsRegistered(userID string) bool {
	rec, ok := l.snap.Users[userID]
	return ok && rec.Name != ""
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.snap.Users)
}

// Users yields a copy of every record. Order is unspecified.
func (l *Ledger) Users() iter.Seq[core.UserRecord] {
	return func(yield func(core.UserRecord) bool) {
		for _, rec := range l.snap.Users {
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}

// Register creates the record or renames an existing one. Day history is
// kept on rename.
func (l *Ledger) Register(userID, name string) (core.UserRecord, error) {
	name, err := core.NormalizeName(name)
	if err != nil {
		return core.UserRecord{}, err
	}
	rec := l.ensure(userID, name)
	rec.Name = name
	l.touch(rec)
	return rec.Clone(), nil
}

// AddAmount adds a positive amount to the given day, creating the record
// with fallbackName when the user is unknown.
func (l *Ledger) AddAmount(userID, fallbackName string, amount int, day core.DateKey) (core.UserRecord, error) {
	if amount <= 0 {
		return core.UserRecord{}, fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount)
	}
	if !day.Valid() {
		return core.UserRecord{}, fmt.Errorf("%w: %q", core.ErrInvalidDateFormat, day)
	}
	if !l.fitsTotal(userID, amount) {
		return core.UserRecord{}, fmt.Errorf("%w: %d overflows the total", core.ErrInvalidAmount, amount)
	}

	rec := l.ensure(userID, fallbackName)
	rec.Days[day] += amount
	rec.Total = core.SumDays(rec.Days)
	l.touch(rec)
	return rec.Clone(), nil
}

// AdjustDay applies a signed correction to one day. A negative delta may
// not take the day below zero. The day key stays in the map even at zero.
func (l *Ledger) AdjustDay(userID string, day core.DateKey, delta int) (core.UserRecord, error) {
	// math.MinInt has no positive counterpart to compare against a balance.
	if delta == 0 || delta == math.MinInt {
		return core.UserRecord{}, fmt.Errorf("%w: %d", core.ErrInvalidAmount, delta)
	}
	if !day.Valid() {
		return core.UserRecord{}, fmt.Errorf("%w: %q", core.ErrInvalidDateFormat, day)
	}
	if delta > 0 && !l.fitsTotal(userID, delta) {
		return core.UserRecord{}, fmt.Errorf("%w: %d overflows the total", core.ErrInvalidAmount, delta)
	}

	current := 0
	if rec, ok := l.snap.Users[userID]; ok {
		current = rec.Days[day]
	}
	if delta < 0 && (current == 0 || -delta > current) {
		return core.UserRecord{}, &core.DayBalanceError{Day: day, Current: current, Requested: -delta}
	}

	rec := l.ensure(userID, "")
	rec.Days[day] = max(0, current+delta)
	rec.Total = core.SumDays(rec.Days)
	l.touch(rec)
	return rec.Clone(), nil
}

// fitsTotal reports whether adding n keeps the user's total representable.
func (l *Ledger) fitsTotal(userID string, n int) bool {
	total := 0
	if rec, ok := l.snap.Users[userID]; ok {
		total = rec.Total
	}
	return n <= math.MaxInt-total
}

func (l *Ledger) ensure(userID, fallbackName string) *core.UserRecord {
	if rec, ok := l.snap.Users[userID]; ok {
		return rec
	}
	if fallbackName == "" {
		fallbackName = core.UnnamedLabel
	}
	rec := &core.UserRecord{
		ID:   userID,
		Name: fallbackName,
		Days: make(map[core.DateKey]int),
	}
	l.snap.Users[userID] = rec
	return rec
}

func (l *Ledger) touch(rec *core.UserRecord) {
	now := l.now()
	rec.UpdatedAt = now
	l.snap.UpdatedAt = now
	l.revision++
}

// now never goes backwards relative to the last stamp.
func (l *Ledger) now() time.Time {
	now := l.clock()
	if now.Before(l.snap.UpdatedAt) {
		return l.snap.UpdatedAt
	}
	return now
}
