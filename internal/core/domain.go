package core

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// SchemaVersion is the snapshot layout written by this build.
	// Version 0 (or a missing field) predates per-day history.
	SchemaVersion = 2

	MinNameLength = 2
	MaxNameLength = 40

	// UnnamedLabel is used when a user logs stairs before registering
	// and the transport supplied no display name.
	UnnamedLabel = "unnamed"
)

type (
	// Clock returns the current wall-clock time.
	Clock func() time.Time

	UserRecord struct {
		ID        string          `json:"-"`
		Name      string          `json:"name"`
		Total     int             `json:"total"`
		Days      map[DateKey]int `json:"days"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}

	// Snapshot is the serialized form of the whole ledger.
	Snapshot struct {
		Users         map[string]*UserRecord `json:"users"`
		CreatedAt     time.Time              `json:"createdAt"`
		UpdatedAt     time.Time              `json:"updatedAt"`
		SchemaVersion int                    `json:"schemaVersion"`
	}
)

var (
	ErrInvalidName            = errors.New("invalid name")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidDateFormat      = errors.New("invalid date format")
	ErrInsufficientDayBalance = errors.New("insufficient day balance")
	ErrUserNotFound           = errors.New("user not found")
	ErrStoreCorrupt           = errors.New("ledger store corrupt")
	ErrWriteFailure           = errors.New("ledger write failure")
)

// DayBalanceError reports a subtraction that would drive a day below zero.
type DayBalanceError struct {
	Day       DateKey
	Current   int
	Requested int
}

func (e *DayBalanceError) Error() string {
	return fmt.Sprintf("%s: day %s has %d, cannot subtract %d", ErrInsufficientDayBalance, e.Day, e.Current, e.Requested)
}

func (e *DayBalanceError) Is(target error) bool {
	return target == ErrInsufficientDayBalance
}

// SystemClock is the default Clock.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// NormalizeName trims the name and checks its length in characters.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return "", fmt.Errorf("%w: must be %d-%d characters, got %d", ErrInvalidName, MinNameLength, MaxNameLength, n)
	}
	return name, nil
}

// SumDays returns the sum of all day values.
func SumDays(days map[DateKey]int) int {
	total := 0
	for _, v := range days {
		total += v
	}
	return total
}

// Clone returns a deep copy of the record.
func (r UserRecord) Clone() UserRecord {
	out := r
	out.Days = make(map[DateKey]int, len(r.Days))
	maps.Copy(out.Days, r.Days)
	return out
}

// Validate checks the record invariants: no negative day and a total that
// matches the per-day history.
func (r UserRecord) Validate() error {
	for day, v := range r.Days {
		if v < 0 {
			return fmt.Errorf("user %s: day %s is negative (%d)", r.ID, day, v)
		}
	}
	if sum := SumDays(r.Days); sum != r.Total {
		return fmt.Errorf("user %s: total %d does not match days sum %d", r.ID, r.Total, sum)
	}
	return nil
}

// NewSnapshot returns an empty ledger snapshot at the current schema version.
func NewSnapshot(now time.Time) Snapshot {
	return Snapshot{
		Users:         make(map[string]*UserRecord),
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: SchemaVersion,
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Users = make(map[string]*UserRecord, len(s.Users))
	for id, rec := range s.Users {
		if rec == nil {
			continue
		}
		c := rec.Clone()
		c.ID = id
		out.Users[id] = &c
	}
	return out
}
