package core

import (
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateKeyLayout is the canonical day layout. Keys are fixed width and zero
// padded, so string order equals chronological order.
const DateKeyLayout = "2006-01-02"

// DateKey identifies a calendar day in UTC.
type DateKey string

var shortDatePattern = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})$`)

// Today returns the key of the UTC day containing now.
func Today(now time.Time) DateKey {
	return DateKey(now.UTC().Format(DateKeyLayout))
}

// NewDateKey builds a key from calendar components.
func NewDateKey(year int, month time.Month, day int) DateKey {
	return DateKey(time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(DateKeyLayout))
}

// ParseDateKey accepts YYYY-MM-DD or DD.MM. The short form takes the UTC
// year of now.
func ParseDateKey(input string, now time.Time) (DateKey, error) {
	input = strings.TrimSpace(input)

	if m := shortDatePattern.FindStringSubmatch(input); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		input = fmt.Sprintf("%04d-%02d-%02d", now.UTC().Year(), month, day)
	}

	t, err := time.Parse(DateKeyLayout, input)
	if err != nil {
		return "", fmt.Errorf("%w: %q (use YYYY-MM-DD or DD.MM)", ErrInvalidDateFormat, input)
	}
	return DateKey(t.Format(DateKeyLayout)), nil
}

// Time returns midnight UTC of the day. Invalid keys yield the zero time.
func (k DateKey) Time() time.Time {
	t, err := time.Parse(DateKeyLayout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Valid reports whether k is a canonical key.
func (k DateKey) Valid() bool {
	t, err := time.Parse(DateKeyLayout, string(k))
	return err == nil && t.Format(DateKeyLayout) == string(k)
}

// AddDays shifts the key by n calendar days.
func (k DateKey) AddDays(n int) DateKey {
	return DateKey(k.Time().AddDate(0, 0, n).Format(DateKeyLayout))
}

func (k DateKey) String() string {
	return string(k)
}

// RangeInclusive yields every key from start to end. The sequence is empty
// when end is before start and can be ranged over more than once.
func RangeInclusive(start, end DateKey) iter.Seq[DateKey] {
	return func(yield func(DateKey) bool) {
		if !start.Valid() || !end.Valid() || end < start {
			return
		}
		for k := start; k <= end; k = k.AddDays(1) {
			if !yield(k) {
				return
			}
		}
	}
}
