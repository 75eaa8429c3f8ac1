package core

import (
	"strconv"
	"strings"
	"unicode"
)

// MaxAmount bounds a number typed into chat. The ledger itself only
// rejects amounts that would overflow a total.
const MaxAmount = 1_000_000

// ParseAmount parses a strictly positive whole number of stairs.
//
// Signs, decimal separators and any non-digit are rejected:
//
//	ParseAmount("120")  -> 120, nil
//	ParseAmount("12.5") -> 0, ErrInvalidAmount
//	ParseAmount("0")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > MaxAmount {
		return 0, ErrInvalidAmount
	}
	return n, nil
}

// ParseDelta parses a signed adjustment such as "+30", "-15" or "40".
// Zero is rejected.
func ParseDelta(s string) (int, error) {
	s = strings.TrimSpace(s)
	sign := 1
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	n, err := ParseAmount(s)
	if err != nil {
		return 0, err
	}
	return sign * n, nil
}
