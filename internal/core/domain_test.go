package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Vadym", "Vadym", true},
		{"  Al  ", "Al", true},
		{"Юля", "Юля", true},
		{strings.Repeat("x", 40), strings.Repeat("x", 40), true},
		{"A", "", false},
		{"   ", "", false},
		{strings.Repeat("x", 41), "", false},
		{strings.Repeat("ж", 41), "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeName(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("%q expected %q, got %q (err=%v)", tc.in, tc.want, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("%q expected ErrInvalidName, got %v", tc.in, err)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out int
		ok  bool
	}{
		{"1", 1, true},
		{" 120 ", 120, true},
		{"1000000", 1000000, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"+5", 0, false},
		{"12.5", 0, false},
		{"12,5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"1000001", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestParseDelta(t *testing.T) {
	cases := []struct {
		in  string
		out int
		ok  bool
	}{
		{"+30", 30, true},
		{"-15", -15, true},
		{"40", 40, true},
		{"-0", 0, false},
		{"--1", 0, false},
		{"-", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDelta(tc.in)
		if tc.ok && (err != nil || got != tc.out) {
			t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestDayBalanceErrorMatchesSentinel(t *testing.T) {
	var err error = &DayBalanceError{Day: "2024-01-01", Current: 3, Requested: 5}
	if !errors.Is(err, ErrInsufficientDayBalance) {
		t.Fatalf("expected errors.Is to match ErrInsufficientDayBalance")
	}
	if !strings.Contains(err.Error(), "2024-01-01") {
		t.Fatalf("message should name the day: %v", err)
	}
}

func TestUserRecordValidate(t *testing.T) {
	good := UserRecord{ID: "1", Total: 5, Days: map[DateKey]int{"2024-01-01": 2, "2024-01-02": 3}}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []UserRecord{
		{ID: "1", Total: 4, Days: map[DateKey]int{"2024-01-01": 2, "2024-01-02": 3}},
		{ID: "1", Total: -1, Days: map[DateKey]int{"2024-01-01": -1}},
	}
	for i, r := range bads {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := NewSnapshot(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Users["1"] = &UserRecord{Name: "A", Total: 1, Days: map[DateKey]int{"2024-01-01": 1}}

	c := s.Clone()
	c.Users["1"].Days["2024-01-01"] = 99
	c.Users["2"] = &UserRecord{Name: "B"}

	if s.Users["1"].Days["2024-01-01"] != 1 || len(s.Users) != 1 {
		t.Fatalf("clone shares state with original")
	}
	if c.Users["1"].ID != "1" {
		t.Fatalf("clone should carry the map key as ID, got %q", c.Users["1"].ID)
	}
}

func TestRankEntries(t *testing.T) {
	got := RankEntries([]LeaderboardEntry{
		{UserID: "3", Name: "Cid", Score: 10},
		{UserID: "1", Name: "Ann", Score: 50},
		{UserID: "2", Name: "Bob", Score: 10},
		{UserID: "4", Name: "Dee", Score: 0},
	})
	wantIDs := []string{"1", "2", "3", "4"}
	wantRanks := []int{1, 2, 2, 3}
	for i := range got {
		if got[i].UserID != wantIDs[i] || got[i].Rank != wantRanks[i] {
			t.Fatalf("position %d: got %+v", i, got[i])
		}
	}
}

func TestClampChartDays(t *testing.T) {
	cases := map[int]int{0: 7, 6: 7, 7: 7, 30: 30, 365: 365, 1000: 365, -3: 7}
	for in, want := range cases {
		if got := ClampChartDays(in); got != want {
			t.Fatalf("ClampChartDays(%d) = %d, want %d", in, got, want)
		}
	}
}
