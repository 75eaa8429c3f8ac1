package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stairs/internal/core"
	"stairs/internal/log"
	"stairs/internal/services"
	"stairs/internal/storage"
	"stairs/internal/worker"
)

var botNow = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *services.LedgerService) {
	t.Helper()
	clock := func() time.Time { return botNow }
	q := worker.NewWriteQueue(worker.DefaultWriteQueueConfig(), log.Discard())
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	store := storage.NewSnapshotStore(filepath.Join(t.TempDir(), "stairs.json"), q, clock, log.Discard())

	svc, err := services.OpenLedgerService(context.Background(), store, clock, nil, services.DefaultLedgerServiceConfig(), log.Discard())
	require.NoError(t, err)
	return NewHandler(svc, log.Discard()), svc
}

func send(h *Handler, userID, text string) Result {
	return h.Handle(context.Background(), Event{UserID: userID, Text: text, DisplayNameHint: "Hint " + userID})
}

func TestRegistrationFlow(t *testing.T) {
	h, svc := newTestHandler(t)

	res := send(h, "42", "/start")
	require.True(t, res.Success)
	assert.True(t, svc.IsAwaitingName("42"))

	res = send(h, "42", "V")
	assert.False(t, res.Success, "one character is too short")
	assert.True(t, svc.IsAwaitingName("42"))

	res = send(h, "42", "Vadym")
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Message, "Vadym")
	assert.False(t, svc.IsAwaitingName("42"))

	res = send(h, "42", "/start")
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "Welcome back, Vadym")

	res = send(h, "42", "/name Vadym K")
	require.True(t, res.Success)
	rec, _ := svc.Record("42")
	assert.Equal(t, "Vadym K", rec.Name)
}

func TestAddSubtractAndUpdateCommands(t *testing.T) {
	h, svc := newTestHandler(t)

	tests := []struct {
		text    string
		success bool
		total   int
	}{
		{"120", true, 120},
		{"/add 30", true, 150},
		{"/add@StairsBot 5", true, 155},
		{"/sub 55", true, 100},
		{"/sub 101", false, 100},
		{"/add 0", false, 100},
		{"/add 1.5", false, 100},
		{"/add", false, 100},
		{"/update 29.02 +40", true, 140},
		{"/update 2024-02-29 -10", true, 130},
		{"/update 2024-02-28 -1", false, 130},
		{"/update 31.02 +1", false, 130},
		{"/update yesterday 5", false, 130},
		{"/update 2024-02-29 0", false, 130},
		{"-5", false, 130},
	}
	for _, tt := range tests {
		res := send(h, "7", tt.text)
		assert.Equal(t, tt.success, res.Success, "%q -> %s", tt.text, res.Message)
		rec, found := svc.Record("7")
		require.True(t, found)
		assert.Equal(t, tt.total, rec.Total, "after %q", tt.text)
	}

	rec, _ := svc.Record("7")
	assert.Equal(t, "Hint 7", rec.Name, "first log auto-registers with the display name")
	assert.Equal(t, map[core.DateKey]int{"2024-03-01": 100, "2024-02-29": 30}, rec.Days)
}

func TestSubtractReportsBalance(t *testing.T) {
	h, _ := newTestHandler(t)
	send(h, "1", "10")

	res := send(h, "1", "/sub 11")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "only have 10")
}

func TestLeaderboardCommands(t *testing.T) {
	h, _ := newTestHandler(t)

	res := send(h, "1", "/top")
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "Nobody")

	send(h, "1", "/name Alice")
	send(h, "2", "/name Bob")
	send(h, "1", "50")
	send(h, "2", "/update 2024-02-20 +80")

	res = send(h, "1", "/top")
	require.True(t, res.Success)
	lines := strings.Split(res.Message, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1. Bob - 80", lines[1])
	assert.Equal(t, "2. Alice - 50", lines[2])
	entries := res.Data.([]core.LeaderboardEntry)
	assert.Len(t, entries, 2)

	res = send(h, "1", "/today")
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "1. Alice - 50")
	assert.NotContains(t, res.Message, "Bob")
}

func TestMeAndChart(t *testing.T) {
	h, _ := newTestHandler(t)

	res := send(h, "1", "/me")
	assert.False(t, res.Success)

	send(h, "1", "/name Alice")
	send(h, "1", "25")
	send(h, "1", "/update 28.02 +40")

	res = send(h, "1", "/me")
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "today 25, total 65")
	assert.Contains(t, res.Message, "Best day: 2024-02-28 (40)")

	res = send(h, "1", "/chart 7")
	require.True(t, res.Success)
	series := res.Data.(core.Series)
	assert.Len(t, series.Days, 7)
	require.Len(t, series.Users, 1)
	assert.Equal(t, 65, series.Users[0].Total)

	res = send(h, "1", "/chart 1000")
	require.True(t, res.Success)
	assert.Len(t, res.Data.(core.Series).Days, core.MaxChartDays)

	res = send(h, "1", "/chart soon")
	assert.False(t, res.Success)
}

func TestUnknownInput(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, text := range []string{"/dance", "hello there", "", "   "} {
		res := send(h, "1", text)
		assert.False(t, res.Success, "%q", text)
	}
	res := h.Handle(context.Background(), Event{Text: "5"})
	assert.False(t, res.Success)

	res = send(h, "1", "/help")
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "/update")
}

func TestCancelStopsNamePrompt(t *testing.T) {
	h, svc := newTestHandler(t)
	send(h, "1", "/name")
	require.True(t, svc.IsAwaitingName("1"))

	send(h, "1", "/cancel")
	assert.False(t, svc.IsAwaitingName("1"))
	res := send(h, "1", "Alice")
	assert.False(t, res.Success, "free text is no longer taken as a name")
}

// lateLedger writes to one day while Today already reports the next, as
// happens when a change lands just before UTC midnight.
type lateLedger struct {
	Ledger
	written core.DateKey
}

func (l *lateLedger) Today() core.DateKey { return l.written.AddDays(1) }

func (l *lateLedger) AddToday(_ context.Context, userID, _ string, amount int) (core.UserRecord, core.DateKey, error) {
	return core.UserRecord{ID: userID, Name: "A", Total: amount, Days: map[core.DateKey]int{l.written: amount}}, l.written, nil
}

func (l *lateLedger) SubtractToday(_ context.Context, userID string, amount int) (core.UserRecord, core.DateKey, error) {
	return core.UserRecord{ID: userID, Name: "A", Total: 10 - amount, Days: map[core.DateKey]int{l.written: 10 - amount}}, l.written, nil
}

func TestRepliesReportTheDayWritten(t *testing.T) {
	h := NewHandler(&lateLedger{written: "2024-03-01"}, log.Discard())

	res := h.Handle(context.Background(), Event{UserID: "1", Text: "/add 7"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "+7. Today: 7, total: 7.", res.Message)

	res = h.Handle(context.Background(), Event{UserID: "1", Text: "/sub 4"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "-4. Today: 6, total: 6.", res.Message)
}
