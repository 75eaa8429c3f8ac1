package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stairs/internal/amqp"
	"stairs/internal/core"
	"stairs/internal/log"
	"stairs/internal/storage"
)

type memoryMirror struct {
	mu      sync.Mutex
	entries []storage.MirrorEntry
	err     error
}

func (m *memoryMirror) Apply(_ context.Context, e storage.MirrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestHandleLedgerEvent(t *testing.T) {
	mirror := &memoryMirror{}
	p := NewMirrorProcessor(mirror, log.Discard())

	rec := core.UserRecord{ID: "1", Name: "A", Total: 9, Days: map[core.DateKey]int{"2024-03-01": 9}, UpdatedAt: serviceNow}
	require.NoError(t, p.HandleLedgerEvent(context.Background(), amqp.NewLedgerEventMessage(amqp.EventAdded, rec, "2024-03-01", 9)))

	require.Len(t, mirror.entries, 1)
	assert.Equal(t, storage.MirrorEntry{UserID: "1", Name: "A", Day: "2024-03-01", DayValue: 9, Total: 9, At: serviceNow}, mirror.entries[0])

	mirror.err = errors.New("database is locked")
	err := p.HandleLedgerEvent(context.Background(), amqp.NewLedgerEventMessage(amqp.EventAdded, rec, "2024-03-01", 9))
	require.Error(t, err)
	assert.Equal(t, MirrorStats{Applied: 1, Failed: 1}, p.Stats())
}

func TestReconcileAgainstSQLiteMirror(t *testing.T) {
	mirror, err := storage.NewMirror(filepath.Join(t.TempDir(), "mirror.db"), log.Discard())
	require.NoError(t, err)
	defer mirror.Close()
	p := NewMirrorProcessor(mirror, log.Discard())
	ctx := context.Background()

	snap := core.NewSnapshot(serviceNow)
	snap.Users["1"] = &core.UserRecord{Name: "Alice", Total: 30, Days: map[core.DateKey]int{"2024-02-29": 10, "2024-03-01": 20}, UpdatedAt: serviceNow}
	snap.Users["2"] = &core.UserRecord{Name: "Bob", Days: map[core.DateKey]int{}, UpdatedAt: serviceNow}

	n, err := p.Reconcile(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	board, err := mirror.Leaderboard(ctx, "")
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "Alice", board[0].Name)
	assert.Equal(t, 30, board[0].Score)

	// An event newer than the snapshot is not rolled back by a later
	// reconciliation with the old snapshot.
	newer := core.UserRecord{ID: "1", Name: "Alice", Total: 35, Days: map[core.DateKey]int{"2024-02-29": 10, "2024-03-01": 25}, UpdatedAt: serviceNow.Add(time.Minute)}
	require.NoError(t, p.HandleLedgerEvent(ctx, amqp.NewLedgerEventMessage(amqp.EventAdded, newer, "2024-03-01", 5)))
	_, err = p.Reconcile(ctx, snap)
	require.NoError(t, err)

	v, ok, err := mirror.DayValue(ctx, "1", "2024-03-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 25, v)
}

func TestRunReconcilerStopsWithContext(t *testing.T) {
	mirror := &memoryMirror{}
	p := NewMirrorProcessor(mirror, log.Discard())

	var calls sync.WaitGroup
	calls.Add(1)
	var once sync.Once
	source := func(context.Context) (core.Snapshot, error) {
		once.Do(calls.Done)
		snap := core.NewSnapshot(serviceNow)
		snap.Users["1"] = &core.UserRecord{Name: "A", Days: map[core.DateKey]int{}}
		return snap, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.RunReconciler(ctx, time.Hour, source) }()

	calls.Wait()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Len(t, mirror.entries, 1)
}
