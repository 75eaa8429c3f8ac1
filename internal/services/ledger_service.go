package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stairs/internal/amqp"
	"stairs/internal/cache"
	"stairs/internal/core"
	"stairs/internal/ledger"
	"stairs/internal/log"
	"stairs/internal/storage"
	"stairs/internal/worker"
)

// Saver persists the ledger. *storage.SnapshotStore implements it.
type Saver interface {
	Save(l storage.Snapshotter) *worker.Ticket
}

// Publisher receives committed ledger changes. *amqp.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.LedgerEventMessage) error
}

// LedgerServiceConfig holds configuration for the ledger service
type LedgerServiceConfig struct {
	// ChartDays is the default chart window (default: 30)
	ChartDays int

	// CacheSize bounds the number of cached chart series (default: 32)
	CacheSize int

	// CacheTTL bounds how long a cached series is served (default: 1m)
	CacheTTL time.Duration

	// PublishTimeout bounds a single event publish (default: 5s)
	PublishTimeout time.Duration
}

// DefaultLedgerServiceConfig returns sensible defaults
func DefaultLedgerServiceConfig() LedgerServiceConfig {
	return LedgerServiceConfig{
		ChartDays:      core.DefaultChartDays,
		CacheSize:      32,
		CacheTTL:       time.Minute,
		PublishTimeout: 5 * time.Second,
	}
}

// LedgerService owns the process-wide ledger state: the ledger itself,
// the set of users who were asked for a name, and the persistence and
// event hooks. All mutations run under one lock and are saved before the
// call returns.
type LedgerService struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	awaiting  map[string]struct{}
	saver     Saver
	publisher Publisher
	series    *cache.LRUCache[core.Series]
	config    LedgerServiceConfig
	logger    *log.Logger
}

// NewLedgerService wraps an already loaded ledger. publisher may be nil.
func NewLedgerService(l *ledger.Ledger, saver Saver, publisher Publisher, config LedgerServiceConfig, logger *log.Logger) *LedgerService {
	def := DefaultLedgerServiceConfig()
	if config.ChartDays == 0 {
		config.ChartDays = def.ChartDays
	}
	if config.CacheSize <= 0 {
		config.CacheSize = def.CacheSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = def.PublishTimeout
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LedgerService{
		ledger:    l,
		awaiting:  make(map[string]struct{}),
		saver:     saver,
		publisher: publisher,
		series:    cache.NewLRUCache[core.Series](config.CacheSize, config.CacheTTL),
		config:    config,
		logger:    logger.WithComponent(log.ComponentLedger),
	}
}

// OpenLedgerService loads the snapshot from store and builds the service.
func OpenLedgerService(ctx context.Context, store *storage.SnapshotStore, clock core.Clock, publisher Publisher, config LedgerServiceConfig, logger *log.Logger) (*LedgerService, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return NewLedgerService(ledger.New(snap, clock), store, publisher, config, logger), nil
}

// SeriesCache exposes the chart cache so a janitor can clean it.
func (s *LedgerService) SeriesCache() *cache.LRUCache[core.Series] {
	return s.series
}

// Today returns today's key by the ledger clock.
func (s *LedgerService) Today() core.DateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Today()
}

// Register sets the user's display name, creating the record if needed,
// and ends any pending name prompt.
func (s *LedgerService) Register(ctx context.Context, userID, name string) (core.UserRecord, error) {
	return s.commit(ctx, log.OpRegister, func(l *ledger.Ledger) (*amqp.LedgerEventMessage, core.UserRecord, error) {
		kind := amqp.EventRegistered
		if l.IsRegistered(userID) {
			kind = amqp.EventRenamed
		}
		rec, err := l.Register(userID, name)
		if err != nil {
			return nil, rec, err
		}
		delete(s.awaiting, userID)
		return amqp.NewLedgerEventMessage(kind, rec, "", 0), rec, nil
	})
}

// AwaitName marks the user as expected to send their name next.
func (s *LedgerService) AwaitName(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting[userID] = struct{}{}
}

func (s *LedgerService) IsAwaitingName(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.awaiting[userID]
	return ok
}

// CancelAwaitName drops a pending name prompt.
func (s *LedgerService) CancelAwaitName(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.awaiting, userID)
}

// AddToday adds amount to today's entry and returns the day it was
// written to, which is fixed under the lock.
func (s *LedgerService) AddToday(ctx context.Context, userID, fallbackName string, amount int) (core.UserRecord, core.DateKey, error) {
	return s.add(ctx, userID, fallbackName, amount, "")
}

// Add adds amount to day (today when day is empty). Unknown users are
// created with fallbackName.
func (s *LedgerService) Add(ctx context.Context, userID, fallbackName string, amount int, day core.DateKey) (core.UserRecord, error) {
	rec, _, err := s.add(ctx, userID, fallbackName, amount, day)
	return rec, err
}

func (s *LedgerService) add(ctx context.Context, userID, fallbackName string, amount int, day core.DateKey) (core.UserRecord, core.DateKey, error) {
	rec, err := s.commit(ctx, log.OpAdd, func(l *ledger.Ledger) (*amqp.LedgerEventMessage, core.UserRecord, error) {
		if day == "" {
			day = l.Today()
		}
		rec, err := l.AddAmount(userID, fallbackName, amount, day)
		if err != nil {
			return nil, rec, err
		}
		return amqp.NewLedgerEventMessage(amqp.EventAdded, rec, day, amount), rec, nil
	})
	return rec, day, err
}

// SubtractToday removes amount from today's entry and returns the day it
// was taken from.
func (s *LedgerService) SubtractToday(ctx context.Context, userID string, amount int) (core.UserRecord, core.DateKey, error) {
	if amount <= 0 {
		return core.UserRecord{}, "", fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount)
	}
	return s.adjust(ctx, userID, "", -amount)
}

// UpdateDay applies a signed correction to day (today when empty).
func (s *LedgerService) UpdateDay(ctx context.Context, userID string, day core.DateKey, delta int) (core.UserRecord, error) {
	rec, _, err := s.adjust(ctx, userID, day, delta)
	return rec, err
}

func (s *LedgerService) adjust(ctx context.Context, userID string, day core.DateKey, delta int) (core.UserRecord, core.DateKey, error) {
	rec, err := s.commit(ctx, log.OpAdjust, func(l *ledger.Ledger) (*amqp.LedgerEventMessage, core.UserRecord, error) {
		if day == "" {
			day = l.Today()
		}
		rec, err := l.AdjustDay(userID, day, delta)
		if err != nil {
			return nil, rec, err
		}
		return amqp.NewLedgerEventMessage(amqp.EventAdjusted, rec, day, delta), rec, nil
	})
	return rec, day, err
}

func (s *LedgerService) Record(userID string) (core.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Record(userID)
}

func (s *LedgerService) IsRegistered(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.IsRegistered(userID)
}

// Leaderboard ranks users by all-time total, or by one day's value.
func (s *LedgerService) Leaderboard(day core.DateKey) []core.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Leaderboard(day)
}

// Series returns chart data for the last days days. Zero means the
// configured window. Results are cached per ledger revision.
func (s *LedgerService) Series(days int) core.Series {
	if days == 0 {
		days = s.config.ChartDays
	}
	days = core.ClampChartDays(days)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%d|%s|%d", s.ledger.Revision(), s.ledger.Today(), days)
	if cached, ok := s.series.Get(key); ok {
		return cached
	}
	series := s.ledger.Series(days)
	s.series.Set(key, series)
	return series
}

// Close writes a final snapshot and waits for it.
func (s *LedgerService) Close(ctx context.Context) error {
	s.mu.Lock()
	ticket := s.saver.Save(s.ledger)
	s.mu.Unlock()

	if err := ticket.Wait(ctx); err != nil {
		return fmt.Errorf("final ledger save: %w", err)
	}
	s.series.Purge()
	return nil
}

type mutation func(l *ledger.Ledger) (*amqp.LedgerEventMessage, core.UserRecord, error)

// commit runs fn under the lock, schedules the save while still holding
// it, then waits for the write and publishes the event. A failed write is
// logged; the in-memory change stands and the call succeeds.
func (s *LedgerService) commit(ctx context.Context, op string, fn mutation) (core.UserRecord, error) {
	s.mu.Lock()
	msg, rec, err := fn(s.ledger)
	if err != nil {
		s.mu.Unlock()
		return core.UserRecord{}, err
	}
	ticket := s.saver.Save(s.ledger)
	revision := s.ledger.Revision()
	s.mu.Unlock()

	fields := log.NewFields().
		WithOperation(op).
		WithEntry(rec.ID, string(msg.Day), msg.Delta)
	fields[log.FieldTotal] = rec.Total
	fields[log.FieldRevision] = revision

	if err := ticket.Wait(ctx); err != nil {
		level := s.logger.ErrorContext
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			level = s.logger.WarnContext
		}
		level(ctx, "Ledger change not confirmed on disk", fields.WithError(err).ToSlice()...)
	} else {
		s.logger.InfoContext(ctx, "Ledger updated", fields.ToSlice()...)
	}

	s.publish(ctx, msg)
	return rec, nil
}

func (s *LedgerService) publish(ctx context.Context, msg *amqp.LedgerEventMessage) {
	if s.publisher == nil || msg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PublishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldOperation, log.OpPublish,
			log.FieldUserID, msg.UserID,
			"event_id", msg.EventID,
			log.FieldError, err)
	}
}
