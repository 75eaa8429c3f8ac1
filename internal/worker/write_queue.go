package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stairs/internal/core"
	"stairs/internal/log"
)

// ErrQueueClosed is returned for jobs submitted after Close.
var ErrQueueClosed = errors.New("write queue closed")

// Job is one unit of work executed by the queue consumer.
type Job func(ctx context.Context) error

// WriteQueueConfig holds configuration for the write queue
type WriteQueueConfig struct {
	// Size is the channel buffer; Submit blocks while it is full (default: 64)
	Size int

	// JobTimeout bounds a single job; zero means no limit
	JobTimeout time.Duration
}

// DefaultWriteQueueConfig returns sensible defaults
func DefaultWriteQueueConfig() WriteQueueConfig {
	return WriteQueueConfig{Size: 64}
}

// Ticket tracks one submitted job.
type Ticket struct {
	Seq  uint64
	done chan struct{}
	err  error
}

func newTicket(seq uint64) *Ticket {
	return &Ticket{Seq: seq, done: make(chan struct{})}
}

func (t *Ticket) finish(err error) {
	t.err = err
	close(t.done)
}

// FailedTicket returns an already finished ticket carrying err.
func FailedTicket(err error) *Ticket {
	t := newTicket(0)
	t.finish(err)
	return t
}

// Done is closed once the job has run (or was rejected).
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the job has finished and returns its error.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type queuedJob struct {
	name   string
	job    Job
	ticket *Ticket
}

// WriteQueue runs jobs one at a time in submission order on a single
// goroutine. A failing job is logged and does not stop the queue. Close
// drains everything already submitted.
type WriteQueue struct {
	config WriteQueueConfig
	logger *log.Logger

	mu     sync.Mutex
	seq    uint64
	closed bool
	jobs   chan queuedJob
	doneCh chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWriteQueue creates the queue and starts its consumer.
func NewWriteQueue(config WriteQueueConfig, logger *log.Logger) *WriteQueue {
	if config.Size <= 0 {
		config.Size = DefaultWriteQueueConfig().Size
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	q := &WriteQueue{
		config: config,
		logger: logger.WithComponent(log.ComponentQueue),
		jobs:   make(chan queuedJob, config.Size),
		doneCh: make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues a job. The returned ticket completes after the job ran.
func (q *WriteQueue) Submit(name string, job Job) *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	t := newTicket(q.seq)
	if q.closed {
		t.finish(ErrQueueClosed)
		return t
	}
	// Sending under the lock keeps channel order equal to sequence order.
	q.jobs <- queuedJob{name: name, job: job, ticket: t}
	return t
}

func (q *WriteQueue) run() {
	defer close(q.doneCh)

	for item := range q.jobs {
		err := q.execute(item)
		q.processed.Add(1)
		if err != nil {
			q.failed.Add(1)
			err = fmt.Errorf("%w: %s #%d: %w", core.ErrWriteFailure, item.name, item.ticket.Seq, err)
			q.logger.Error("Queued write failed", log.FieldOperation, item.name, "seq", item.ticket.Seq, log.FieldError, err)
		} else {
			q.logger.Debug("Queued write completed", log.FieldOperation, item.name, "seq", item.ticket.Seq)
		}
		item.ticket.finish(err)
	}
}

func (q *WriteQueue) execute(item queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx := context.Background()
	if q.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.JobTimeout)
		defer cancel()
	}
	return item.job(ctx)
}

// Close stops accepting jobs and waits until the queue has drained or ctx
// is done. It is safe to call more than once.
func (q *WriteQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.doneCh:
		q.logger.Info("Write queue drained", "processed", q.processed.Load(), "failed", q.failed.Load())
		return nil
	case <-ctx.Done():
		q.logger.Warn("Write queue close timed out", "pending", len(q.jobs))
		return ctx.Err()
	}
}

// QueueStats is a point-in-time view of the queue counters.
type QueueStats struct {
	Pending   int
	Processed int64
	Failed    int64
}

func (q *WriteQueue) Stats() QueueStats {
	return QueueStats{
		Pending:   len(q.jobs),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}
