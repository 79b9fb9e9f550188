package vote

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/filmfest/votestream/internal/domain"
)

// Queue option defaults.
const (
	DefaultBatchWindow  = 5 * time.Second
	DefaultRetryBackoff = 10 * time.Second
	DefaultMaxAttempts  = 5
)

// QueueOptions controls batching and retry behaviour.
type QueueOptions struct {
	// BatchWindow is the delay between the first enqueue into an empty
	// buffer and the automatic flush. Later enqueues do not reset it.
	BatchWindow time.Duration
	// RetryBackoff is the fixed delay before a failed batch is retried.
	RetryBackoff time.Duration
	// MaxAttempts bounds consecutive failed commits; when reached, the
	// failing batch is abandoned instead of retried forever.
	MaxAttempts int
	Logger      *log.Logger
}

// QueueStatus is a point-in-time snapshot of queue internals for UI
// feedback. Reading it never blocks on I/O.
type QueueStatus struct {
	Pending     int
	Flushing    bool
	NextFlushIn time.Duration
	Abandoned   int
}

// Queue buffers validated vote records and flushes them to the committer as
// grouped batches: after a fixed window from the first enqueue, on demand,
// or after a backoff when a commit failed. At most one commit is in flight
// at a time; a flush requested during one is deferred until it resolves.
type Queue struct {
	committer *Committer
	opts      QueueOptions
	logger    *log.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	buf       []domain.VoteRecord
	timer     *time.Timer
	timerDue  time.Time
	flushing  bool
	attempts  int
	abandoned int
}

// NewQueue constructs a submission queue that commits through the given
// committer. Queues are plain owned objects: construct as many independent
// instances as needed and inject their store dependency.
func NewQueue(committer *Committer, opts QueueOptions) *Queue {
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = DefaultBatchWindow
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	q := &Queue{
		committer: committer,
		opts:      opts,
		logger:    opts.Logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a validated record to the buffer. The first record into an
// empty buffer arms the batch window timer; records arriving while a flush
// is in progress accumulate in the new buffer and do not join the in-flight
// batch.
func (q *Queue) Enqueue(rec domain.VoteRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buf = append(q.buf, rec)
	if q.timer == nil {
		q.armTimerLocked(q.opts.BatchWindow)
	}
}

// FlushNow hands the entire current buffer to the committer as one batch and
// waits for the commit to resolve. Any pending window timer is cancelled so
// it cannot fire a redundant empty flush later. If a commit is already in
// flight, FlushNow waits for it before flushing what remains.
func (q *Queue) FlushNow(ctx context.Context) error {
	q.mu.Lock()
	for q.flushing {
		q.cond.Wait()
	}
	q.stopTimerLocked()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return nil
	}

	batch := q.buf
	q.buf = nil
	q.flushing = true
	q.mu.Unlock()

	err := q.committer.Commit(ctx, batch)

	q.mu.Lock()
	q.flushing = false
	if err != nil {
		q.handleFailureLocked(batch, err)
	} else {
		q.attempts = 0
	}
	q.cond.Broadcast()
	q.mu.Unlock()
	return err
}

// Status returns a snapshot of internal counters. Pure read, no I/O.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := QueueStatus{
		Pending:   len(q.buf),
		Flushing:  q.flushing,
		Abandoned: q.abandoned,
	}
	if q.timer != nil {
		if d := time.Until(q.timerDue); d > 0 {
			st.NextFlushIn = d
		}
	}
	return st
}

// Close cancels timers and drains the buffer with a final flush. Used on
// shutdown so accepted votes are not lost with the process.
func (q *Queue) Close(ctx context.Context) error {
	return q.FlushNow(ctx)
}

// handleFailureLocked pushes a failed batch back to the front of the buffer,
// keeping its order ahead of records enqueued during the flush, and arms the
// retry backoff. After MaxAttempts consecutive failures the batch is
// abandoned: counted, logged, and dropped.
func (q *Queue) handleFailureLocked(batch []domain.VoteRecord, err error) {
	q.attempts++
	if q.attempts >= q.opts.MaxAttempts {
		q.abandoned += len(batch)
		q.attempts = 0
		q.logger.Printf("queue: abandoning batch of %d after %d failed attempts: %v",
			len(batch), q.opts.MaxAttempts, err)
		return
	}

	merged := make([]domain.VoteRecord, 0, len(batch)+len(q.buf))
	merged = append(merged, batch...)
	merged = append(merged, q.buf...)
	q.buf = merged

	q.stopTimerLocked()
	q.armTimerLocked(q.opts.RetryBackoff)
	q.logger.Printf("queue: commit of %d failed (attempt %d/%d), retrying in %s: %v",
		len(batch), q.attempts, q.opts.MaxAttempts, q.opts.RetryBackoff, err)
}

func (q *Queue) armTimerLocked(delay time.Duration) {
	q.timerDue = time.Now().Add(delay)
	q.timer = time.AfterFunc(delay, q.timerFired)
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
		q.timerDue = time.Time{}
	}
}

func (q *Queue) timerFired() {
	q.mu.Lock()
	q.timer = nil
	q.timerDue = time.Time{}
	q.mu.Unlock()

	// Commit failures are handled by the retry machinery; by now the
	// original submit calls have long returned.
	_ = q.FlushNow(context.Background())
}
