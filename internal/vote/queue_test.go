package vote

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filmfest/votestream/internal/domain"
	"github.com/filmfest/votestream/internal/recordstore"
)

var errStoreDown = errors.New("store unreachable")

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestQueue(store GroupWriter, opts QueueOptions) *Queue {
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	return NewQueue(NewCommitter(store, opts.Logger), opts)
}

func record(filmID, token string, rating int) domain.VoteRecord {
	rec, err := domain.NewVoteRecord(domain.VoteSubmission{
		FilmID: filmID,
		Rating: rating,
		Voter:  domain.Voter{AnonToken: token},
	}, time.Now())
	if err != nil {
		panic(err)
	}
	return rec
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestQueueFlushNowCommitsBuffer(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{BatchWindow: time.Minute})

	q.Enqueue(record("f1", "t1", 5))
	q.Enqueue(record("f1", "t2", 3))
	assert.Equal(t, 2, q.Status().Pending)

	require.NoError(t, q.FlushNow(context.Background()))

	assert.Equal(t, 0, q.Status().Pending)
	votes, err := store.AllVotes(context.Background())
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "anon:t1", votes[0].Voter.Key())
	assert.Equal(t, "anon:t2", votes[1].Voter.Key())
}

func TestQueueWindowTimerFlushes(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{BatchWindow: 30 * time.Millisecond})

	q.Enqueue(record("f1", "t1", 4))
	q.Enqueue(record("f1", "t2", 2))

	waitFor(t, 2*time.Second, func() bool {
		return q.Status().Pending == 0 && !q.Status().Flushing
	})

	votes, err := store.AllVotes(context.Background())
	require.NoError(t, err)
	assert.Len(t, votes, 2)
	// Both records rode the same window into a single grouped commit.
	assert.Equal(t, 1, store.GroupWriteCalls())
}

func TestQueueWindowRunsFromFirstEnqueue(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{BatchWindow: 500 * time.Millisecond})

	q.Enqueue(record("f1", "t1", 4))
	time.Sleep(200 * time.Millisecond)
	q.Enqueue(record("f1", "t2", 4))

	// A later enqueue must not reset the window.
	assert.Less(t, q.Status().NextFlushIn, 400*time.Millisecond)
}

func TestQueueFlushNowCancelsWindowTimer(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{BatchWindow: 50 * time.Millisecond})

	q.Enqueue(record("f1", "t1", 5))
	require.NoError(t, q.FlushNow(context.Background()))

	assert.Equal(t, time.Duration(0), q.Status().NextFlushIn)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, store.GroupWriteCalls(), "cancelled timer must not fire a redundant flush")
}

func TestQueueBatchFailureIsAtomicAndRequeues(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{BatchWindow: time.Minute, RetryBackoff: time.Minute})

	first := record("f1", "t1", 5)
	second := record("f1", "t2", 1)
	q.Enqueue(first)
	q.Enqueue(second)

	store.FailWrites(errStoreDown)
	err := q.FlushNow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)

	votes, err2 := store.AllVotes(context.Background())
	require.NoError(t, err2)
	assert.Empty(t, votes, "a failed grouped write must store nothing")
	assert.Equal(t, 2, q.Status().Pending, "the whole batch must be requeued")

	// The failed batch stays ahead of entries enqueued afterwards.
	third := record("f1", "t3", 3)
	q.Enqueue(third)

	store.FailWrites(nil)
	require.NoError(t, q.FlushNow(context.Background()))

	votes, err2 = store.AllVotes(context.Background())
	require.NoError(t, err2)
	require.Len(t, votes, 3)
	assert.Equal(t, first.ID, votes[0].ID)
	assert.Equal(t, second.ID, votes[1].ID)
	assert.Equal(t, third.ID, votes[2].ID)
}

func TestQueueRetriesAfterBackoff(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{BatchWindow: time.Minute, RetryBackoff: 30 * time.Millisecond})

	q.Enqueue(record("f1", "t1", 5))
	q.Enqueue(record("f1", "t2", 4))

	store.FailWrites(errStoreDown)
	require.Error(t, q.FlushNow(context.Background()))

	store.FailWrites(nil)
	waitFor(t, 2*time.Second, func() bool {
		votes, err := store.AllVotes(context.Background())
		return err == nil && len(votes) == 2
	})
	assert.Equal(t, 0, q.Status().Pending)
	assert.Equal(t, 0, q.Status().Abandoned)
}

func TestQueueAbandonsAfterMaxAttempts(t *testing.T) {
	store := recordstore.NewMemory()
	q := newTestQueue(store, QueueOptions{
		BatchWindow:  time.Minute,
		RetryBackoff: time.Minute,
		MaxAttempts:  2,
	})

	for i := 0; i < 3; i++ {
		q.Enqueue(record("f1", string(rune('a'+i)), 5))
	}

	store.FailWrites(errStoreDown)
	require.Error(t, q.FlushNow(context.Background()))
	assert.Equal(t, 3, q.Status().Pending)

	require.Error(t, q.FlushNow(context.Background()))
	st := q.Status()
	assert.Equal(t, 0, st.Pending, "an abandoned batch leaves the buffer")
	assert.Equal(t, 3, st.Abandoned)

	// The queue keeps working for fresh submissions.
	store.FailWrites(nil)
	q.Enqueue(record("f2", "t9", 4))
	require.NoError(t, q.FlushNow(context.Background()))
	votes, err := store.AllVotes(context.Background())
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}

// slowStore delays grouped writes so overlapping flushes can be provoked.
type slowStore struct {
	inner *recordstore.Memory
	delay time.Duration

	mu        sync.Mutex
	active    int
	maxActive int
}

func (s *slowStore) GroupWrite(ctx context.Context, records []domain.VoteRecord) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()

	time.Sleep(s.delay)
	err := s.inner.GroupWrite(ctx, records)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return err
}

func TestQueueSingleFlightCommit(t *testing.T) {
	inner := recordstore.NewMemory()
	store := &slowStore{inner: inner, delay: 50 * time.Millisecond}
	q := newTestQueue(store, QueueOptions{BatchWindow: time.Minute})

	q.Enqueue(record("f1", "t1", 5))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.FlushNow(context.Background())
	}()

	// Let the first flush take the buffer, then race a second one.
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(record("f1", "t2", 4))
	require.NoError(t, q.FlushNow(context.Background()))
	<-done

	store.mu.Lock()
	maxActive := store.maxActive
	store.mu.Unlock()
	assert.Equal(t, 1, maxActive, "commits must never overlap")

	// The record enqueued mid-flush landed in a fresh buffer and a second
	// grouped commit, not the in-flight batch.
	assert.Equal(t, 2, inner.GroupWriteCalls())
	votes, err := inner.AllVotes(context.Background())
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}
