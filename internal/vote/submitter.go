package vote

import (
	"context"
	"time"

	"github.com/filmfest/votestream/internal/domain"
)

// FilmResolver verifies a submission targets a film that exists.
type FilmResolver interface {
	Film(ctx context.Context, filmID string) (domain.Film, error)
}

// SingleWriter is the direct, non-queued write path to the store.
type SingleWriter interface {
	SingleWrite(ctx context.Context, rec domain.VoteRecord) (bool, error)
}

// Submitter validates submissions, runs the duplicate guard, and routes
// accepted records either into the submission queue or straight to the store
// for the per-session direct path.
type Submitter struct {
	guard  *Guard
	queue  *Queue
	films  FilmResolver
	direct SingleWriter
	now    func() time.Time
}

// NewSubmitter constructs a submitter over the given collaborators.
func NewSubmitter(guard *Guard, queue *Queue, films FilmResolver, direct SingleWriter) *Submitter {
	return &Submitter{
		guard:  guard,
		queue:  queue,
		films:  films,
		direct: direct,
		now:    time.Now,
	}
}

// Submit validates and enqueues a vote for batched commit. It returns the
// minted record on acceptance; once accepted, the vote cannot be withdrawn.
// Rejections (*domain.ValidationError, domain.ErrDuplicateVote, unknown
// film) are synchronous and the record never reaches the queue.
func (s *Submitter) Submit(ctx context.Context, sub domain.VoteSubmission) (domain.VoteRecord, error) {
	rec, err := s.accept(ctx, sub)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	s.queue.Enqueue(rec)
	return rec, nil
}

// SubmitDirect validates and commits a session-scoped vote with a single
// immediate write, bypassing the queue.
func (s *Submitter) SubmitDirect(ctx context.Context, sub domain.VoteSubmission) (domain.VoteRecord, error) {
	if sub.SessionID == "" {
		return domain.VoteRecord{}, &domain.ValidationError{Field: "sessionId", Reason: "session id is required for direct voting"}
	}
	rec, err := s.accept(ctx, sub)
	if err != nil {
		return domain.VoteRecord{}, err
	}

	inserted, err := s.direct.SingleWrite(ctx, rec)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	if !inserted {
		// The guard raced a concurrent submission; the store's key won.
		return domain.VoteRecord{}, domain.ErrDuplicateVote
	}
	return rec, nil
}

func (s *Submitter) accept(ctx context.Context, sub domain.VoteSubmission) (domain.VoteRecord, error) {
	rec, err := domain.NewVoteRecord(sub, s.now())
	if err != nil {
		return domain.VoteRecord{}, err
	}

	if _, err := s.films.Film(ctx, rec.FilmID); err != nil {
		return domain.VoteRecord{}, err
	}

	voted, err := s.guard.HasVoted(ctx, rec.FilmID, rec.Voter)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	if voted {
		return domain.VoteRecord{}, domain.ErrDuplicateVote
	}
	return rec, nil
}
