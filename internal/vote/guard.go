package vote

import (
	"context"

	"github.com/filmfest/votestream/internal/domain"
)

// VoteChecker is the store query the duplicate guard needs.
type VoteChecker interface {
	HasVote(ctx context.Context, filmID, voterKey string) (bool, error)
}

// Guard answers whether a voter already rated a film. It runs synchronously
// before a submission may enter the queue. The guard is best effort: two
// near-simultaneous submissions can both pass it while neither is committed
// yet. The store closes that window with its deterministic (film, voter)
// write key, so a second commit is a no-op rather than a second record.
type Guard struct {
	store VoteChecker
}

// NewGuard constructs a duplicate guard over the given store.
func NewGuard(store VoteChecker) *Guard {
	return &Guard{store: store}
}

// HasVoted reports whether a committed vote exists for the voter and film.
func (g *Guard) HasVoted(ctx context.Context, filmID string, voter domain.Voter) (bool, error) {
	return g.store.HasVote(ctx, filmID, voter.Key())
}
