package vote

import (
	"context"
	"fmt"
	"log"

	"github.com/filmfest/votestream/internal/domain"
)

// GroupWriter is the grouped atomic write the committer needs from the store.
type GroupWriter interface {
	GroupWrite(ctx context.Context, records []domain.VoteRecord) error
}

// Committer turns a buffered batch into a single all-or-nothing store write.
// Delivery is at-least-once: a batch whose acknowledgment is lost will be
// retried, and the store's deterministic vote key makes redelivery a no-op.
type Committer struct {
	store  GroupWriter
	logger *log.Logger
}

// NewCommitter constructs a batch committer over the given store.
func NewCommitter(store GroupWriter, logger *log.Logger) *Committer {
	if logger == nil {
		logger = log.Default()
	}
	return &Committer{store: store, logger: logger}
}

// Commit writes the batch as one grouped operation.
func (c *Committer) Commit(ctx context.Context, records []domain.VoteRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.store.GroupWrite(ctx, records); err != nil {
		return fmt.Errorf("commit batch of %d: %w", len(records), err)
	}
	c.logger.Printf("committer: committed batch of %d vote(s)", len(records))
	return nil
}
