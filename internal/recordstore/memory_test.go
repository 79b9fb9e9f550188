package recordstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filmfest/votestream/internal/domain"
)

func memVote(filmID, token string, rating int) domain.VoteRecord {
	return domain.VoteRecord{
		ID:          uuid.NewString(),
		FilmID:      filmID,
		Rating:      rating,
		Voter:       domain.Voter{AnonToken: token},
		SubmittedAt: time.Now(),
	}
}

func TestMemoryCollapsesDuplicateVoter(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	err := store.GroupWrite(ctx, []domain.VoteRecord{
		memVote("f1", "t1", 5),
		memVote("f1", "t1", 2),
		memVote("f1", "t2", 4),
	})
	require.NoError(t, err)

	votes, err := store.VotesByFilm(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, 5, votes[0].Rating, "first write wins")
}

func TestMemoryFailWritesIsAtomic(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	cause := errors.New("boom")

	store.FailWrites(cause)
	err := store.GroupWrite(ctx, []domain.VoteRecord{memVote("f1", "t1", 5)})
	require.Error(t, err)
	var transient *domain.TransientStoreError
	assert.ErrorAs(t, err, &transient)

	votes, err := store.AllVotes(ctx)
	require.NoError(t, err)
	assert.Empty(t, votes)

	store.FailWrites(nil)
	require.NoError(t, store.GroupWrite(ctx, []domain.VoteRecord{memVote("f1", "t1", 5)}))
	assert.Equal(t, 2, store.GroupWriteCalls())
}

func TestMemoryCatalog(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.AddFilm(domain.Film{ID: "f1", Title: "Night Reel"})
	store.AddSession("s1", "f1")

	film, err := store.Film(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Night Reel", film.Title)

	_, err = store.Film(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.SessionFilms(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
