// Package aggregate reduces raw vote records into ranked leaderboards.
// Aggregation is read-time, stateless, and idempotent: nothing is cached
// between calls, so two calls over the same data yield identical results.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/filmfest/votestream/internal/domain"
	"github.com/filmfest/votestream/internal/recordstore"
)

// CommentSampleSize bounds the recent-comment sample on a film result.
const CommentSampleSize = 10

// VoteSource supplies raw committed vote records.
type VoteSource interface {
	VotesByFilm(ctx context.Context, filmID string) ([]domain.VoteRecord, error)
	AllVotes(ctx context.Context) ([]domain.VoteRecord, error)
}

// Catalog supplies film and session programme data.
type Catalog interface {
	Film(ctx context.Context, filmID string) (domain.Film, error)
	SessionFilms(ctx context.Context, sessionID string) ([]string, error)
	AllFilms(ctx context.Context) ([]domain.Film, error)
}

// Engine computes per-film, per-session, and festival-wide results.
// Ranking is by mean rating only; ties keep the input (programme/catalog)
// order via stable sort. Vote count is deliberately not a secondary key —
// still an open question with the organizers.
type Engine struct {
	votes          VoteSource
	catalog        Catalog
	expectedVoters int
}

// New constructs an aggregation engine. expectedVoters is the fixed
// per-session voter count used for the participation estimate.
func New(votes VoteSource, catalog Catalog, expectedVoters int) *Engine {
	return &Engine{votes: votes, catalog: catalog, expectedVoters: expectedVoters}
}

// FilmStats reduces all committed votes for one film to its vote count,
// one-decimal mean, rating distribution, and most recent non-empty comments.
// Rank is left unassigned; it only exists within a session or global scope.
func (e *Engine) FilmStats(ctx context.Context, filmID string) (domain.AggregatedFilmResult, error) {
	film, err := e.catalog.Film(ctx, filmID)
	if err != nil {
		return domain.AggregatedFilmResult{}, err
	}

	votes, err := e.votes.VotesByFilm(ctx, filmID)
	if err != nil {
		return domain.AggregatedFilmResult{}, fmt.Errorf("fetch votes for film %s: %w", filmID, err)
	}
	return reduce(film, votes), nil
}

// SessionResults computes the ranked leaderboard for one screening session.
// Films the catalog can no longer resolve are omitted rather than failing
// the whole aggregation.
func (e *Engine) SessionResults(ctx context.Context, sessionID string) (domain.SessionResults, error) {
	filmIDs, err := e.catalog.SessionFilms(ctx, sessionID)
	if err != nil {
		return domain.SessionResults{}, err
	}

	results := make([]domain.AggregatedFilmResult, 0, len(filmIDs))
	for _, filmID := range filmIDs {
		film, err := e.catalog.Film(ctx, filmID)
		if err != nil {
			if errors.Is(err, recordstore.ErrNotFound) {
				continue
			}
			return domain.SessionResults{}, err
		}
		votes, err := e.votes.VotesByFilm(ctx, filmID)
		if err != nil {
			return domain.SessionResults{}, fmt.Errorf("fetch votes for film %s: %w", filmID, err)
		}
		results = append(results, reduce(film, votes))
	}

	rank(results)

	var total int64
	for _, r := range results {
		total += r.VoteCount
	}

	return domain.SessionResults{
		SessionID:         sessionID,
		Films:             results,
		TotalVotes:        total,
		ParticipationRate: float64(total) / float64(e.expectedVoters),
	}, nil
}

// GlobalResults ranks every film over all of its votes. Session membership
// does not partition votes: a film screened in several sessions gets one
// true overall mean, sum(rating)/count(ratings), not an average of
// per-session means.
func (e *Engine) GlobalResults(ctx context.Context) ([]domain.AggregatedFilmResult, error) {
	films, err := e.catalog.AllFilms(ctx)
	if err != nil {
		return nil, err
	}
	votes, err := e.votes.AllVotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch all votes: %w", err)
	}

	byFilm := make(map[string][]domain.VoteRecord, len(films))
	for _, v := range votes {
		byFilm[v.FilmID] = append(byFilm[v.FilmID], v)
	}

	results := make([]domain.AggregatedFilmResult, 0, len(films))
	for _, film := range films {
		results = append(results, reduce(film, byFilm[film.ID]))
	}

	rank(results)
	return results, nil
}

// reduce folds a film's votes into its aggregate result.
func reduce(film domain.Film, votes []domain.VoteRecord) domain.AggregatedFilmResult {
	result := domain.AggregatedFilmResult{
		FilmID:             film.ID,
		Title:              film.Title,
		VoteCount:          int64(len(votes)),
		RatingDistribution: map[int]int64{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}

	var sum int64
	for _, v := range votes {
		sum += int64(v.Rating)
		result.RatingDistribution[v.Rating]++
	}
	if result.VoteCount > 0 {
		result.MeanRating = roundToOneDecimal(float64(sum) / float64(result.VoteCount))
	}

	result.Comments = commentSample(votes)
	return result
}

// commentSample returns up to CommentSampleSize non-empty comments, most
// recent first by submission time (commit order is irrelevant here).
func commentSample(votes []domain.VoteRecord) []domain.CommentSample {
	withComment := make([]domain.VoteRecord, 0, len(votes))
	for _, v := range votes {
		if v.Comment != "" {
			withComment = append(withComment, v)
		}
	}
	sort.SliceStable(withComment, func(i, j int) bool {
		return withComment[i].SubmittedAt.After(withComment[j].SubmittedAt)
	})
	if len(withComment) > CommentSampleSize {
		withComment = withComment[:CommentSampleSize]
	}

	sample := make([]domain.CommentSample, 0, len(withComment))
	for _, v := range withComment {
		sample = append(sample, domain.CommentSample{
			Comment:     v.Comment,
			SubmittedAt: v.SubmittedAt,
			Anonymous:   v.IsAnonymous(),
		})
	}
	return sample
}

// rank sorts descending by mean rating — stable, so tied films keep their
// input order — and assigns ranks 1..N.
func rank(results []domain.AggregatedFilmResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MeanRating > results[j].MeanRating
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}

func roundToOneDecimal(value float64) float64 {
	return math.Round(value*10) / 10
}
