package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filmfest/votestream/internal/domain"
	"github.com/filmfest/votestream/internal/store"
)

// ErrNotFound indicates the requested film or session does not exist.
var ErrNotFound = errors.New("recordstore: not found")

// Votes are keyed by (film_id, voter_key), so a second write for the same
// pair — a duplicate submission or an at-least-once redelivery — is a no-op
// instead of a second row. The client-supplied record id is stored but is
// not the uniqueness key.
const insertVoteSQL = `
    INSERT INTO votes (id, film_id, session_id, voter_key, anonymous, rating, comment, submitted_at)
    VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8)
    ON CONFLICT (film_id, voter_key) DO NOTHING
`

const selectVoteSQL = `
    SELECT id, film_id, COALESCE(session_id, ''), voter_key, anonymous, rating, COALESCE(comment, ''), submitted_at
    FROM votes
`

// Postgres implements the record store contract over a pgx pool: grouped
// atomic writes, single writes, filtered vote queries, and catalog reads.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres record store backed by the provided store.
func NewPostgres(st *store.Store) *Postgres {
	return &Postgres{pool: st.Pool()}
}

// NewPostgresWithPool allows constructing the record store directly from a pgx pool.
func NewPostgresWithPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// GroupWrite commits all records in one transaction: the batch either lands
// entirely or not at all. Conflicting records are silently skipped, which
// makes redelivery of an already-committed batch a no-op.
func (p *Postgres) GroupWrite(ctx context.Context, records []domain.VoteRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &domain.TransientStoreError{Op: "group write", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertVoteSQL,
			rec.ID, rec.FilmID, rec.SessionID, rec.Voter.Key(), rec.IsAnonymous(), rec.Rating, rec.Comment, rec.SubmittedAt)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return wrapWriteError("group write", err)
		}
	}
	if err := results.Close(); err != nil {
		return &domain.TransientStoreError{Op: "group write", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.TransientStoreError{Op: "group write commit", Err: err}
	}
	return nil
}

// SingleWrite commits one record directly, bypassing the queue. The returned
// bool reports whether a row was actually inserted; false means a vote for
// the same (film, voter) pair already exists.
func (p *Postgres) SingleWrite(ctx context.Context, rec domain.VoteRecord) (bool, error) {
	tag, err := p.pool.Exec(ctx, insertVoteSQL,
		rec.ID, rec.FilmID, rec.SessionID, rec.Voter.Key(), rec.IsAnonymous(), rec.Rating, rec.Comment, rec.SubmittedAt)
	if err != nil {
		return false, wrapWriteError("single write", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HasVote reports whether a committed vote exists for the (film, voter) pair.
func (p *Postgres) HasVote(ctx context.Context, filmID, voterKey string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM votes WHERE film_id = $1 AND voter_key = $2)`

	var exists bool
	if err := p.pool.QueryRow(ctx, query, filmID, voterKey).Scan(&exists); err != nil {
		return false, &domain.TransientStoreError{Op: "duplicate check", Err: err}
	}
	return exists, nil
}

// VotesByFilm returns every committed vote for a film, most recent first.
func (p *Postgres) VotesByFilm(ctx context.Context, filmID string) ([]domain.VoteRecord, error) {
	rows, err := p.pool.Query(ctx, selectVoteSQL+` WHERE film_id = $1 ORDER BY submitted_at DESC, id`, filmID)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "votes by film", Err: err}
	}
	return scanVotes(rows)
}

// AllVotes returns every committed vote in the store, most recent first.
func (p *Postgres) AllVotes(ctx context.Context) ([]domain.VoteRecord, error) {
	rows, err := p.pool.Query(ctx, selectVoteSQL+` ORDER BY submitted_at DESC, id`)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "all votes", Err: err}
	}
	return scanVotes(rows)
}

// Film resolves one catalog entry.
func (p *Postgres) Film(ctx context.Context, filmID string) (domain.Film, error) {
	const query = `SELECT id, title FROM films WHERE id = $1`

	var film domain.Film
	err := p.pool.QueryRow(ctx, query, filmID).Scan(&film.ID, &film.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Film{}, ErrNotFound
		}
		return domain.Film{}, &domain.TransientStoreError{Op: "film lookup", Err: err}
	}
	return film, nil
}

// SessionFilms returns the ids of the films screened in a session, in the
// order the programme lists them. That order is the ranking tie-break.
func (p *Postgres) SessionFilms(ctx context.Context, sessionID string) ([]string, error) {
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`
	var exists bool
	if err := p.pool.QueryRow(ctx, existsQuery, sessionID).Scan(&exists); err != nil {
		return nil, &domain.TransientStoreError{Op: "session lookup", Err: err}
	}
	if !exists {
		return nil, ErrNotFound
	}

	const query = `SELECT film_id FROM session_films WHERE session_id = $1 ORDER BY position`
	rows, err := p.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "session films", Err: err}
	}
	defer rows.Close()

	var filmIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session film: %w", err)
		}
		filmIDs = append(filmIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.TransientStoreError{Op: "session films", Err: err}
	}
	return filmIDs, nil
}

// AllFilms returns the full film catalog in creation order.
func (p *Postgres) AllFilms(ctx context.Context) ([]domain.Film, error) {
	const query = `SELECT id, title FROM films ORDER BY created_at, id`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, &domain.TransientStoreError{Op: "all films", Err: err}
	}
	defer rows.Close()

	var films []domain.Film
	for rows.Next() {
		var film domain.Film
		if err := rows.Scan(&film.ID, &film.Title); err != nil {
			return nil, fmt.Errorf("scan film: %w", err)
		}
		films = append(films, film)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.TransientStoreError{Op: "all films", Err: err}
	}
	return films, nil
}

func scanVotes(rows pgx.Rows) ([]domain.VoteRecord, error) {
	defer rows.Close()

	var votes []domain.VoteRecord
	for rows.Next() {
		var rec domain.VoteRecord
		var voterKey string
		var anonymous bool
		if err := rows.Scan(&rec.ID, &rec.FilmID, &rec.SessionID, &voterKey, &anonymous, &rec.Rating, &rec.Comment, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		rec.Voter = voterFromKey(voterKey, anonymous)
		votes = append(votes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.TransientStoreError{Op: "scan votes", Err: err}
	}
	return votes, nil
}

func voterFromKey(key string, anonymous bool) domain.Voter {
	const userPrefix, anonPrefix = "user:", "anon:"
	switch {
	case len(key) > len(anonPrefix) && key[:len(anonPrefix)] == anonPrefix:
		return domain.Voter{AnonToken: key[len(anonPrefix):]}
	case len(key) > len(userPrefix) && key[:len(userPrefix)] == userPrefix:
		return domain.Voter{AuthID: key[len(userPrefix):]}
	case anonymous:
		return domain.Voter{AnonToken: key}
	default:
		return domain.Voter{AuthID: key}
	}
}

// wrapWriteError distinguishes a write rejected for referencing an unknown
// film or session from a transient store failure; the former must not be
// retried.
func wrapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: unknown film or session: %w", op, ErrNotFound)
	}
	return &domain.TransientStoreError{Op: op, Err: err}
}
