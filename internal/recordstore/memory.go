package recordstore

import (
	"context"
	"sync"

	"github.com/filmfest/votestream/internal/domain"
)

// Memory is an in-memory record store with the same contract as Postgres.
// It backs tests and lets the queue, engine, and handlers run without a
// database. Writes honor the deterministic (film, voter) key: a conflicting
// record is a no-op, never a second row.
type Memory struct {
	mu        sync.Mutex
	votes     []domain.VoteRecord
	voteIndex map[string]struct{} // filmID + "\x00" + voterKey
	films     []domain.Film
	sessions  map[string][]string

	writeErr        error
	groupWriteCalls int
}

// NewMemory constructs an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{
		voteIndex: make(map[string]struct{}),
		sessions:  make(map[string][]string),
	}
}

// FailWrites makes subsequent GroupWrite and SingleWrite calls fail with the
// given error until cleared with a nil argument.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// GroupWriteCalls reports how many grouped commits have been attempted.
func (m *Memory) GroupWriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupWriteCalls
}

// AddFilm registers a catalog entry.
func (m *Memory) AddFilm(film domain.Film) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.films = append(m.films, film)
}

// AddSession registers a session with its films in programme order.
func (m *Memory) AddSession(sessionID string, filmIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append([]string(nil), filmIDs...)
}

// GroupWrite commits all records atomically; conflicting records are no-ops.
func (m *Memory) GroupWrite(ctx context.Context, records []domain.VoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.groupWriteCalls++
	if m.writeErr != nil {
		return &domain.TransientStoreError{Op: "group write", Err: m.writeErr}
	}
	for _, rec := range records {
		m.insertLocked(rec)
	}
	return nil
}

// SingleWrite commits one record; false reports a (film, voter) conflict.
func (m *Memory) SingleWrite(ctx context.Context, rec domain.VoteRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return false, &domain.TransientStoreError{Op: "single write", Err: m.writeErr}
	}
	return m.insertLocked(rec), nil
}

func (m *Memory) insertLocked(rec domain.VoteRecord) bool {
	key := rec.FilmID + "\x00" + rec.Voter.Key()
	if _, ok := m.voteIndex[key]; ok {
		return false
	}
	m.voteIndex[key] = struct{}{}
	m.votes = append(m.votes, rec)
	return true
}

// HasVote reports whether a committed vote exists for the (film, voter) pair.
func (m *Memory) HasVote(ctx context.Context, filmID, voterKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.voteIndex[filmID+"\x00"+voterKey]
	return ok, nil
}

// VotesByFilm returns the committed votes for a film in insertion order.
func (m *Memory) VotesByFilm(ctx context.Context, filmID string) ([]domain.VoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.VoteRecord
	for _, rec := range m.votes {
		if rec.FilmID == filmID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AllVotes returns every committed vote in insertion order.
func (m *Memory) AllVotes(ctx context.Context) ([]domain.VoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.VoteRecord(nil), m.votes...), nil
}

// Film resolves one catalog entry.
func (m *Memory) Film(ctx context.Context, filmID string) (domain.Film, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, film := range m.films {
		if film.ID == filmID {
			return film, nil
		}
	}
	return domain.Film{}, ErrNotFound
}

// SessionFilms returns a session's film ids in programme order.
func (m *Memory) SessionFilms(ctx context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filmIDs, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), filmIDs...), nil
}

// AllFilms returns the catalog in insertion order.
func (m *Memory) AllFilms(ctx context.Context) ([]domain.Film, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Film(nil), m.films...), nil
}
