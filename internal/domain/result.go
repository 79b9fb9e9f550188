package domain

import "time"

// Film is a catalog entry a vote can target.
type Film struct {
	ID    string
	Title string
}

// CommentSample is one entry of a film's bounded recent-comment sample.
type CommentSample struct {
	Comment     string
	SubmittedAt time.Time
	Anonymous   bool
}

// AggregatedFilmResult is the derived, never-stored summary of a film's
// votes. Rank is assigned only within a requested scope (a session or the
// whole festival) and is zero otherwise.
type AggregatedFilmResult struct {
	FilmID             string
	Title              string
	VoteCount          int64
	MeanRating         float64 // rounded to one decimal
	RatingDistribution map[int]int64
	Comments           []CommentSample // most recent first, bounded
	Rank               int
}

// SessionResults is the ranked leaderboard for one screening session.
// ParticipationRate is an estimate against a fixed expected-voter count,
// not a measurement of actual attendance.
type SessionResults struct {
	SessionID         string
	Films             []AggregatedFilmResult
	TotalVotes        int64
	ParticipationRate float64
}
