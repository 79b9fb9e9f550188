package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Rating bounds and the post-trim comment cap enforced before a vote may
// enter the submission queue.
const (
	MinRating     = 1
	MaxRating     = 5
	MaxCommentLen = 500
)

// Voter identifies who cast a vote: an authenticated voter id, or a
// client-generated anonymity token persisted on the voter's device.
// Exactly one of the two must be set.
type Voter struct {
	AuthID    string
	AnonToken string
}

// IsAnonymous reports whether the voter has no authenticated identity.
func (v Voter) IsAnonymous() bool {
	return v.AuthID == ""
}

// Key returns the deterministic store identity for the voter. The prefix
// keeps the authenticated and anonymous namespaces from colliding.
func (v Voter) Key() string {
	if v.AuthID != "" {
		return "user:" + v.AuthID
	}
	return "anon:" + v.AnonToken
}

// VoteRecord is one immutable rating event for a film. A committed record
// is never mutated; at most one record exists per (FilmID, Voter.Key()).
type VoteRecord struct {
	ID          string
	FilmID      string
	SessionID   string // empty for votes not attached to a screening
	Rating      int
	Comment     string
	Voter       Voter
	SubmittedAt time.Time
}

// IsAnonymous reports whether the record was cast without an authenticated id.
func (r VoteRecord) IsAnonymous() bool {
	return r.Voter.IsAnonymous()
}

// VoteSubmission is the raw payload accepted from a client before a
// VoteRecord exists.
type VoteSubmission struct {
	FilmID    string `validate:"required"`
	SessionID string
	Rating    int    `validate:"gte=1,lte=5"`
	Comment   string `validate:"max=500"`
	Voter     Voter
}

var validate = validator.New()

// NewVoteRecord validates a submission and mints the canonical record,
// assigning its id and submission timestamp. It returns a *ValidationError
// for any payload that must never reach the queue.
func NewVoteRecord(sub VoteSubmission, now time.Time) (VoteRecord, error) {
	sub.FilmID = strings.TrimSpace(sub.FilmID)
	sub.Comment = strings.TrimSpace(sub.Comment)

	if sub.Voter.AuthID == "" && sub.Voter.AnonToken == "" {
		return VoteRecord{}, &ValidationError{Field: "voter", Reason: "an authenticated voter id or an anonymity token is required"}
	}
	if sub.Voter.AuthID != "" && sub.Voter.AnonToken != "" {
		return VoteRecord{}, &ValidationError{Field: "voter", Reason: "voter id and anonymity token are mutually exclusive"}
	}

	if err := validate.Struct(sub); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return VoteRecord{}, newFieldError(fieldErrs[0])
		}
		return VoteRecord{}, &ValidationError{Field: "submission", Reason: err.Error()}
	}

	return VoteRecord{
		ID:          uuid.NewString(),
		FilmID:      sub.FilmID,
		SessionID:   strings.TrimSpace(sub.SessionID),
		Rating:      sub.Rating,
		Comment:     sub.Comment,
		Voter:       sub.Voter,
		SubmittedAt: now,
	}, nil
}

func newFieldError(fe validator.FieldError) *ValidationError {
	switch fe.Field() {
	case "FilmID":
		return &ValidationError{Field: "filmId", Reason: "film id is required"}
	case "Rating":
		return &ValidationError{Field: "rating", Reason: "rating must be an integer between 1 and 5"}
	case "Comment":
		return &ValidationError{Field: "comment", Reason: "comment must be at most 500 characters"}
	default:
		return &ValidationError{Field: fe.Field(), Reason: "invalid value"}
	}
}
