package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filmfest/votestream/internal/domain"
	"github.com/filmfest/votestream/internal/recordstore"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type voteRequest struct {
	Rating         int    `json:"rating"`
	Comment        string `json:"comment,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	VoterID        string `json:"voterId,omitempty"`
	AnonymityToken string `json:"anonymityToken,omitempty"`
}

type voteResponse struct {
	ID          string    `json:"id"`
	FilmID      string    `json:"filmId"`
	SessionID   string    `json:"sessionId,omitempty"`
	Rating      int       `json:"rating"`
	Anonymous   bool      `json:"anonymous"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type commentResponse struct {
	Comment     string    `json:"comment"`
	SubmittedAt time.Time `json:"submittedAt"`
	Anonymous   bool      `json:"anonymous"`
}

type filmResultResponse struct {
	FilmID             string            `json:"filmId"`
	Title              string            `json:"title"`
	VoteCount          int64             `json:"voteCount"`
	MeanRating         float64           `json:"meanRating"`
	RatingDistribution map[int]int64     `json:"ratingDistribution"`
	Comments           []commentResponse `json:"comments"`
	Rank               int               `json:"rank,omitempty"`
}

type sessionResultsResponse struct {
	SessionID         string               `json:"sessionId"`
	Films             []filmResultResponse `json:"films"`
	TotalVotes        int64                `json:"totalVotes"`
	ParticipationRate float64              `json:"participationRate"`
}

type queueStatusResponse struct {
	Pending       int   `json:"pending"`
	Flushing      bool  `json:"flushing"`
	NextFlushInMs int64 `json:"nextFlushInMs"`
	Abandoned     int   `json:"abandoned"`
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.decodeSubmission(w, r)
	if !ok {
		return
	}

	rec, err := s.submitter.Submit(r.Context(), sub)
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, toVoteResponse(rec))
}

func (s *Server) handleDirectVote(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.decodeSubmission(w, r)
	if !ok {
		return
	}
	sub.SessionID = chi.URLParam(r, "sessionID")

	rec, err := s.submitter.SubmitDirect(r.Context(), sub)
	if err != nil {
		s.respondSubmitError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toVoteResponse(rec))
}

func (s *Server) handleFilmStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.FilmStats(r.Context(), chi.URLParam(r, "filmID"))
	if err != nil {
		s.respondReadError(w, err, "film")
		return
	}
	s.respondJSON(w, http.StatusOK, toFilmResultResponse(result))
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	results, err := s.engine.SessionResults(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondReadError(w, err, "session")
		return
	}

	resp := sessionResultsResponse{
		SessionID:         results.SessionID,
		Films:             make([]filmResultResponse, 0, len(results.Films)),
		TotalVotes:        results.TotalVotes,
		ParticipationRate: results.ParticipationRate,
	}
	for _, film := range results.Films {
		resp.Films = append(resp.Films, toFilmResultResponse(film))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGlobalResults(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	results, err := s.engine.GlobalResults(r.Context())
	if err != nil {
		s.respondReadError(w, err, "festival")
		return
	}

	resp := make([]filmResultResponse, 0, len(results))
	for _, film := range results {
		resp = append(resp, toFilmResultResponse(film))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Status()
	s.respondJSON(w, http.StatusOK, queueStatusResponse{
		Pending:       st.Pending,
		Flushing:      st.Flushing,
		NextFlushInMs: st.NextFlushIn.Milliseconds(),
		Abandoned:     st.Abandoned,
	})
}

// decodeSubmission parses and normalizes the shared vote payload; the film
// id always comes from the route.
func (s *Server) decodeSubmission(w http.ResponseWriter, r *http.Request) (domain.VoteSubmission, bool) {
	var req voteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return domain.VoteSubmission{}, false
	}
	return buildVoteSubmission(chi.URLParam(r, "filmID"), req), true
}

func buildVoteSubmission(filmID string, req voteRequest) domain.VoteSubmission {
	return domain.VoteSubmission{
		FilmID:    filmID,
		SessionID: strings.TrimSpace(req.SessionID),
		Rating:    req.Rating,
		Comment:   req.Comment,
		Voter: domain.Voter{
			AuthID:    strings.TrimSpace(req.VoterID),
			AnonToken: strings.TrimSpace(req.AnonymityToken),
		},
	}
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Reason)
	case errors.Is(err, domain.ErrDuplicateVote):
		s.respondError(w, http.StatusConflict, "DUPLICATE_VOTE", "You already voted for this film")
	case errors.Is(err, recordstore.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown film or session")
	default:
		s.logger.Printf("submit vote error: %v", err)
		s.respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Try again shortly")
	}
}

func (s *Server) respondReadError(w http.ResponseWriter, err error, scope string) {
	if errors.Is(err, recordstore.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Unknown %s", scope))
		return
	}
	s.logger.Printf("aggregate %s results error: %v", scope, err)
	s.respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Results are temporarily unavailable")
}

func toVoteResponse(rec domain.VoteRecord) voteResponse {
	return voteResponse{
		ID:          rec.ID,
		FilmID:      rec.FilmID,
		SessionID:   rec.SessionID,
		Rating:      rec.Rating,
		Anonymous:   rec.IsAnonymous(),
		SubmittedAt: rec.SubmittedAt,
	}
}

func toFilmResultResponse(result domain.AggregatedFilmResult) filmResultResponse {
	comments := make([]commentResponse, 0, len(result.Comments))
	for _, c := range result.Comments {
		comments = append(comments, commentResponse{
			Comment:     c.Comment,
			SubmittedAt: c.SubmittedAt,
			Anonymous:   c.Anonymous,
		})
	}
	return filmResultResponse{
		FilmID:             result.FilmID,
		Title:              result.Title,
		VoteCount:          result.VoteCount,
		MeanRating:         result.MeanRating,
		RatingDistribution: result.RatingDistribution,
		Comments:           comments,
		Rank:               result.Rank,
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected content after JSON body")
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Printf("encode response: %v", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token == s.cfg.AuthToken
}
