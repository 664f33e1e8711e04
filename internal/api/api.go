// Package api exposes classification, ticket indexing and similarity search
// over HTTP. All bodies are JSON:
//
//	POST   /v1/classify              classify a complaint
//	POST   /v1/tickets               store and index a finalized ticket
//	DELETE /v1/tickets/{id}          remove a ticket
//	POST   /v1/tickets/retry         embed tickets stored as pending
//	POST   /v1/similar               find similar tickets
//	POST   /v1/index/rebuild         start an asynchronous index rebuild
//	GET    /v1/index/status          index lifecycle status
//
// Errors are returned as {"error": "..."}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/voxdesk/internal/ingest"
	"github.com/MrWong99/voxdesk/internal/lifecycle"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/textnorm"
	"github.com/MrWong99/voxdesk/internal/triage"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Classifier classifies complaint text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*triage.Result, error)
}

// Tickets indexes finalized tickets and answers similarity queries.
type Tickets interface {
	Index(ctx context.Context, ticketID, text string, createdAt time.Time) error
	Remove(ctx context.Context, ticketID string) error
	RetryPending(ctx context.Context, limit int) (int, error)
	Similar(ctx context.Context, text string, k int, minScore float64) ([]simindex.Result, error)
}

// Builder rebuilds the similarity index.
type Builder interface {
	StartBuild(ctx context.Context) error
	Status() lifecycle.Status
}

// Server holds the HTTP handlers. Register them on a mux with
// [Server.Register].
type Server struct {
	classifier Classifier
	tickets    Tickets
	builder    Builder
}

// New creates a Server.
func New(c Classifier, t Tickets, b Builder) *Server {
	return &Server{classifier: c, tickets: t, builder: b}
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/classify", s.handleClassify)
	mux.HandleFunc("POST /v1/tickets", s.handleIndexTicket)
	mux.HandleFunc("DELETE /v1/tickets/{id}", s.handleRemoveTicket)
	mux.HandleFunc("POST /v1/tickets/retry", s.handleRetryPending)
	mux.HandleFunc("POST /v1/similar", s.handleSimilar)
	mux.HandleFunc("POST /v1/index/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /v1/index/status", s.handleStatus)
}

type classifyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.classifier.Classify(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, textnorm.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		internalError(w, r, "classify failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type indexRequest struct {
	TicketID  string    `json:"ticket_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type indexResponse struct {
	TicketID string `json:"ticket_id"`
	Indexed  bool   `json:"indexed"`
	// Pending is set when the ticket was stored but could not be embedded
	// yet. It becomes searchable after a successful retry or rebuild.
	Pending bool `json:"pending,omitempty"`
}

func (s *Server) handleIndexTicket(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.tickets.Index(r.Context(), req.TicketID, req.Text, req.CreatedAt)
	var dimErr *simindex.DimensionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, indexResponse{TicketID: req.TicketID, Indexed: true})
	case errors.Is(err, ingest.ErrEmbeddingUnavailable):
		writeJSON(w, http.StatusAccepted, indexResponse{TicketID: req.TicketID, Pending: true})
	case errors.Is(err, simindex.ErrEmptyID), errors.Is(err, ingest.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &dimErr):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		internalError(w, r, "index ticket failed", err)
	}
}

func (s *Server) handleRemoveTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.tickets.Remove(r.Context(), r.PathValue("id")); err != nil {
		internalError(w, r, "remove ticket failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type retryRequest struct {
	Limit int `json:"limit"`
}

type retryResponse struct {
	Indexed int `json:"indexed"`
}

func (s *Server) handleRetryPending(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	n, err := s.tickets.RetryPending(r.Context(), req.Limit)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, retryResponse{Indexed: n})
	case errors.Is(err, ingest.ErrEmbeddingUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, struct {
			retryResponse
			Error string `json:"error"`
		}{retryResponse{Indexed: n}, err.Error()})
	default:
		internalError(w, r, "retry pending failed", err)
	}
}

type similarRequest struct {
	Text string `json:"text"`
	K    int    `json:"k"`
	// MinScore defaults to ingest.DefaultMinScore when omitted.
	MinScore *float64 `json:"min_score"`
}

type similarResponse struct {
	Results []simindex.Result `json:"results"`
	// Degraded is set when the query could not be embedded and the empty
	// result reflects that rather than a lack of matches.
	Degraded bool `json:"degraded,omitempty"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if !decode(w, r, &req) {
		return
	}
	minScore := ingest.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	res, err := s.tickets.Similar(r.Context(), req.Text, req.K, minScore)
	switch {
	case err == nil:
		if res == nil {
			res = []simindex.Result{}
		}
		writeJSON(w, http.StatusOK, similarResponse{Results: res})
	case errors.Is(err, ingest.ErrEmbeddingUnavailable):
		observe.Logger(r.Context()).Warn("similarity search degraded", "err", err)
		writeJSON(w, http.StatusOK, similarResponse{Results: []simindex.Result{}, Degraded: true})
	case errors.Is(err, ingest.ErrEmptyText):
		writeError(w, http.StatusBadRequest, err)
	default:
		internalError(w, r, "similarity search failed", err)
	}
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	err := s.builder.StartBuild(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.builder.Status())
	case errors.Is(err, lifecycle.ErrAlreadyBuilding):
		writeJSON(w, http.StatusConflict, struct {
			lifecycle.Status
			Error string `json:"error"`
		}{s.builder.Status(), err.Error()})
	default:
		internalError(w, r, "start rebuild failed", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.builder.Status())
}

// decode reads a JSON body into v. On failure it writes a 400 (or 413) and
// returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, errors.New("request body is empty"))
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		}
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	observe.Logger(r.Context()).Error(msg, "err", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
