// File: api/server.go
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"polling-backend/encryption"
	"polling-backend/ledger"
	"polling-backend/ledger/chain"
	"polling-backend/models"
	"polling-backend/service"
)

// ChainInspector exposes the blocks of a hash-chained ledger.
type ChainInspector interface {
	Blocks() []*chain.Block
	Validate() error
}

type Server struct {
	polls    *service.PollingService
	blobs    ledger.BlobStore
	chain    ChainInspector
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	router   *mux.Router
}

type CreateTopicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type CastVoteRequest struct {
	Direction string `json:"direction"`
}

type SubmitFeedbackRequest struct {
	TopicID uint64 `json:"topicId"`
	Content string `json:"content"`
}

type RevealRequest struct {
	Token string `json:"token"`
}

type RevealResponse struct {
	Token string `json:"token"`
	Value uint64 `json:"value"`
}

type TopicView struct {
	models.Topic
	SupportPercent float64 `json:"supportPercent"`
	OpposePercent  float64 `json:"opposePercent"`
}

type HealthResponse struct {
	LedgerAvailable bool   `json:"ledger_available"`
	Challenge       string `json:"challenge"`
}

type BlockInfo struct {
	Index      uint64 `json:"index"`
	Timestamp  int64  `json:"timestamp"`
	Key        string `json:"key"`
	DataSize   int    `json:"data_size"`
	Signer     string `json:"signer"`
	PrevHash   string `json:"prev_hash"`
	Hash       string `json:"hash"`
	Nonce      uint64 `json:"nonce"`
	Difficulty uint8  `json:"difficulty"`
}

type ChainInfo struct {
	Length   int         `json:"length"`
	IsValid  bool        `json:"is_valid"`
	Error    string      `json:"error,omitempty"`
	LastHash string      `json:"last_hash"`
	Blocks   []BlockInfo `json:"blocks"`
}

// NewServer wires the routes. inspector and gatherer may be nil.
func NewServer(polls *service.PollingService, blobs ledger.BlobStore, inspector ChainInspector, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		polls:    polls,
		blobs:    blobs,
		chain:    inspector,
		gatherer: gatherer,
		logger:   logger,
		router:   mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/topics", s.handleGetTopics).Methods(http.MethodGet)
	api.HandleFunc("/topics", s.handleCreateTopic).Methods(http.MethodPost)
	api.HandleFunc("/topics/{id:[0-9]+}", s.handleGetTopic).Methods(http.MethodGet)
	api.HandleFunc("/topics/{id:[0-9]+}/votes", s.handleCastVote).Methods(http.MethodPost)
	api.HandleFunc("/feedbacks", s.handleGetFeedbacks).Methods(http.MethodGet)
	api.HandleFunc("/feedbacks", s.handleSubmitFeedback).Methods(http.MethodPost)
	api.HandleFunc("/reveal", s.handleReveal).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleGetStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleGetStats).Methods(http.MethodGet)
	api.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if inspector != nil {
		api.HandleFunc("/ledger/blocks", s.handleGetBlocks).Methods(http.MethodGet)
	}

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router.Use(s.logRequests)
	return s
}

// ServeHTTP lets the server be mounted as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on port until ctx is done.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", port).Msg("starting server")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request served")
	})
}

func (s *Server) handleGetTopics(w http.ResponseWriter, r *http.Request) {
	topics := s.polls.Topics()
	views := make([]TopicView, 0, len(topics))
	for _, topic := range topics {
		views = append(views, newTopicView(topic))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid topic id", http.StatusBadRequest)
		return
	}
	topic, ok := s.polls.Topic(id)
	if !ok {
		http.Error(w, "Topic not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newTopicView(topic))
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	topic, err := s.polls.CreateTopic(r.Context(), req.Title, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTopicView(topic))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid topic id", http.StatusBadRequest)
		return
	}

	var req CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	direction, err := models.ParseVoteDirection(req.Direction)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	topic, err := s.polls.CastVote(r.Context(), id, direction)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTopicView(topic))
}

func (s *Server) handleGetFeedbacks(w http.ResponseWriter, r *http.Request) {
	var topicID uint64
	if raw := r.URL.Query().Get("topicId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid topic id", http.StatusBadRequest)
			return
		}
		topicID = id
	}
	writeJSON(w, http.StatusOK, s.polls.Feedbacks(topicID))
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req SubmitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	feedback, err := s.polls.SubmitFeedback(r.Context(), req.TopicID, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feedback)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	value, err := s.polls.RequestDecryption(r.Context(), req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevealResponse{Token: req.Token, Value: value})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.polls.Status())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.polls.Stats())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.polls.Load(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.polls.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		LedgerAvailable: s.blobs.IsAvailable(r.Context()),
		Challenge:       s.polls.Challenge(),
	}
	code := http.StatusOK
	if !resp.LedgerAvailable {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := s.chain.Blocks()
	info := ChainInfo{
		Length:  len(blocks),
		IsValid: true,
		Blocks:  make([]BlockInfo, 0, len(blocks)),
	}
	if err := s.chain.Validate(); err != nil {
		info.IsValid = false
		info.Error = err.Error()
	}
	for _, b := range blocks {
		info.Blocks = append(info.Blocks, BlockInfo{
			Index:      b.Index,
			Timestamp:  b.Timestamp,
			Key:        b.Key,
			DataSize:   len(b.Data),
			Signer:     b.Signer,
			PrevHash:   hex.EncodeToString(b.PrevHash),
			Hash:       hex.EncodeToString(b.Hash),
			Nonce:      b.Nonce,
			Difficulty: b.Difficulty,
		})
	}
	if len(blocks) > 0 {
		info.LastHash = hex.EncodeToString(blocks[len(blocks)-1].Hash)
	}
	writeJSON(w, http.StatusOK, info)
}

// writeError maps the error taxonomy to status codes. The body carries the
// same text the operation status shows.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	message := err.Error()

	var writeErr *ledger.WriteError
	switch {
	case errors.Is(err, service.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, models.ErrValidation), errors.Is(err, encryption.ErrDecode):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthenticated):
		code = http.StatusUnauthorized
		message = "Please connect wallet first"
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case service.ClassifyError(err) == service.ErrorUserRejected:
		code = http.StatusForbidden
		message = "Transaction rejected by user"
	case errors.As(err, &writeErr):
		code = http.StatusBadGateway
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("code", code).Msg("request failed")
	}
	http.Error(w, message, code)
}

func newTopicView(topic models.Topic) TopicView {
	support, oppose := topic.Percentages()
	return TopicView{Topic: topic, SupportPercent: support, OpposePercent: oppose}
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
