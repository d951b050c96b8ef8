/*
Package server exposes the tag engine over two transports: a JSON HTTP
API for web clients and a msgpack stdin/stdout IPC loop for editor
integrations.

Every HTTP response uses one envelope:

	{"success": true, "data": ...}
	{"success": false, "error": {"code": "RATE_LIMITED", "message": "..."}}

An empty query is a success with an empty list, not an error; clients
clear their suggestion box on it without a special path.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/onephotolife/tagserve/pkg/config"
	"github.com/onephotolife/tagserve/pkg/index"
	"github.com/onephotolife/tagserve/pkg/normalize"
	"github.com/onephotolife/tagserve/pkg/ratelimit"
	"github.com/onephotolife/tagserve/pkg/search"
	"github.com/onephotolife/tagserve/pkg/trending"
)

// Error codes carried in the envelope. Messages stay generic; the cause
// goes to the log, never to the client.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeBackendDown = "BACKEND_UNAVAILABLE"
	CodeNotFound    = "NOT_FOUND"
	CodeInternal    = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success      bool      `json:"success"`
	Data         any       `json:"data,omitempty"`
	Error        *apiError `json:"error,omitempty"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
}

// Server wires the store, search backend, trending aggregator and rate
// limiter behind the HTTP surface.
type Server struct {
	cfg     *config.Config
	store   *index.SQLiteStore
	backend search.Backend
	trends  *trending.Aggregator
	limiter *ratelimit.Limiter
	logger  *log.Logger
}

func NewServer(cfg *config.Config, store *index.SQLiteStore, backend search.Backend, trends *trending.Aggregator, limiter *ratelimit.Limiter, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		backend: backend,
		trends:  trends,
		limiter: limiter,
		logger:  logger,
	}
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	rl := s.cfg.RateLimit
	mux := http.NewServeMux()
	mux.Handle("GET /api/tags/search",
		s.rateLimited("suggest", rl.SuggestWindowMs, rl.SuggestMax, http.HandlerFunc(s.handleSuggest)))
	mux.Handle("GET /api/search",
		s.rateLimited("search", rl.SearchWindowMs, rl.SearchMax, http.HandlerFunc(s.handleSearch)))
	mux.Handle("GET /api/trending",
		s.rateLimited("trending", rl.TrendingWindowMs, rl.TrendingMax, http.HandlerFunc(s.handleTrending)))
	mux.HandleFunc("POST /api/posts", s.handlePostCreate)
	mux.HandleFunc("DELETE /api/posts/{id}", s.handlePostDelete)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withRequestID(s.withLogging(mux))
}

// ListenAndServe runs until ctx is cancelled, then drains with a short
// shutdown grace period. The limiter reaper runs for the same lifetime.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.limiter.StartReaper(ctx, time.Duration(s.cfg.RateLimit.ReapIntervalMs)*time.Millisecond)

	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", s.cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleSuggest is GET /api/tags/search?q=&limit=. The prefix goes
// through the same normalization as stored tags so "﹟Tokyo " and
// "tokyo" hit the same subtree.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	raw := queryParam(r)
	if utf8.RuneCountInString(raw) > s.cfg.Server.MaxQueryLen {
		s.writeError(w, http.StatusBadRequest, CodeValidation, "query too long")
		return
	}
	q := strings.Trim(normalize.Normalize(raw), "# ")
	if q == "" {
		s.writeData(w, http.StatusOK, []search.Hit{})
		return
	}

	limit := s.intParam(r, "limit", 10)
	hits, err := s.backend.Suggest(r.Context(), q, limit)
	if err != nil {
		s.logger.Error("suggest backend", "query", q, "err", err)
		s.writeError(w, http.StatusServiceUnavailable, CodeBackendDown, "suggestions unavailable")
		return
	}
	s.writeData(w, http.StatusOK, hits)
}

// handleSearch is GET /api/search?q=&page=&limit=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	raw := queryParam(r)
	if utf8.RuneCountInString(raw) > s.cfg.Server.MaxQueryLen {
		s.writeError(w, http.StatusBadRequest, CodeValidation, "query too long")
		return
	}
	q := strings.Trim(normalize.Normalize(raw), "# ")
	page := s.intParam(r, "page", 1)
	limit := s.intParam(r, "limit", 20)
	if q == "" {
		s.writeData(w, http.StatusOK, search.Page{
			Items: []search.Item{}, Page: max(page, 1), PageSize: search.ClampLimit(limit),
		})
		return
	}

	result, err := s.backend.Search(r.Context(), q, page, limit)
	if err != nil {
		s.logger.Error("search backend", "query", q, "err", err)
		s.writeError(w, http.StatusServiceUnavailable, CodeBackendDown, "search unavailable")
		return
	}
	s.writeData(w, http.StatusOK, result)
}

// handleTrending is GET /api/trending?days=&limit=. Out-of-range values
// clamp instead of erroring.
func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	days := clamp(s.intParam(r, "days", 7), 1, s.cfg.Trending.MaxDays)
	limit := clamp(s.intParam(r, "limit", 20), 1, s.cfg.Trending.MaxLimit)

	counts, err := s.trends.Aggregate(r.Context(), days, limit)
	if err != nil {
		if errors.Is(err, trending.ErrUnavailable) {
			s.logger.Error("trending source", "err", err)
			s.writeError(w, http.StatusServiceUnavailable, CodeBackendDown, "trending unavailable")
			return
		}
		s.logger.Error("trending", "err", err)
		s.writeError(w, http.StatusInternalServerError, CodeInternal, "trending failed")
		return
	}
	if counts == nil {
		counts = []index.TagCount{}
	}
	s.writeData(w, http.StatusOK, counts)
}

type postRequest struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"createdAt"`
}

type postResponse struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

// handlePostCreate is POST /api/posts. Tags come from the explicit list
// plus hashtags extracted from the text; duplicates collapse to one use.
func (s *Server) handlePostCreate(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}

	createdAt := time.Time{}
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, CodeValidation, "createdAt must be RFC3339")
			return
		}
		createdAt = t
	}

	raw := append([]string{}, req.Tags...)
	for _, ref := range normalize.ExtractHashtags(req.Text) {
		raw = append(raw, ref.Display)
	}

	id, err := s.store.RecordPost(r.Context(), req.ID, raw, createdAt)
	if err != nil {
		s.logger.Error("record post", "err", err)
		s.writeError(w, http.StatusInternalServerError, CodeInternal, "could not record post")
		return
	}

	keys := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		key := normalize.NormalizeTag(t)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	s.writeData(w, http.StatusCreated, postResponse{ID: id, Tags: keys})
}

// handlePostDelete is DELETE /api/posts/{id}. Each tag the post carried
// releases one usage.
func (s *Server) handlePostDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	keys, err := s.store.RemovePost(r.Context(), id)
	if err != nil {
		s.logger.Error("remove post", "id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, CodeInternal, "could not remove post")
		return
	}
	if len(keys) == 0 {
		s.writeError(w, http.StatusNotFound, CodeNotFound, "post not found")
		return
	}
	s.writeData(w, http.StatusOK, postResponse{ID: id, Tags: keys})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryParam accepts both ?q= and ?query= spellings.
func queryParam(r *http.Request) string {
	if q := r.URL.Query().Get("q"); q != "" {
		return q
	}
	return r.URL.Query().Get("query")
}

func (s *Server) intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: message}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}
