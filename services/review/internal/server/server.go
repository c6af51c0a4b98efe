// Package server exposes the review API over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dessincoach/internal/ratelimit"
	"dessincoach/internal/servicetoken"
	"dessincoach/internal/usertoken"
	"dessincoach/internal/util"
	"dessincoach/pkg/domain"
	"dessincoach/pkg/store"
	"dessincoach/services/review/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	InternalVerify *servicetoken.Verifier
	SubmitLimiter  *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the review service.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	internalVerify *servicetoken.Verifier
	submitLimiter  *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		internalVerify: cfg.InternalVerify,
		submitLimiter:  cfg.SubmitLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("review", s.trustedProxies, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/uploads", s.withUser(s.handleCreateUpload))
	s.mux.Handle("/reviews", s.withUser(s.handleReviews))
	s.mux.Handle("/reviews/", s.withUser(s.handleReviewByID))
	s.mux.Handle("/rank", s.withUser(s.handleRank))
	s.mux.Handle("/rank/history", s.withUser(s.handleRankHistory))

	s.mux.Handle("/internal/reviews/", s.withInternal(s.handleInternalReview))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "user auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalVerify == nil {
			writeError(w, http.StatusInternalServerError, "internal auth not configured")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.internalVerify.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitReview(w, r, userID)
	case http.MethodGet:
		s.handleListReviews(w, r, userID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request, userID string) {
	if s.submitLimiter != nil && !s.submitLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "too many submissions")
		return
	}
	var req struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := s.app.SubmitReview(r.Context(), userID, req.ImageURL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request, userID string) {
	query := r.URL.Query()
	filter := store.TaskFilter{Tag: strings.TrimSpace(query.Get("tag"))}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := parseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		filter.From = from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		filter.To = to
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := s.app.ListReviews(r.Context(), userID, limit, filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": tasks})
}

func (s *Server) handleReviewByID(w http.ResponseWriter, r *http.Request, userID string) {
	taskID := strings.TrimPrefix(r.URL.Path, "/reviews/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		task, err := s.app.GetReview(r.Context(), userID, taskID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := s.app.DeleteReview(r.Context(), userID, taskID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	record, err := s.app.GetRank(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":           record.UserID,
		"rank":             record.CurrentRank,
		"rankLabel":        record.CurrentRank.Label(),
		"latestScore":      record.LatestScore,
		"totalSubmissions": record.TotalSubmissions,
	})
}

func (s *Server) handleRankHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := s.app.RankHistory(r.Context(), userID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := s.app.CreateUploadURL(r.Context(), userID, req.Filename)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// handleInternalReview serves POST /internal/reviews/{id}/example, the
// completion callback from the example image enricher.
func (s *Server) handleInternalReview(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/internal/reviews/")
	taskID, action, ok := strings.Cut(rest, "/")
	if !ok || taskID == "" || action != "example" {
		writeError(w, http.StatusNotFound, "review not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		ExampleImageURL string `json:"exampleImageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := s.app.CompleteEnrichment(r.Context(), taskID, req.ExampleImageURL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func parseStatus(raw string) (domain.TaskStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(domain.TaskPending):
		return domain.TaskPending, true
	case string(domain.TaskProcessing):
		return domain.TaskProcessing, true
	case string(domain.TaskCompleted):
		return domain.TaskCompleted, true
	case string(domain.TaskFailed):
		return domain.TaskFailed, true
	default:
		return "", false
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "review not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "REVIEW_FORBIDDEN"
	case http.StatusNotFound:
		return "REVIEW_NOT_FOUND"
	case http.StatusConflict:
		return "REVIEW_CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusBadRequest:
		return "REVIEW_INVALID_INPUT"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
