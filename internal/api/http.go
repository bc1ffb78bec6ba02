// Package api exposes session context and search over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/stratctx/internal/backup"
	"github.com/kalambet/stratctx/internal/search"
	"github.com/kalambet/stratctx/internal/sessionctx"
)

const maxBodySize = 1 << 20

// Sessions is the session context surface served by the API.
type Sessions interface {
	StartSession(ctx context.Context, sessionType string) (string, error)
	UpdateSessionContext(ctx context.Context, sessionID string, u sessionctx.ContextUpdate) bool
	BackupSessionContext(ctx context.Context, sessionID string) bool
	EndSession(ctx context.Context, sessionID string) bool
	GetRecentSessions(ctx context.Context, hours int) []sessionctx.SessionSummary
	RestoreSessionContext(ctx context.Context, sessionID string) (sessionctx.Context, bool)
	SessionQuality(ctx context.Context, sessionID string) (float64, bool)
	ValidateContextCompleteness(ctx context.Context, sessionID string) []sessionctx.Gap
	ListContextGaps(ctx context.Context, sessionID string) []sessionctx.Gap
	RecoverSession(ctx context.Context) sessionctx.Recovery
}

// Searcher is the search surface served by the API.
type Searcher interface {
	Search(ctx context.Context, q search.Query) []search.Result
	FindStrategicThemes(ctx context.Context, theme string, minRelevance float64) []search.Result
	CacheStats() search.CacheStats
}

// BackupStatus reports on the periodic backup worker.
type BackupStatus interface {
	Status() backup.Status
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Sessions Sessions
	Search   Searcher
	Backup   BackupStatus // optional
	Token    string       // empty disables auth
	// DefaultSessionType is used when POST /sessions omits one.
	DefaultSessionType string
}

// NewHandler builds the HTTP router. /health is served without auth.
func NewHandler(deps Deps) http.Handler {
	if deps.DefaultSessionType == "" {
		deps.DefaultSessionType = "strategic_leadership"
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/sessions", handleStartSession(deps))
		r.Get("/sessions/recent", handleRecentSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Put("/sessions/{id}/context", handleUpdateContext(deps))
		r.Post("/sessions/{id}/backup", handleBackup(deps))
		r.Post("/sessions/{id}/end", handleEnd(deps))
		r.Get("/sessions/{id}/gaps", handleListGaps(deps))
		r.Post("/sessions/{id}/validate", handleValidate(deps))
		r.Post("/recovery", handleRecovery(deps))
		r.Post("/search", handleSearch(deps))
		r.Get("/search/cache", handleCacheStats(deps))
	})
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Backup != nil {
			resp["backup"] = deps.Backup.Status()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type startSessionRequest struct {
	SessionType string `json:"session_type"`
}

func handleStartSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startSessionRequest
		if r.ContentLength != 0 {
			if !decodeBody(w, r, &req) {
				return
			}
		}
		if req.SessionType == "" {
			req.SessionType = deps.DefaultSessionType
		}
		id, err := deps.Sessions.StartSession(r.Context(), req.SessionType)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to start session: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"session_id": id, "session_type": req.SessionType})
	}
}

func handleRecentSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := parseIntParam(r, "hours", 24, 24*365)
		sessions := deps.Sessions.GetRecentSessions(r.Context(), hours)
		if sessions == nil {
			sessions = []sessionctx.SessionSummary{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

type sessionResponse struct {
	SessionID    string             `json:"session_id"`
	QualityScore float64            `json:"context_quality_score"`
	Context      sessionctx.Context `json:"context"`
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, ok := deps.Sessions.RestoreSessionContext(r.Context(), id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		quality, _ := deps.Sessions.SessionQuality(r.Context(), id)
		writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, QualityScore: quality, Context: c})
	}
}

type updateContextRequest struct {
	sessionctx.ContextUpdate
	Scoring string `json:"scoring"`
}

func handleUpdateContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req updateContextRequest
		if !decodeBody(w, r, &req) {
			return
		}
		scoring, err := sessionctx.ParseScoring(req.Scoring)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		u := req.ContextUpdate
		u.Scoring = scoring
		if !deps.Sessions.UpdateSessionContext(r.Context(), id, u) {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found or not updated", id)
			return
		}
		quality, _ := deps.Sessions.SessionQuality(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "context_quality_score": quality})
	}
}

// sessionAction runs a bool-returning session operation after confirming the
// session exists.
func sessionAction(deps Deps, status string, op func(ctx context.Context, id string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Sessions.SessionQuality(r.Context(), id); !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		if !op(r.Context(), id) {
			httpError(w, http.StatusInternalServerError, "storage_error", "session %s: %s failed", id, status)
			return
		}
		quality, _ := deps.Sessions.SessionQuality(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "context_quality_score": quality})
	}
}

func handleBackup(deps Deps) http.HandlerFunc {
	return sessionAction(deps, "backed_up", deps.Sessions.BackupSessionContext)
}

func handleEnd(deps Deps) http.HandlerFunc {
	return sessionAction(deps, "ended", deps.Sessions.EndSession)
}

func handleListGaps(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gaps := deps.Sessions.ListContextGaps(r.Context(), chi.URLParam(r, "id"))
		if gaps == nil {
			gaps = []sessionctx.Gap{}
		}
		writeJSON(w, http.StatusOK, gaps)
	}
}

func handleValidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := deps.Sessions.SessionQuality(r.Context(), id); !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
			return
		}
		gaps := deps.Sessions.ValidateContextCompleteness(r.Context(), id)
		if gaps == nil {
			gaps = []sessionctx.Gap{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"gaps":   gaps,
			"prompt": sessionctx.GenerateRecoveryPrompt(gaps),
		})
	}
}

func handleRecovery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Sessions.RecoverSession(r.Context()))
	}
}

type searchRequest struct {
	search.Query
	SearchType string `json:"search_type"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		t := search.DecisionContext
		if req.SearchType != "" {
			var err error
			if t, err = search.ParseSearchType(req.SearchType); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		q := req.Query
		q.Type = t
		results := deps.Search.Search(r.Context(), q)
		if results == nil {
			results = []search.Result{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"search_type": t.String(),
			"results":     results,
		})
	}
}

func handleCacheStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Search.CacheStats())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
