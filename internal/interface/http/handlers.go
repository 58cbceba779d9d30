package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gamilit/ranks-engine/config"
	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":        "Ranks Engine API",
		"version":     s.deps.Version,
		"description": "Rank, XP and prestige progression",
		"endpoints": map[string]string{
			"health":   "/health",
			"ranks":    "/api/v1/ranks",
			"progress": "/api/v1/users/{id}/progress",
			"history":  "/api/v1/users/{id}/history",
		},
	}
	respond(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			respond(w, r, http.StatusServiceUnavailable, status)
			return
		}
		respond(w, r, http.StatusOK, status)
		return
	}

	respond(w, r, http.StatusOK, map[string]any{
		"status":   "healthy",
		"uptime":   s.Uptime().String(),
		"sessions": s.deps.Sessions.Len(),
	})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK TABLE
// ══════════════════════════════════════════════════════════════════════════════

// handleListRanks handles GET /api/v1/ranks
func (s *Server) handleListRanks(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.Sessions.Engine().Ranks().Ordered()
	respondPage(w, r, http.StatusOK, defs, &ResponseMeta{TotalCount: len(defs)})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressView is the full read model of one user.
type ProgressView struct {
	progression.Document
	UI          progression.UISignals `json:"ui"`
	IsLoading   bool                  `json:"isLoading"`
	Error       string                `json:"error,omitempty"`
	CanPrestige bool                  `json:"canPrestige"`
	CanRankUp   bool                  `json:"canRankUp"`
}

func progressView(st *ranks.Store) ProgressView {
	return ProgressView{
		Document:    st.Document(),
		UI:          st.UISignals(),
		IsLoading:   st.IsLoading(),
		Error:       st.Error(),
		CanPrestige: st.CanPrestige(),
		CanRankUp:   st.CheckRankUp(),
	}
}

// handleGetProgress handles GET /api/v1/users/{id}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	respond(w, r, http.StatusOK, progressView(st))
}

type addXPRequest struct {
	Amount      int    `json:"amount"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

// handleAddXP handles POST /api/v1/users/{id}/xp
func (s *Server) handleAddXP(w http.ResponseWriter, r *http.Request) {
	var req addXPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	source := progression.XPSource(req.Source)
	if !source.IsValid() {
		fail(w, http.StatusBadRequest, "invalid_source", "Unknown XP source: "+req.Source)
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	if err := st.AddXP(req.Amount, source, req.Description); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, progressView(st))
}

type addCoinsRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// handleAddCoins handles POST /api/v1/users/{id}/coins
func (s *Server) handleAddCoins(w http.ResponseWriter, r *http.Request) {
	var req addCoinsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	if err := st.AddMLCoins(req.Amount, req.Reason); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, progressView(st))
}

type activityRequest struct {
	At *time.Time `json:"at"`
}

// handleRecordActivity handles POST /api/v1/users/{id}/activity
func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	at := s.deps.Sessions.Engine().Now()
	if req.At != nil {
		at = *req.At
	}
	st.RecordActivity(at)
	respond(w, r, http.StatusOK, progressView(st))
}

// handleRankUp handles POST /api/v1/users/{id}/rank-up
func (s *Server) handleRankUp(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	promoted := st.RankUp()
	respondPage(w, r, http.StatusOK, map[string]any{
		"promoted": promoted,
		"progress": progressView(st),
	}, nil)
}

// handlePrestige handles POST /api/v1/users/{id}/prestige
func (s *Server) handlePrestige(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if !s.featureEnabled(config.FeaturePrestige, userID) {
		fail(w, http.StatusForbidden, "feature_disabled", "Prestige is not available")
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	done, err := st.Prestige(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respondPage(w, r, http.StatusOK, map[string]any{
		"prestiged": done,
		"progress":  progressView(st),
	}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// MULTIPLIER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetMultipliers handles GET /api/v1/users/{id}/multipliers
func (s *Server) handleGetMultipliers(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	respondPage(w, r, http.StatusOK, map[string]any{
		"breakdown": st.MultiplierBreakdown(),
		"active":    st.ActiveMultipliers(),
	}, nil)
}

// handleAddMultiplier handles POST /api/v1/users/{id}/multipliers
func (s *Server) handleAddMultiplier(w http.ResponseWriter, r *http.Request) {
	var src progression.MultiplierSource
	if !decodeBody(w, r, &src) {
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	if err := st.AddMultiplierSource(src); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, st.MultiplierBreakdown())
}

// handleRemoveMultiplier handles DELETE /api/v1/users/{id}/multipliers/{type}
func (s *Server) handleRemoveMultiplier(w http.ResponseWriter, r *http.Request) {
	t := progression.MultiplierType(r.PathValue("type"))
	if !t.IsValid() {
		fail(w, http.StatusBadRequest, "invalid_type", "Unknown multiplier type: "+string(t))
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	st.RemoveMultiplierSource(t)
	respond(w, r, http.StatusOK, st.MultiplierBreakdown())
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY & SYNC HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetHistory handles GET /api/v1/users/{id}/history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.config.HistoryLimit)
	if limit <= 0 || limit > s.config.HistoryLimit {
		limit = s.config.HistoryLimit
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	total := len(st.ProgressionHistory())
	entries := st.RecentHistory(limit)
	respondPage(w, r, http.StatusOK, entries, &ResponseMeta{
		TotalCount: total,
		Limit:      limit,
		HasMore:    total > len(entries),
	})
}

// handleListEvents handles GET /api/v1/users/{id}/events
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		fail(w, http.StatusNotImplemented, "not_configured", "Event log requires the postgres driver")
		return
	}
	limit := min(max(queryInt(r, "limit", s.config.HistoryLimit), 1), s.config.HistoryLimit)

	events, err := s.deps.Events.ListEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("list events failed", logger.Err(err))
		fail(w, http.StatusInternalServerError, "internal_error", "Failed to read event log")
		return
	}
	respondPage(w, r, http.StatusOK, events, &ResponseMeta{
		TotalCount: len(events),
		Limit:      limit,
		HasMore:    len(events) == limit,
	})
}

// handleRefresh handles POST /api/v1/users/{id}/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if !s.featureEnabled(config.FeatureRemoteSync, userID) {
		fail(w, http.StatusForbidden, "feature_disabled", "Remote sync is not available")
		return
	}

	st, ok := s.store(w, r)
	if !ok {
		return
	}
	err := st.FetchUserProgress(r.Context())
	switch {
	case err == nil:
		respond(w, r, http.StatusOK, progressView(st))
	case errors.Is(err, ranks.ErrNoRankSource):
		fail(w, http.StatusNotImplemented, "not_configured", "Rank API is not configured")
	case errors.Is(err, shared.ErrStaleFetch):
		fail(w, http.StatusConflict, "stale_fetch", "A newer state superseded this refresh")
	default:
		logger.FromContext(r.Context()).Warn("refresh failed", logger.UserID(userID), logger.Err(err))
		fail(w, http.StatusBadGateway, "upstream_error", st.Error())
	}
}

// handleUIAction handles POST /api/v1/users/{id}/ui/{action}
func (s *Server) handleUIAction(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	switch r.PathValue("action") {
	case "close-rank-up":
		st.CloseRankUpModal()
	case "open-prestige":
		st.OpenPrestigeModal()
	case "close-prestige":
		st.ClosePrestigeModal()
	case "clear-error":
		st.SetError("")
	default:
		fail(w, http.StatusNotFound, "unknown_action", "Unknown UI action")
		return
	}
	respond(w, r, http.StatusOK, st.UISignals())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// store resolves the session of the {id} path value.
func (s *Server) store(w http.ResponseWriter, r *http.Request) (*ranks.Store, bool) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		fail(w, http.StatusBadRequest, "invalid_user", "User ID is required")
		return nil, false
	}
	st, err := s.deps.Sessions.Get(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return st, true
}

func (s *Server) featureEnabled(name, userID string) bool {
	if s.deps.Flags == nil {
		return true
	}
	return s.deps.Flags.IsEnabled(name, userID)
}

// writeDomainError maps domain error kinds to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", requestIDFrom(r.Context())),
			logger.Err(err),
		)
	}
	fail(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrPrestigeRejected):
		return http.StatusConflict, "prestige_rejected"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrStateTransition),
		errors.Is(err, shared.ErrConcurrentModification):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case shared.IsExternalService(err):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody decodes a required JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		fail(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		fail(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return false
	}
	return true
}
