package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iius-rcox/safetyamp-sync/internal/httpserver"
	"github.com/iius-rcox/safetyamp-sync/internal/model"
	"github.com/iius-rcox/safetyamp-sync/pkg/apitracker"
)

const healthCheckTimeout = 5 * time.Second

// =====================
// Liveness / readiness / health
// =====================

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.ShuttingDown() {
		httpserver.Respond(w, http.StatusOK, map[string]any{"status": "draining"})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ShuttingDown() {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "shutting_down", "server is draining")
		return
	}
	if !s.deps.Cache.Healthy(r.Context()) {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "cache_unavailable", "cache store is unreachable")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": "ready"})
}

type dependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) checkDependencies(ctx context.Context) []dependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	checks := []dependencyStatus{
		{Name: "cache", Healthy: s.deps.Cache.Healthy(ctx)},
	}

	if s.deps.SafetyAmp != nil {
		err := s.deps.SafetyAmp.Get(ctx, "/api/users?limit=1", nil, "")
		checks = append(checks, dependencyStatus{Name: "safetyamp", Healthy: err == nil, Error: errString(err)})
	}
	if s.deps.Samsara != nil {
		err := s.deps.Samsara.Get(ctx, "/fleet/vehicles?limit=1", nil, "")
		checks = append(checks, dependencyStatus{Name: "samsara", Healthy: err == nil, Error: errString(err)})
	}

	return checks
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ShuttingDown() {
		httpserver.Respond(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "reason": "shutting_down"})
		return
	}

	checks := s.checkDependencies(r.Context())
	status := "healthy"
	for _, c := range checks {
		if !c.Healthy {
			status = "degraded"
			break
		}
	}

	var lastSync time.Time
	var lastSyncID string
	var inProgress bool
	if s.deps.Orchestrator != nil {
		lastSync = s.deps.Orchestrator.LastRun()
		inProgress = s.deps.Orchestrator.InProgress()
	}
	if s.deps.Events != nil {
		if _, id, err := s.deps.Events.LastSessionSummary(); err == nil {
			lastSyncID = id
		}
	}

	var recentErrors []model.ErrorEvent
	if s.deps.Notifier != nil {
		errs := s.deps.Notifier.Since(24 * time.Hour)
		if len(errs) > 5 {
			errs = errs[len(errs)-5:]
		}
		recentErrors = errs
	}

	var failedSummary map[string]int
	if s.deps.Failures != nil {
		byEntityType, _, err := s.deps.Failures.Stats(r.Context())
		if err == nil {
			failedSummary = byEntityType
		}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":             status,
		"dependencies":       checks,
		"last_sync":          lastSync,
		"last_sync_id":       lastSyncID,
		"sync_in_progress":   inProgress,
		"recent_errors":      recentErrors,
		"failed_by_entity":   failedSummary,
	})
}

// =====================
// Read-only aggregations
// =====================

func (s *Server) handleSyncMetrics(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Events.RecentSessions(20)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	sessions, err := s.deps.Events.RecentSessions(0)
	if err != nil {
		sessions = nil
	}
	total := len(sessions)
	end := params.Offset + params.PageSize
	if params.Offset >= total {
		httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(sessions[:0], params, total))
		return
	}
	if end > total {
		end = total
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(sessions[params.Offset:end], params, total))
}

func (s *Server) handleAPICalls(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if s.deps.APICalls == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"calls": []any{}, "count": 0})
		return
	}
	filter := apitracker.Filter{
		Service:       r.URL.Query().Get("service"),
		Method:        r.URL.Query().Get("method"),
		ErrorsOnly:    r.URL.Query().Get("errors_only") == "true",
		CorrelationID: r.URL.Query().Get("correlation_id"),
	}
	records, err := s.deps.APICalls.Recent(r.Context(), params.Offset+params.PageSize, filter)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"calls": []any{}, "count": 0})
		return
	}
	if params.Offset < len(records) {
		end := params.Offset + params.PageSize
		if end > len(records) {
			end = len(records)
		}
		records = records[params.Offset:end]
	} else {
		records = nil
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"calls": records, "count": len(records)})
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.APICalls == nil {
		httpserver.Respond(w, http.StatusOK, apitracker.Stats{ByService: map[string]int{}})
		return
	}
	stats, err := s.deps.APICalls.Compute(r.Context())
	if err != nil {
		httpserver.Respond(w, http.StatusOK, apitracker.Stats{ByService: map[string]int{}})
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}

func (s *Server) handleErrorSuggestions(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := parseHours(v); err == nil && n > 0 {
			hours = n
		}
	}
	suggestions, err := analyzeErrors(r.Context(), s.deps.Notifier, s.deps.Failures, time.Duration(hours)*time.Hour)
	if err != nil {
		s.deps.Logger.Error("error analyzer failed", "error", err)
		httpserver.Respond(w, http.StatusOK, map[string]any{"suggestions": []any{}, "total": 0, "error": "internal error"})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"suggestions": suggestions, "total": len(suggestions)})
}

func parseHours(v string) (int, error) {
	return strconv.Atoi(v)
}

func (s *Server) handleEntityCounts(w http.ResponseWriter, r *http.Request) {
	_, id, err := s.deps.Events.LastSessionSummary()
	if err != nil || id == "" {
		httpserver.Respond(w, http.StatusOK, map[string]any{"counts": map[string]int{}})
		return
	}
	sessions, err := s.deps.Events.RecentSessions(1)
	if err != nil || len(sessions) == 0 {
		httpserver.Respond(w, http.StatusOK, map[string]any{"counts": map[string]int{}})
		return
	}
	last := sessions[0]
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"sync_type": last.SyncType,
		"counts":    last.Summary,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	names := []string{"clusters", "sites", "titles", "users", "assets"}
	stats, err := s.deps.Cache.Stats(r.Context(), names)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"caches": []any{}})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"caches": stats})
}

func (s *Server) handleDurationTrends(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Events.RecentSessions(50)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"trends": []any{}})
		return
	}
	type point struct {
		SessionID  string  `json:"session_id"`
		SyncType   string  `json:"sync_type"`
		DurationMS float64 `json:"duration_ms"`
		Processed  int     `json:"processed"`
	}
	trends := make([]point, 0, len(sessions))
	for _, sess := range sessions {
		if sess.EndedAt.IsZero() {
			continue
		}
		trends = append(trends, point{
			SessionID:  sess.ID,
			SyncType:   sess.SyncType,
			DurationMS: float64(sess.EndedAt.Sub(sess.StartedAt).Milliseconds()),
			Processed:  sess.Summary.Processed,
		})
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"trends": trends})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	paused, pausedBy, pausedAt, _ := s.deps.Cache.Paused(r.Context())
	inProgress := false
	var lastRun time.Time
	if s.deps.Orchestrator != nil {
		inProgress = s.deps.Orchestrator.InProgress()
		lastRun = s.deps.Orchestrator.LastRun()
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"paused":           paused,
		"paused_by":        pausedBy,
		"paused_at":        pausedAt,
		"sync_in_progress": inProgress,
		"last_run":         lastRun,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	summary, id, err := s.deps.Events.LastSessionSummary()
	inProgress := s.deps.Events.InProgress()
	resp := map[string]any{"in_progress": inProgress}
	if err == nil && id != "" {
		resp["last_session_id"] = id
		resp["last_summary"] = summary
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (s *Server) handleDependencyHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{"dependencies": s.checkDependencies(r.Context())})
}

func (s *Server) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"sync_interval_minutes":    cfg.SyncIntervalMinutes,
		"vista_refresh_minutes":    cfg.VistaRefreshMinutes,
		"cache_ttl_hours":          cfg.CacheTTLHours,
		"api_rate_limit_calls":     cfg.APIRateLimitCalls,
		"api_rate_limit_period":    cfg.APIRateLimitPeriod,
		"max_retry_attempts":       cfg.MaxRetryAttempts,
		"failed_sync_ttl_days":     cfg.FailedSyncTTLDays,
		"failed_sync_enabled":      cfg.FailedSyncTrackerEnabled,
		"safety_stop_threshold":    cfg.SafetyStopThreshold,
		"default_site_id":          cfg.DefaultSiteID,
		"default_vehicle_asset_id": cfg.DefaultVehicleAssetType,
		"slack_configured":         cfg.SlackBotToken != "",
		"graph_configured":         cfg.GraphClientID != "",
		"dashboard_auth_enabled":   cfg.DashboardAPIToken != "",
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notifier == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"errors": []any{}})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"errors": s.deps.Notifier.Since(7 * 24 * time.Hour)})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"entries": s.deps.Audit.Recent(200)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Events.RecentSessions(0)
	if err != nil {
		sessions = nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="sync_sessions.json"`)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sessions)
}

// =====================
// Failed records
// =====================

func (s *Server) handleListFailedRecords(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	records, total, err := s.deps.Failures.List(r.Context(), params.Offset, params.PageSize)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage([]model.FailureRecord{}, params, 0))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(records, params, total))
}

func (s *Server) handleRetryFailedRecord(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")
	if err := s.deps.Failures.MarkForRetry(r.Context(), entityType, entityID); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	s.audit(r, "retry_failed_record", entityType+"/"+entityID)
	httpserver.Respond(w, http.StatusOK, map[string]any{"retried": true})
}

func (s *Server) handleDismissFailedRecord(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")
	if err := s.deps.Failures.DismissRecord(r.Context(), entityType, entityID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.audit(r, "dismiss_failed_record", entityType+"/"+entityID)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type retryAllRequest struct {
	EntityType string `json:"entity_type"`
}

func (s *Server) handleRetryAllFailedRecords(w http.ResponseWriter, r *http.Request) {
	var req retryAllRequest
	_ = httpserver.Decode(r, &req)
	count, err := s.deps.Failures.MarkAllForRetry(r.Context(), req.EntityType)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.audit(r, "retry_all_failed_records", req.EntityType)
	httpserver.Respond(w, http.StatusOK, map[string]any{"retried": count})
}

func (s *Server) handleSyncDiff(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	sessions, err := s.deps.Events.RecentSessions(50)
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"diff": nil})
		return
	}
	for _, sess := range sessions {
		for _, pool := range [][]model.Event{sess.Updated, sess.Created} {
			for i := len(pool) - 1; i >= 0; i-- {
				ev := pool[i]
				if ev.EntityType == entityType && ev.EntityID == entityID {
					httpserver.Respond(w, http.StatusOK, map[string]any{
						"session_id": sess.ID,
						"timestamp":  ev.Timestamp,
						"operation":  ev.Operation,
						"changes":    ev.Changes,
						"original":   ev.OriginalData,
						"payload":    ev.Payload,
					})
					return
				}
			}
		}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"diff": nil})
}

// =====================
// Cache control
// =====================

type cacheActionRequest struct {
	Name   string `json:"name"`
	SubKey string `json:"sub_key"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req cacheActionRequest
	if err := httpserver.Decode(r, &req); err != nil || req.Name == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	if err := s.deps.Cache.Invalidate(r.Context(), req.Name, req.SubKey); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.audit(r, "cache_invalidate", req.Name)
	httpserver.Respond(w, http.StatusOK, map[string]any{"invalidated": req.Name})
}

func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	var req cacheActionRequest
	if err := httpserver.Decode(r, &req); err != nil || req.Name == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	// A refresh is an invalidate-now: the next loadReference call
	// repopulates it through the normal stampede-protected path.
	if err := s.deps.Cache.Invalidate(r.Context(), req.Name, req.SubKey); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.audit(r, "cache_refresh", req.Name)
	httpserver.Respond(w, http.StatusOK, map[string]any{"refreshed": req.Name})
}

// =====================
// Sync control
// =====================

type triggerSyncRequest struct {
	SyncType string `json:"sync_type" validate:"required,oneof=all employees vehicles departments jobs titles"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if s.deps.Orchestrator == nil || !s.deps.Orchestrator.Trigger(req.SyncType) {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "trigger_queue_full", "manual trigger queue is full, try again shortly")
		return
	}
	s.audit(r, "trigger_sync", req.SyncType)
	httpserver.Respond(w, http.StatusAccepted, map[string]any{"queued": req.SyncType})
}

var pausedByRe = regexp.MustCompile(`^[\w@.\-]{0,64}$`)

type syncPauseRequest struct {
	Paused   bool   `json:"paused"`
	PausedBy string `json:"paused_by"`
}

func (s *Server) handleGetSyncPause(w http.ResponseWriter, r *http.Request) {
	paused, pausedBy, pausedAt, err := s.deps.Cache.Paused(r.Context())
	if err != nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"paused": false})
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"paused":    paused,
		"paused_by": pausedBy,
		"paused_at": pausedAt,
	})
}

func (s *Server) handleSetSyncPause(w http.ResponseWriter, r *http.Request) {
	var req syncPauseRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !pausedByRe.MatchString(req.PausedBy) {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "validation_error", "paused_by contains invalid characters")
		return
	}
	if err := s.deps.Cache.SetPaused(r.Context(), req.Paused, req.PausedBy); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	action := "sync_resume"
	if req.Paused {
		action = "sync_pause"
	}
	s.audit(r, action, req.PausedBy)
	httpserver.Respond(w, http.StatusOK, map[string]any{"paused": req.Paused, "paused_by": req.PausedBy})
}

func (s *Server) audit(r *http.Request, action, detail string) {
	if s.deps.Audit == nil {
		return
	}
	actor := r.Header.Get("X-Dashboard-Token")
	if actor != "" {
		actor = "token"
	} else {
		actor = callerIP(r)
	}
	s.deps.Audit.Record(actor, action, detail)
}
