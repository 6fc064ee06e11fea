package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/healing"
	"github.com/opensource-finance/kestrel/internal/insights"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validation"
)

const (
	maxBodyBytes        = 1 << 20
	defaultListLimit    = 100
	maxListLimit        = 1000
	defaultInsightLimit = 500
)

// Services are the components the handlers call. Repo, Cache and Bus may be nil;
// the routes that need them answer 503.
type Services struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Rules     *rules.Engine
	Alerts    *alerts.Manager
	Healer    *healing.Orchestrator
	Processor *pipeline.Processor
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	rules     *rules.Engine
	alerts    *alerts.Manager
	healer    *healing.Orchestrator
	processor *pipeline.Processor
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, version string) *Handler {
	return &Handler{
		repo:      svc.Repo,
		cache:     svc.Cache,
		bus:       svc.Bus,
		rules:     svc.Rules,
		alerts:    svc.Alerts,
		healer:    svc.Healer,
		processor: svc.Processor,
		version:   version,
	}
}

// ScanResponse is the response for POST /scan.
type ScanResponse struct {
	ThreatID       string                 `json:"threatId"`
	ContentType    domain.ContentType     `json:"contentType"`
	RiskScore      int                    `json:"riskScore"`
	Categories     []string               `json:"categories"`
	Confidence     int                    `json:"confidence"`
	Severity       domain.Severity        `json:"severity"`
	Verdict        string                 `json:"verdict"`
	Recommendation string                 `json:"recommendation,omitempty"`
	Explanation    domain.Explanation     `json:"explanation"`
	PaymentDetails *domain.PaymentDetails `json:"paymentDetails,omitempty"`
	RedFlags       []string               `json:"redFlags,omitempty"`
	Engine         string                 `json:"engine"`
	MatchedRules   []string               `json:"matchedRules"`
	Actions        []domain.Action        `json:"actions"`
	Blocked        bool                   `json:"blocked"`
	Alert          *domain.Alert          `json:"alert,omitempty"`
	Remediation    []domain.ActionResult  `json:"remediation,omitempty"`
	Metadata       ScanResponseMetadata   `json:"metadata"`
}

// ScanResponseMetadata carries request bookkeeping.
type ScanResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// Scan handles POST /scan requests.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.ScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeServiceError(w, err)
		return
	}

	out := h.processor.Process(ctx, req)
	item := out.Item

	resp := ScanResponse{
		ThreatID:       out.ThreatID,
		ContentType:    item.ContentType,
		RiskScore:      item.RiskScore,
		Categories:     item.Categories,
		Confidence:     item.Confidence,
		Severity:       item.Severity,
		Verdict:        item.Verdict,
		Recommendation: item.Recommendation,
		Explanation:    item.Explanation,
		PaymentDetails: item.PaymentDetails,
		RedFlags:       item.RedFlags,
		Engine:         item.Engine,
		MatchedRules:   out.MatchedRules,
		Actions:        out.Actions,
		Blocked:        out.Blocked,
		Alert:          out.Alert,
		Remediation:    out.Remediation,
	}
	if resp.MatchedRules == nil {
		resp.MatchedRules = []string{}
	}
	if resp.Actions == nil {
		resp.Actions = []domain.Action{}
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the backing stores answer. It returns 503 until they do.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(r.Context()) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{
		"ready":  ready,
		"checks": checks,
	}
	if local, ok := h.cache.(localCache); ok {
		body["cacheStats"] = local.Stats()
	}
	writeJSON(w, status, body)
}

// localCache is implemented by caches with an in-process tier.
type localCache interface {
	Stats() cache.LocalStats
}

// ListThreats returns recent threats, newest first.
func (h *Handler) ListThreats(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	threats, err := h.repo.ListThreats(r.Context(), queryLimit(r, defaultListLimit))
	if err != nil {
		slog.Error("failed to list threats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list threats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threats": threats,
		"count":   len(threats),
	})
}

// GetThreat retrieves a threat by ID.
func (h *Handler) GetThreat(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	id := chi.URLParam(r, "id")
	threat, err := h.repo.GetThreat(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threat)
}

// ListRules returns all loaded rules with their live counters.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.rules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates, persists and loads a new rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.Rule
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.rules.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "actor", GetActor(r.Context()))
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule's definition. Counters are preserved.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.Rule
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.rules.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("rule updated", "rule_id", rule.ID, "actor", GetActor(r.Context()))
	writeJSON(w, http.StatusOK, rule)
}

// SetRuleActiveRequest is the request body for PUT /rules/{id}/active.
type SetRuleActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// SetRuleActive toggles a rule on or off.
func (h *Handler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	var req SetRuleActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeServiceError(w, err)
		return
	}

	rule, err := h.rules.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("rule toggled", "rule_id", rule.ID, "is_active", rule.IsActive, "actor", GetActor(r.Context()))
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.rules.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("rule deleted", "rule_id", id, "actor", GetActor(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules reloads all rules from the repository into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	if err := h.rules.Reload(r.Context()); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules")
		return
	}

	count := h.rules.RulesCount()
	slog.Info("rules reloaded from repository", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// ListAlerts returns alerts newest first, optionally filtered by ?status=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.AlertOpen, domain.AlertEscalated, domain.AlertResolved, domain.AlertDismissed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of open, escalated, resolved, dismissed")
		return
	}

	list := h.alerts.List(status, queryLimit(r, defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// GetAlert retrieves an alert by ID together with its reachable statuses.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alert":        alert,
		"validTargets": alerts.ValidTargets(alert.Status),
	})
}

// TransitionAlert applies one lifecycle step. The actor defaults to X-Actor.
func (h *Handler) TransitionAlert(w http.ResponseWriter, r *http.Request) {
	var req alerts.TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = GetActor(r.Context())
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeServiceError(w, err)
		return
	}

	alert, err := h.alerts.Transition(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// RemediateRequest is the request body for POST /remediate. With Auto set it runs
// the full remediation sequence against Target and Identity; otherwise it runs
// the single Action against Target.
type RemediateRequest struct {
	Auto     bool            `json:"auto"`
	Action   string          `json:"action,omitempty" validate:"omitempty,oneof=block_ip unblock_ip disable_account enable_account"`
	Target   string          `json:"target" validate:"required,max=256"`
	Identity string          `json:"identity,omitempty" validate:"max=256"`
	Severity domain.Severity `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Actor    string          `json:"actor,omitempty" validate:"max=128"`
}

// Remediate handles POST /remediate.
func (h *Handler) Remediate(w http.ResponseWriter, r *http.Request) {
	var req RemediateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = GetActor(r.Context())
	}
	if err := validation.ValidateStruct(&req); err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Auto && req.Severity == "" {
		writeError(w, http.StatusBadRequest, "severity is required for automated remediation")
		return
	}
	if !req.Auto && req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required unless auto is set")
		return
	}

	if req.Auto {
		results := h.healer.Remediate(r.Context(), healing.Target{
			Source:   req.Target,
			Identity: req.Identity,
			Actor:    req.Actor,
		}, req.Severity)
		writeJSON(w, http.StatusOK, map[string]any{
			"results": results,
			"count":   len(results),
		})
		return
	}

	result, err := h.healer.Execute(r.Context(), healing.ManualRequest{
		Action:   req.Action,
		Target:   req.Target,
		Severity: req.Severity,
		Actor:    req.Actor,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HealingLog returns the healing log newest first. With ?persisted=true the
// log is read from the repository instead of the in-memory ring.
func (h *Handler) HealingLog(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultListLimit)

	if persisted, _ := strconv.ParseBool(r.URL.Query().Get("persisted")); persisted {
		if h.repo == nil {
			writeError(w, http.StatusServiceUnavailable, "repository not available")
			return
		}
		entries, err := h.repo.ListHealingActions(r.Context(), limit)
		if err != nil {
			slog.Error("failed to list healing actions", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list healing actions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": entries,
			"count":   len(entries),
		})
		return
	}

	entries := h.healer.State().Log(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// HealingState returns the blocked sources, disabled identities and firewall rules.
func (h *Handler) HealingState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.healer.Snapshot())
}

// Accuracy returns the heuristic accuracy estimate over recent threats.
func (h *Handler) Accuracy(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	threats, err := h.repo.ListThreats(r.Context(), queryLimit(r, defaultInsightLimit))
	if err != nil {
		slog.Error("failed to list threats for accuracy estimate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list threats")
		return
	}
	writeJSON(w, http.StatusOK, insights.Estimate(threats))
}

// decodeJSON reads a bounded JSON body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// queryLimit reads ?limit=, clamped to [1, maxListLimit].
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// writeServiceError maps component errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, rules.ErrNotFound),
		errors.Is(err, alerts.ErrNotFound),
		errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, alerts.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, alerts.ErrActorRequired),
		errors.Is(err, healing.ErrInvalidTarget),
		errors.Is(err, healing.ErrUnknownAction),
		errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
