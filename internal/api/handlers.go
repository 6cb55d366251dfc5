// Package api exposes the management HTTP surface: rule and source CRUD,
// recent alerts, collector configuration and the query passthrough.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/striemhq/striem/internal/alerts"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/registry"
	"github.com/striemhq/striem/internal/sigma"
)

// maxRuleBody bounds uploaded rule documents.
const maxRuleBody = 1 << 20

// Querier is the contract of the external SQL frontend. The core ships no
// engine; deployments wire one in or the endpoint reports 501.
type Querier interface {
	Query(ctx context.Context, sql string, limit int) ([]map[string]any, error)
}

// Handler carries the API dependencies.
type Handler struct {
	reg       *registry.Registry
	alerts    *alerts.Store
	querier   Querier
	collector registry.CollectorOptions
	log       *logging.Logger
}

// NewHandler builds the handler set. querier may be nil.
func NewHandler(reg *registry.Registry, alertStore *alerts.Store, querier Querier, collector registry.CollectorOptions, log *logging.Logger) *Handler {
	return &Handler{
		reg:       reg,
		alerts:    alertStore,
		querier:   querier,
		collector: collector,
		log:       log.With(logging.Component("api")),
	}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListDetections handles GET /detections.
func (h *Handler) ListDetections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.ListRules())
}

// CreateDetection handles POST /detections with a YAML rule body.
func (h *Handler) CreateDetection(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRuleBody))
	if err != nil {
		httpError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	summary, err := h.reg.PutRule(body)
	if err != nil {
		var ce *sigma.CompileError
		if errors.As(err, &ce) {
			httpError(w, http.StatusBadRequest, "invalid rule: %v", ce)
			return
		}
		httpError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// GetDetection handles GET /detections/{id}.
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := h.reg.GetRule(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type patchPayload struct {
	Enabled *bool `json:"enabled"`
}

// PatchDetection handles PATCH /detections/{id} with {"enabled": bool}.
func (h *Handler) PatchDetection(w http.ResponseWriter, r *http.Request, id string) {
	var payload patchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		httpError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	if err := h.reg.SetRuleEnabled(id, *payload.Enabled); err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	rule, err := h.reg.GetRule(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, rule.RuleSummary)
}

// DeleteDetection handles DELETE /detections/{id}.
func (h *Handler) DeleteDetection(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.reg.DeleteRule(id); err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSources handles GET /sources.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.ListSources())
}

// CreateSource handles POST /sources/{type} with a JSON config body.
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request, sourceType string) {
	var config map[string]any
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		httpError(w, http.StatusBadRequest, "invalid config: %v", err)
		return
	}
	src, err := h.reg.PutSource(registry.SourceType(sourceType), config)
	if err != nil {
		httpError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

// GetSource handles GET /sources/{id}.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request, id string) {
	src, err := h.reg.GetSource(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// PatchSource handles PATCH /sources/{id} with {"enabled": bool}.
func (h *Handler) PatchSource(w http.ResponseWriter, r *http.Request, id string) {
	var payload patchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		httpError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	if err := h.reg.SetSourceEnabled(id, *payload.Enabled); err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	src, err := h.reg.GetSource(id)
	if err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// DeleteSource handles DELETE /sources/{id}.
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.reg.DeleteSource(id); err != nil {
		httpError(w, http.StatusNotFound, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts handles GET /alerts?start=&end= with RFC3339 bounds.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	start, err := parseTimeParam(r, "start", time.Now().Add(-24*time.Hour))
	if err != nil {
		httpError(w, http.StatusBadRequest, "%v", err)
		return
	}
	end, err := parseTimeParam(r, "end", time.Now())
	if err != nil {
		httpError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, h.alerts.List(start, end))
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request, id string) {
	if h.alerts == nil {
		httpError(w, http.StatusNotFound, "alert %s not found", id)
		return
	}
	alert, ok := h.alerts.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "alert %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type queryPayload struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
}

// Query handles POST /query, delegating to the configured SQL frontend.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		httpError(w, http.StatusNotImplemented, "no query engine configured")
		return
	}
	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SQL == "" {
		httpError(w, http.StatusBadRequest, "body must be {\"sql\": string, \"limit\": int}")
		return
	}
	rows, err := h.querier.Query(r.Context(), payload.SQL, payload.Limit)
	if err != nil {
		httpError(w, http.StatusBadRequest, "query failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// CollectorConfig handles GET /collector-config, returning the generated
// Vector configuration as TOML.
func (h *Handler) CollectorConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := h.reg.CollectorConfigTOML(h.collector)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/toml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %v", name, err)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func trimPathID(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
