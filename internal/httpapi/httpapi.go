// Package httpapi implements the service's HTTP surface (spec §6): the
// chi-routed /api/v1/* mux plus the operator-facing /stream/tail endpoint.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/analysis"
	"github.com/srimon12/rhythm-sentry/internal/audit"
	apierrors "github.com/srimon12/rhythm-sentry/internal/errors"
	"github.com/srimon12/rhythm-sentry/internal/forensic"
	"github.com/srimon12/rhythm-sentry/internal/registry"
	"github.com/srimon12/rhythm-sentry/internal/tracing"
)

// patchReason matches the original service's fixed audit-trail string for
// API-initiated patches (original_source's control endpoint hardcodes this
// rather than accepting a caller-supplied reason).
const patchReason = "Patched by user via API"

// Ingester is the narrow slice of the Ingestion Pipeline the HTTP layer
// needs.
type Ingester interface {
	IngestBatch(ctx context.Context, raw []byte) (int, error)
}

// Analyzer is the narrow slice of the Rhythm Analyzer the HTTP layer needs,
// exposed for ad-hoc analysis requests outside the Periodic Worker's
// cadence (spec §5: serialized via the same runMu, so this is safe to call
// concurrently with the worker).
type Analyzer interface {
	Analyze(ctx context.Context, windowSec int) (analysis.Result, error)
}

// Finder is the narrow slice of the Forensic Query Layer the HTTP layer
// needs.
type Finder interface {
	FindTier2Clusters(ctx context.Context, startTS, endTS int64, textFilter string) ([]forensic.Cluster, error)
	TriageSimilarEvents(ctx context.Context, positiveIDs, negativeIDs []string, startTS, endTS int64) ([]forensic.Hit, error)
}

// Controller is the narrow slice of the Control Registry the HTTP layer
// needs.
type Controller interface {
	Suppress(rhythmHash string, durationSec int64)
	DeleteSuppression(rhythmHash string)
	Patch(rhythmHash, reason string, contextLogs []string) error
	DeletePatch(rhythmHash string) error
	ListRules() (registry.Rules, error)
}

// Handler holds the service dependencies the HTTP layer dispatches to.
type Handler struct {
	ingest      Ingester
	analyzer    Analyzer
	forensic    Finder
	control     Controller
	audit       *audit.Logger
	liveLogPath string
}

// NewHandler creates a Handler.
func NewHandler(ingest Ingester, analyzer Analyzer, forensicSvc Finder, control Controller, auditLogger *audit.Logger, liveLogPath string) *Handler {
	return &Handler{
		ingest:      ingest,
		analyzer:    analyzer,
		forensic:    forensicSvc,
		control:     control,
		audit:       auditLogger,
		liveLogPath: liveLogPath,
	}
}

// Server binds the chi router for /api/v1/* to an HTTP listener.
type Server struct {
	router  chi.Router
	httpSrv *http.Server
}

// NewServer creates the HTTP API server, mounting every route under
// /api/v1 except /stream/tail and /health, which the original service
// exposes unprefixed (spec §6).
func NewServer(h *Handler, addr string, tracingEnabled bool) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(traceContextMiddleware)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/ingest/stream", h.handleIngestStream)
		api.Post("/analysis/tier1/rhythm_anomalies", h.handleRhythmAnomalies)
		api.Post("/analysis/tier2/clusters", h.handleTier2Clusters)
		api.Post("/analysis/tier2/triage", h.handleTier2Triage)
		api.Post("/control/suppress", h.handleControlSuppress)
		api.Post("/control/patch", h.handleControlPatch)
		api.Delete("/control/patch/{rhythmHash}", h.handleControlDeletePatch)
		api.Delete("/control/suppress/{rhythmHash}", h.handleControlDeleteSuppression)
		api.Get("/control/rules", h.handleControlRules)
	})
	r.Get("/stream/tail", h.handleStreamTail)
	r.Get("/health", h.handleHealth)

	return &Server{
		router: r,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
		},
	}
}

// Router exposes the underlying chi.Router for testing.
func (s *Server) Router() chi.Router { return s.router }

// Start blocks, serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// traceContextMiddleware ensures every inbound request carries trace
// context before it reaches a handler, so downstream spans/audit entries
// (spec §4's per-operation tracing) attach to a consistent trace id.
func traceContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.EnsureTraceContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*apierrors.StructuredError)
	if !ok {
		se = apierrors.NewInternalError(err.Error())
	}
	status := http.StatusInternalServerError
	switch se.Category {
	case apierrors.ClientError:
		status = http.StatusBadRequest
	case apierrors.ExternalError:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, se)
}

func (h *Handler) handleIngestStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := readBody(r)
	if err != nil {
		writeError(w, apierrors.NewInvalidInput(err.Error()))
		return
	}

	n, err := h.ingest.IngestBatch(r.Context(), body)
	h.audit.Log(r.Context(), audit.Entry{
		Component: "httpapi", Operation: "ingest_stream", Success: err == nil,
		Duration: time.Since(start), ResultCount: n,
	})
	if err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "tier1_ingested": n})
}

type rhythmAnomaliesRequest struct {
	WindowSec int `json:"window_sec"`
}

func (h *Handler) handleRhythmAnomalies(w http.ResponseWriter, r *http.Request) {
	var req rhythmAnomaliesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.NewInvalidInput("malformed request body"))
		return
	}
	if req.WindowSec <= 0 {
		writeError(w, apierrors.NewMissingParameter("window_sec"))
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), req.WindowSec)
	if err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"novel_anomalies":     anomaliesToJSON(result.NovelAnomalies),
		"frequency_anomalies": anomaliesToJSON(result.FrequencyAnomalies),
	})
}

func anomaliesToJSON(anomalies []analysis.Anomaly) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, map[string]interface{}{
			"rhythm_hash": a.RhythmHash,
			"type":        string(a.Type),
			"context":     a.Context,
			"count":       a.Count,
		})
	}
	return out
}

type tier2ClustersRequest struct {
	StartTS    int64  `json:"start_ts"`
	EndTS      int64  `json:"end_ts"`
	TextFilter string `json:"text_filter"`
}

func (h *Handler) handleTier2Clusters(w http.ResponseWriter, r *http.Request) {
	var req tier2ClustersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.NewInvalidInput("malformed request body"))
		return
	}

	clusters, err := h.forensic.FindTier2Clusters(r.Context(), req.StartTS, req.EndTS, req.TextFilter)
	if err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}

	out := make([]map[string]interface{}, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, map[string]interface{}{
			"cluster_id":     c.ClusterID,
			"incident_count": c.IncidentCount,
			"top_hit": map[string]interface{}{
				"id":      c.TopHitID,
				"payload": c.TopHitPayload,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clusters": out})
}

type tier2TriageRequest struct {
	PositiveIDs []string `json:"positive_ids"`
	NegativeIDs []string `json:"negative_ids"`
	StartTS     int64    `json:"start_ts"`
	EndTS       int64    `json:"end_ts"`
}

func (h *Handler) handleTier2Triage(w http.ResponseWriter, r *http.Request) {
	var req tier2TriageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.NewInvalidInput("malformed request body"))
		return
	}

	hits, err := h.forensic.TriageSimilarEvents(r.Context(), req.PositiveIDs, req.NegativeIDs, req.StartTS, req.EndTS)
	if err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}

	out := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		out = append(out, map[string]interface{}{"id": hit.ID, "score": hit.Score, "payload": hit.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"triage_results": out})
}

type suppressRequest struct {
	RhythmHash  string `json:"rhythm_hash"`
	DurationSec int64  `json:"duration_sec"`
}

func (h *Handler) handleControlSuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.NewInvalidInput("malformed request body"))
		return
	}
	if req.RhythmHash == "" {
		writeError(w, apierrors.NewMissingParameter("rhythm_hash"))
		return
	}

	h.control.Suppress(req.RhythmHash, req.DurationSec)
	h.audit.Log(r.Context(), audit.Entry{
		Component: "httpapi", Operation: "suppress", Resource: "rhythm_hash",
		ResourceID: req.RhythmHash, Success: true,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "message": fmt.Sprintf("Hash %s suppressed.", req.RhythmHash),
	})
}

type patchRequest struct {
	RhythmHash  string   `json:"rhythm_hash"`
	PatchType   string   `json:"patch_type"`
	ContextLogs []string `json:"context_logs"`
}

func (h *Handler) handleControlPatch(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierrors.NewInvalidInput("malformed request body"))
		return
	}
	if req.RhythmHash == "" {
		writeError(w, apierrors.NewMissingParameter("rhythm_hash"))
		return
	}

	err := h.control.Patch(req.RhythmHash, patchReason, req.ContextLogs)
	h.audit.Log(r.Context(), audit.Entry{
		Component: "httpapi", Operation: "patch", Resource: "rhythm_hash",
		ResourceID: req.RhythmHash, Success: err == nil,
	})
	if err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "message": fmt.Sprintf("Hash %s patched and eval case generated.", req.RhythmHash),
	})
}

func (h *Handler) handleControlDeletePatch(w http.ResponseWriter, r *http.Request) {
	rhythmHash := chi.URLParam(r, "rhythmHash")
	if err := h.control.DeletePatch(rhythmHash); err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "message": fmt.Sprintf("Patch for %s has been deactivated.", rhythmHash),
	})
}

func (h *Handler) handleControlDeleteSuppression(w http.ResponseWriter, r *http.Request) {
	rhythmHash := chi.URLParam(r, "rhythmHash")
	h.control.DeleteSuppression(rhythmHash)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "message": fmt.Sprintf("Suppression for %s has been removed.", rhythmHash),
	})
}

func (h *Handler) handleControlRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.control.ListRules()
	if err != nil {
		writeError(w, apierrors.NewInternalError(err.Error()))
		return
	}

	patches := make([]map[string]interface{}, 0, len(rules.Patches))
	for _, p := range rules.Patches {
		patches = append(patches, map[string]interface{}{
			"rhythm_hash": p.RhythmHash,
			"rule":        p.RuleKind,
			"reason":      p.Reason,
			"created_ts":  p.CreatedTS,
			"is_active":   p.IsActive,
		})
	}
	suppressions := make([]map[string]interface{}, 0, len(rules.Suppressions))
	for _, s := range rules.Suppressions {
		suppressions = append(suppressions, map[string]interface{}{
			"rhythm_hash": s.RhythmHash,
			"expires_at":  s.ExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"patches": patches, "suppressions": suppressions})
}

// handleStreamTail serves GET /stream/tail?limit&filter: the last `limit`
// JSONL lines of the live log file, optionally case-insensitively filtered
// by substring match before decoding (spec §6).
func (h *Handler) handleStreamTail(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := r.URL.Query().Get("filter")

	lines, err := tailLines(h.liveLogPath, limit, filter)
	if err != nil {
		writeError(w, apierrors.NewInternalError(fmt.Sprintf("error reading log file: %v", err)))
		return
	}

	results := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			continue
		}
		results = append(results, decoded)
	}

	writeJSON(w, http.StatusOK, results)
}

// tailLines reads path and returns the last limit JSONL lines matching
// filter (if any). It first keeps only the last bufSize raw lines (bufSize
// = limit*5 when filtering, else limit) as a fixed-size ring, THEN applies
// the substring filter to that window and truncates to limit — mirroring
// original_source's `deque(f, maxlen=...)` truncate-before-filter ordering
// (spec §6 / app/api/v1/endpoints/stream.py), not filter-then-truncate.
func tailLines(path string, limit int, filter string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bufSize := limit
	if filter != "" {
		bufSize = limit * 5
	}
	ring := make([]string, 0, bufSize)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if len(ring) > bufSize {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	results := make([]string, 0, len(ring))
	for _, line := range ring {
		if filter != "" && !strings.Contains(strings.ToLower(line), strings.ToLower(filter)) {
			continue
		}
		results = append(results, line)
	}

	if len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	return raw, nil
}
