package api

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"polyglot-sandbox/internal/controller"
	"polyglot-sandbox/internal/engine"
	"polyglot-sandbox/internal/monitor"
	"polyglot-sandbox/internal/normalize"
	"polyglot-sandbox/internal/policy"
	"polyglot-sandbox/internal/storage"
	"polyglot-sandbox/internal/threat"
)

type Handlers struct {
	controller  *controller.Controller
	analyzer    *threat.Analyzer
	engines     *engine.Registry
	policies    *policy.Store
	analytics   *normalize.Analytics
	retry       normalize.RetryPolicy
	db          *storage.DB
	auditWriter *storage.AuditWriter
	metrics     *monitor.Metrics
	tracer      *monitor.Tracer
}

func NewHandlers(
	ctrl *controller.Controller,
	analyzer *threat.Analyzer,
	engines *engine.Registry,
	policies *policy.Store,
	analytics *normalize.Analytics,
	retry normalize.RetryPolicy,
	db *storage.DB,
	auditWriter *storage.AuditWriter,
	metrics *monitor.Metrics,
) *Handlers {
	return &Handlers{
		controller:  ctrl,
		analyzer:    analyzer,
		engines:     engines,
		policies:    policies,
		analytics:   analytics,
		retry:       retry,
		db:          db,
		auditWriter: auditWriter,
		metrics:     metrics,
		tracer:      monitor.NewTracer(),
	}
}

// HandleExecute screens the code, admits it through the controller, and
// returns the normalized result. High and critical verdicts from the scanner
// gate execution here; the engine never sees that code.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	lang, err := policy.Parse(req.Language)
	if err != nil {
		out := normalize.Unsupported(req.Language)
		h.analytics.Record("", out)
		writeJSON(w, http.StatusOK, toExecuteResponse("", out))
		return
	}

	ctx, span := h.tracer.StartSpan(r.Context(), "execute",
		monitor.AttrLanguage.String(string(lang)))
	defer span.End()
	r = r.WithContext(ctx)

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))

	pol := h.policies.Get(lang)
	if pol.MaxCodeBytes > 0 && int64(len(req.Code)) > pol.MaxCodeBytes {
		out := normalize.FromEngine(&engine.Result{
			Success: false,
			Error:   fmt.Sprintf("code exceeds %d byte limit for %s", pol.MaxCodeBytes, lang),
		})
		h.analytics.Record(lang, out)
		h.metrics.RecordError(string(out.Class))
		writeJSON(w, http.StatusOK, toExecuteResponse("", out))
		return
	}

	detection := h.analyzer.Analyze(req.Code, lang)
	span.SetAttributes(monitor.AttrRiskLevel.String(detection.RiskLevel))
	for _, v := range detection.Violations {
		h.metrics.RecordViolation(string(v.Kind), v.Severity)
	}

	start := time.Now()

	if detection.RiskLevel == "high" || detection.RiskLevel == "critical" {
		h.metrics.RecordThreatDetection(detection.RiskLevel)
		out := normalize.FromThreat(detection)
		h.analytics.Record(lang, out)
		h.metrics.RecordExecution(string(lang), "rejected", 0)
		h.metrics.RecordError(string(out.Class))
		h.logAudit("", &req, lang, "rejected", out, detection, start, r)

		log.Warn().
			Str("language", string(lang)).
			Str("risk", detection.RiskLevel).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("execution blocked by threat analysis")

		writeJSON(w, http.StatusOK, toExecuteResponse("", out))
		return
	}

	execReq := &engine.Request{
		Code:      req.Code,
		Language:  lang,
		SessionID: req.SessionID,
		Options: engine.Options{
			Timeout:          req.Options.Timeout.Duration,
			MemoryLimitBytes: req.Options.MemoryLimitBytes,
			Packages:         req.Options.Packages,
			SampleData:       req.Options.SampleData,
			EnableNetworking: req.Options.EnableNetworking,
		},
	}

	h.metrics.ActiveExecutions.WithLabelValues(string(lang)).Inc()
	id, out := h.controller.Submit(r.Context(), execReq, req.Priority)

	// Transient failure classes get re-admitted with backoff; everything
	// else is final on the first attempt.
	for attempt := 0; h.retry.ShouldRetry(out.Class, attempt) && r.Context().Err() == nil; attempt++ {
		wait := h.retry.Delay(attempt)
		log.Info().
			Str("exec_id", id).
			Str("class", string(out.Class)).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("retrying execution")

		select {
		case <-r.Context().Done():
		case <-time.After(wait):
			id, out = h.controller.Submit(r.Context(), execReq, req.Priority)
		}
	}
	h.metrics.ActiveExecutions.WithLabelValues(string(lang)).Dec()

	span.SetAttributes(
		monitor.AttrExecID.String(id),
		monitor.AttrErrorClass.String(string(out.Class)),
		monitor.AttrDurationMS.Int64(out.Result.Duration.Milliseconds()),
	)

	status := "completed"
	if out.Class != normalize.ClassNone {
		status = string(out.Class)
		h.metrics.RecordError(status)
	}
	h.metrics.RecordExecution(string(lang), status, out.Result.Duration.Seconds())
	h.metrics.OutputSizeBytes.Observe(float64(len(out.Result.Output) + len(out.Result.VisualOutput)))
	h.analytics.Record(lang, out)
	h.logAudit(id, &req, lang, status, out, detection, start, r)

	writeJSON(w, http.StatusOK, toExecuteResponse(id, out))
}

// HandleAnalyze runs the threat scan without executing anything.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	lang, err := policy.Parse(req.Language)
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}

	detection := h.analyzer.Analyze(req.Code, lang)
	if detection.IsMalicious {
		h.metrics.RecordThreatDetection(detection.RiskLevel)
	}
	writeJSON(w, http.StatusOK, AnalyzeResponse{Result: detection})
}

// HandleValidate runs the engine's cheap syntactic pre-check.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	lang, err := policy.Parse(req.Language)
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}

	eng, err := h.engines.Get(lang)
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: eng.ValidateCode(req.Code)})
}

// HandleListExecutions returns the live (running and queued) executions.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Executions())
}

// HandleGetExecution returns one live execution, falling back to the audit
// store for finished ones.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if info, ok := h.controller.Lookup(id); ok {
		writeJSON(w, http.StatusOK, info)
		return
	}

	if h.db == nil {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	exec, err := h.db.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// HandleHistory lists finished executions from the audit store.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	filter := storage.ExecutionFilter{
		Language: r.URL.Query().Get("language"),
		Status:   r.URL.Query().Get("status"),
		Limit:    100,
	}
	if s := r.URL.Query().Get("since"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, "since must be RFC 3339", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Since = &ts
	}
	if s := r.URL.Query().Get("until"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, "until must be RFC 3339", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Until = &ts
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	execs, err := h.db.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// HandleCancelExecution cancels a queued or running execution.
func (h *Handlers) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if !h.controller.Cancel(id) {
		writeError(w, "execution not found or already finished", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	log.Info().Str("exec_id", id).Msg("execution cancelled via API")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled", "id": id})
}

// HandleQueue exposes controller introspection.
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	byLang := make(map[string]int)
	for _, lang := range policy.Languages() {
		if n := h.controller.ActiveCount(lang); n > 0 {
			byLang[string(lang)] = n
		}
	}

	h.metrics.QueueDepth.Set(float64(h.controller.QueueLength()))

	writeJSON(w, http.StatusOK, QueueResponse{
		Active:           h.controller.ActiveCount(""),
		ActiveByLanguage: byLang,
		QueueLength:      h.controller.QueueLength(),
		NextInLine:       h.controller.NextInLine(),
		Memory:           h.controller.MemoryUsage(),
	})
}

// HandleStats exposes rolling outcome analytics.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analytics.Snapshot())
}

// HandleCleanupSession releases engine resources held for one session.
func (h *Handlers) HandleCleanupSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "session ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	h.engines.Cleanup(id)
	log.Info().Str("session_id", id).Msg("session resources released")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleaned", "session_id": id})
}

func (h *Handlers) logAudit(id string, req *ExecuteRequest, lang policy.Language, status string, out normalize.Outcome, detection threat.Result, start time.Time, r *http.Request) {
	if h.auditWriter == nil {
		return
	}

	completedAt := time.Now()
	violations := make([]storage.ViolationRecord, 0, len(detection.Violations))
	for _, v := range detection.Violations {
		violations = append(violations, storage.ViolationRecord{
			Kind:     string(v.Kind),
			Category: v.Category,
			Severity: v.Severity,
			Message:  v.Message,
			Evidence: v.Evidence,
			Line:     v.Line,
		})
	}

	h.auditWriter.Log(&storage.AuditRecord{
		Execution: &storage.Execution{
			ID:          id,
			SessionID:   req.SessionID,
			Language:    string(lang),
			CodeHash:    fmt.Sprintf("%x", sha256.Sum256([]byte(req.Code))),
			Success:     out.Result.Success,
			Status:      status,
			ErrorClass:  string(out.Class),
			Error:       out.Result.Error,
			Output:      out.Result.Output,
			DurationMS:  out.Result.Duration.Milliseconds(),
			RiskLevel:   detection.RiskLevel,
			RiskScore:   detection.Score,
			Violations:  len(detection.Violations),
			RequestIP:   r.RemoteAddr,
			CreatedAt:   start,
			CompletedAt: &completedAt,
		},
		Violations: violations,
	})
}

func toExecuteResponse(id string, out normalize.Outcome) ExecuteResponse {
	return ExecuteResponse{
		ID:           id,
		Success:      out.Result.Success,
		Output:       out.Result.Output,
		Error:        out.Result.Error,
		ErrorClass:   string(out.Class),
		Retryable:    out.Retryable,
		Suggestions:  out.Suggestions,
		VisualOutput: out.Result.VisualOutput,
		Duration:     out.Result.Duration.String(),
		Metadata:     out.Result.Metadata,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
