package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/provider"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type cannedTransport struct{}

func (cannedTransport) Name() string { return "openai" }

func (cannedTransport) Call(context.Context, *provider.Request) (*provider.Response, error) {
	return &provider.Response{StatusCode: 200, Body: json.RawMessage(
		`{"output":[{"type":"web_search_call","status":"completed"},{"type":"message","content":[{"type":"output_text","text":"Berlin.","annotations":[{"type":"url_citation","url":"https://example.de"}]}]}]}`)}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := provider.NewRegistry()
	reg.Register("openai", func() (provider.Provider, error) { return cannedTransport{}, nil })

	engine := grounding.New(reg, grounding.WithLogger(logger))
	fixed := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	builder := ambient.NewBuilder(ambient.WithSeed(1), ambient.WithClock(func() time.Time { return fixed }))
	return New(engine, WithAmbient(builder), WithLogger(logger))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRun(t *testing.T) {
	s := newTestServer(t)
	body := `{"run_id":"r1","provider":"openai","model":"gpt-4o","grounding_mode":"REQUIRED","prompt":"Capital of Germany?"}`

	w := do(t, s, http.MethodPost, "/v1/runs", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, true, out["grounded_effective"])
	assert.NotContains(t, out, "raw")

	enforcement, ok := out["enforcement"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hard", enforcement["enforcement"])

	w = do(t, s, http.MethodPost, "/v1/runs?raw=true", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "raw")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKey  string
	}{
		{name: "malformed json", body: `{"run_id":`, wantCode: http.StatusBadRequest},
		{
			name:     "missing model",
			body:     `{"run_id":"r1","provider":"openai","grounding_mode":"REQUIRED","prompt":"p"}`,
			wantCode: http.StatusBadRequest,
			wantKey:  "fields",
		},
		{
			name:     "unknown provider",
			body:     `{"run_id":"r1","provider":"mistral","model":"m","grounding_mode":"OFF","prompt":"p"}`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(t), http.MethodPost, "/v1/runs", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			out := decode(t, w)
			assert.Contains(t, out, "error")
			if tt.wantKey != "" {
				assert.Contains(t, out, tt.wantKey)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	s := newTestServer(t)
	body := `{"concurrency":2,"requests":[
		{"run_id":"a","provider":"openai","model":"gpt-4o","grounding_mode":"REQUIRED","prompt":"p"},
		{"run_id":"b","provider":"openai","model":"gpt-4o","grounding_mode":"OFF","prompt":"p"}
	]}`

	w := do(t, s, http.MethodPost, "/v1/batches", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "a", out.Results[0]["run_id"])
	assert.Equal(t, "ok", out.Results[0]["status"])
	assert.Equal(t, "b", out.Results[1]["run_id"])
	assert.Equal(t, "tool_used_in_ungrounded", out.Results[1]["error_code"])

	w = do(t, s, http.MethodPost, "/v1/batches", `{"requests":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapabilities(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/v1/capabilities", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, []any{"openai"}, out["providers"])
	assert.NotEmpty(t, out["rules"])

	w = do(t, s, http.MethodGet, "/v1/capabilities?provider=gemini&model=gemini-2.5-flash", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SOFT", decode(t, w)["tier"])

	w = do(t, s, http.MethodGet, "/v1/capabilities?provider=gemini", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunSchema(t *testing.T) {
	w := do(t, newTestServer(t), http.MethodGet, "/v1/runs/schema", "")
	require.Equal(t, http.StatusOK, w.Code)

	out := decode(t, w)
	props, ok := out["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "grounding_mode")
	assert.Contains(t, props, "prompt")
}

func TestAmbient(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/v1/ambient/de", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "DE", out["locale"])
	assert.True(t, strings.HasPrefix(out["text"].(string), ambient.Header))
	assert.LessOrEqual(t, out["length"].(float64), out["budget"].(float64))

	w = do(t, s, http.MethodGet, "/v1/ambient/xx", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
