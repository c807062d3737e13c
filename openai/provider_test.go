package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestra/ai-ranker-sub001/provider"
)

func composedRequest(choice provider.ToolChoice, tools bool) *provider.Request {
	req := &provider.Request{
		Model: "gpt-4.1",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Answer briefly.", Kind: provider.KindInstructions},
			{Role: provider.RoleUser, Content: "Ambient Context (localization only; do not cite):", Kind: provider.KindAmbient},
			{Role: provider.RoleUser, Content: "What is the VAT rate?", Kind: provider.KindPrompt},
		},
		ToolChoice: choice,
	}
	if tools {
		req.Tools = []provider.ToolDef{{Kind: provider.ToolKindWebSearch, Name: "web_search"}}
	}
	return req
}

func TestBuildRequest(t *testing.T) {
	p := &Provider{}

	tests := []struct {
		name       string
		req        *provider.Request
		wantTools  int
		wantChoice any
	}{
		{
			name:       "forced maps to required",
			req:        composedRequest(provider.ToolChoiceForced, true),
			wantTools:  1,
			wantChoice: "required",
		},
		{
			name:       "auto",
			req:        composedRequest(provider.ToolChoiceAuto, true),
			wantTools:  1,
			wantChoice: "auto",
		},
		{
			name:       "no tools omits tool choice",
			req:        composedRequest(provider.ToolChoiceNone, false),
			wantTools:  0,
			wantChoice: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiReq := p.buildRequest(tt.req)

			assert.Len(t, apiReq.Tools, tt.wantTools)
			assert.Equal(t, tt.wantChoice, apiReq.ToolChoice)
			assert.Equal(t, "Answer briefly.", apiReq.Instructions)
			require.Len(t, apiReq.Input, 2)
			assert.Equal(t, "What is the VAT rate?", apiReq.Input[1].Content)
			assert.NotContains(t, apiReq.Input[1].Content, "Ambient")
		})
	}
}

func TestBuildRequest_StrictSchema(t *testing.T) {
	p := &Provider{}
	req := composedRequest(provider.ToolChoiceAuto, true)
	req.JSONSchema = &provider.JSONSchema{
		Name:   "answer",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object","properties":{"rate":{"type":"number"},"source":{"type":"string"}}}`),
	}

	apiReq := p.buildRequest(req)
	require.NotNil(t, apiReq.Text)
	require.NotNil(t, apiReq.Text.Format)
	assert.Equal(t, "json_schema", apiReq.Text.Format.Type)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(apiReq.Text.Format.Schema, &schema))
	assert.Equal(t, []any{"rate", "source"}, schema["required"])
	assert.Equal(t, false, schema["additionalProperties"])
}

func TestCall(t *testing.T) {
	const payload = `{"id":"resp_1","model":"gpt-4.1-2025-04-14","output":[{"type":"web_search_call","status":"completed"}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "required", got["tool_choice"])
		assert.Equal(t, false, got["store"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	p, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := p.Call(context.Background(), composedRequest(provider.ToolChoiceForced, true))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, payload, string(resp.Body))
}

func TestCall_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"tool_choice required is not supported","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, err := New(WithAPIKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	resp, err := p.Call(context.Background(), composedRequest(provider.ToolChoiceForced, true))
	require.Error(t, err)

	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	require.NotNil(t, resp)
	assert.Contains(t, string(resp.Body), "tool_choice")
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New()
	assert.Error(t, err)
}
