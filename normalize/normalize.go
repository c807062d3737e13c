// Package normalize extracts one canonical response shape from raw provider
// payloads.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/contestra/ai-ranker-sub001/citation"
)

// CountSource records how ToolCallCount was derived.
type CountSource string

const (
	// CountToolItems counts successful tool-invocation items in the output.
	CountToolItems CountSource = "tool_items"
	// CountQueries uses a provider-reported search request or query count.
	CountQueries CountSource = "query_count"
	// CountGroundingFlag is 1 when grounding metadata exists without a
	// query count, else 0.
	CountGroundingFlag CountSource = "grounding_flag"
	// CountNone means the payload carried no tool evidence at all.
	CountNone CountSource = "none"
)

// Usage is token usage as reported by the provider.
type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
	TotalTokens  int64 `json:"total_tokens,omitempty"`
}

// Meta carries extraction details that are not part of the result proper.
type Meta struct {
	Profile     string           `json:"profile"`
	CountSource CountSource      `json:"count_source"`
	Noise       []citation.Noise `json:"noise,omitempty"`
	// Malformed is set when the body was not valid JSON.
	Malformed bool `json:"malformed,omitempty"`
}

// Response is the provider-agnostic view of one payload.
type Response struct {
	Text            string              `json:"text"`
	ToolCallCount   int                 `json:"tool_call_count"`
	FailedToolCalls int                 `json:"failed_tool_calls,omitempty"`
	SearchQueries   []string            `json:"search_queries,omitempty"`
	Citations       []citation.Citation `json:"citations"`
	FinishReason    string              `json:"finish_reason,omitempty"`
	ModelVersion    string              `json:"model_version,omitempty"`
	Usage           Usage               `json:"usage"`

	// JSONValid is nil unless a response schema was requested.
	JSONValid *bool `json:"json_valid,omitempty"`
	Parsed    any   `json:"parsed,omitempty"`

	Meta Meta `json:"meta"`
}

// Options control normalization.
type Options struct {
	// SchemaRequested enables JSON parsing of the output text.
	SchemaRequested bool
}

// First returns the first of names that exists under r, or the zero Result.
// Every payload read goes through it since the same field arrives under
// different names across providers and API versions.
func First(r gjson.Result, names ...string) gjson.Result {
	for _, n := range names {
		if v := r.Get(n); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// Normalize walks body with the profile for providerName. Unknown providers
// are matched by payload shape. A nil or malformed body yields an empty
// response, never an error.
func Normalize(providerName string, body []byte, opts Options) Response {
	root := gjson.ParseBytes(body)

	p, ok := profiles[strings.ToLower(providerName)]
	if !ok {
		p = sniff(root)
	}

	b := &builder{}
	b.resp.Meta.Profile = p.name
	b.resp.Meta.CountSource = CountNone
	if len(body) > 0 && !gjson.ValidBytes(body) {
		b.resp.Meta.Malformed = true
	}

	p.walk(root, b)

	b.resp.Text = b.text.String()
	b.resp.Citations = b.cites.Citations()
	if b.resp.Citations == nil {
		b.resp.Citations = []citation.Citation{}
	}
	b.resp.Meta.Noise = b.cites.Noise()

	if opts.SchemaRequested {
		parsed, valid := parseJSON(b.resp.Text)
		b.resp.JSONValid = &valid
		b.resp.Parsed = parsed
	}
	return b.resp
}

// builder accumulates one response while a profile walks a payload.
type builder struct {
	resp  Response
	text  strings.Builder
	cites citation.Set
}

func (b *builder) appendText(s string) {
	if s == "" {
		return
	}
	b.text.WriteString(s)
}

func (b *builder) addQuery(q string) {
	if q = strings.TrimSpace(q); q != "" {
		b.resp.SearchQueries = append(b.resp.SearchQueries, q)
	}
}

func (b *builder) addCitations(r gjson.Result, source string) {
	if !r.Exists() {
		return
	}
	b.cites.AddRaw(r.Value(), source)
}

func (b *builder) usage(r gjson.Result, in, out, total []string) {
	b.resp.Usage = Usage{
		InputTokens:  First(r, in...).Int(),
		OutputTokens: First(r, out...).Int(),
		TotalTokens:  First(r, total...).Int(),
	}
	if b.resp.Usage.TotalTokens == 0 {
		b.resp.Usage.TotalTokens = b.resp.Usage.InputTokens + b.resp.Usage.OutputTokens
	}
}

// successStatuses are the tool-item statuses treated as success. An absent
// status is also success.
var successStatuses = map[string]bool{
	"completed": true,
	"success":   true,
	"succeeded": true,
	"ok":        true,
}

func succeeded(item gjson.Result) bool {
	status := First(item, "status", "state")
	if !status.Exists() || status.String() == "" {
		return true
	}
	return successStatuses[strings.ToLower(status.String())]
}

// parseJSON parses text strictly, tolerating surrounding code fences.
func parseJSON(text string) (any, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if s == "" || !json.Valid([]byte(s)) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
