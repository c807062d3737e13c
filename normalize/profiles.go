package normalize

import (
	"strings"

	"github.com/tidwall/gjson"
)

type profile struct {
	name string
	walk func(root gjson.Result, b *builder)
}

var profiles = map[string]profile{
	"openai":    {name: "openai", walk: walkOpenAI},
	"anthropic": {name: "anthropic", walk: walkAnthropic},
	"gemini":    {name: "gemini", walk: walkGemini},
}

// sniff picks a profile by payload shape, in a fixed order.
func sniff(root gjson.Result) profile {
	switch {
	case First(root, "output", "choices").Exists():
		return profiles["openai"]
	case First(root, "candidates").Exists():
		return profiles["gemini"]
	case First(root, "content").IsArray():
		return profiles["anthropic"]
	}
	return profile{name: "unknown", walk: func(gjson.Result, *builder) {}}
}

// walkOpenAI reads a Responses API payload, falling back to the Chat
// Completions shape.
func walkOpenAI(root gjson.Result, b *builder) {
	b.resp.ModelVersion = First(root, "model").String()
	b.usage(First(root, "usage"),
		[]string{"input_tokens", "prompt_tokens"},
		[]string{"output_tokens", "completion_tokens"},
		[]string{"total_tokens"})

	output := First(root, "output")
	if !output.IsArray() {
		walkChatCompletions(root, b)
		return
	}

	b.resp.FinishReason = First(root, "incomplete_details.reason", "status").String()

	sawTool := false
	output.ForEach(func(_, item gjson.Result) bool {
		kind := First(item, "type").String()
		switch {
		case kind == "message":
			First(item, "content").ForEach(func(_, part gjson.Result) bool {
				switch First(part, "type").String() {
				case "output_text", "text":
					b.appendText(First(part, "text").String())
				}
				First(part, "annotations").ForEach(func(_, ann gjson.Result) bool {
					if t := First(ann, "type").String(); t == "" || t == "url_citation" {
						b.addCitations(ann, "annotation")
					}
					return true
				})
				return true
			})
		case strings.HasSuffix(kind, "search_call"):
			sawTool = true
			if !succeeded(item) {
				b.resp.FailedToolCalls++
				return true
			}
			b.resp.ToolCallCount++
			b.addQuery(First(item, "action.query", "query").String())
			b.addCitations(First(item, "action.sources", "sources"), "search_result")
		}
		return true
	})

	if b.text.Len() == 0 {
		b.appendText(First(root, "output_text").String())
	}
	if sawTool {
		b.resp.Meta.CountSource = CountToolItems
	}
}

func walkChatCompletions(root gjson.Result, b *builder) {
	choice := First(root, "choices.0")
	b.resp.FinishReason = First(choice, "finish_reason", "finishReason").String()

	msg := First(choice, "message", "delta")
	content := First(msg, "content")
	if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			b.appendText(First(part, "text").String())
			return true
		})
	} else {
		b.appendText(content.String())
	}

	First(msg, "annotations").ForEach(func(_, ann gjson.Result) bool {
		b.addCitations(First(ann, "url_citation"), "annotation")
		return true
	})

	calls := First(msg, "tool_calls")
	if !calls.IsArray() {
		return
	}
	calls.ForEach(func(_, call gjson.Result) bool {
		name := First(call, "function.name", "name", "type").String()
		if !strings.Contains(name, "search") {
			return true
		}
		if succeeded(call) {
			b.resp.ToolCallCount++
		} else {
			b.resp.FailedToolCalls++
		}
		return true
	})
	b.resp.Meta.CountSource = CountToolItems
}

// walkAnthropic reads a Messages API payload.
func walkAnthropic(root gjson.Result, b *builder) {
	b.resp.ModelVersion = First(root, "model").String()
	b.resp.FinishReason = First(root, "stop_reason", "stopReason").String()
	b.usage(First(root, "usage"),
		[]string{"input_tokens"},
		[]string{"output_tokens"},
		[]string{"total_tokens"})

	uses, results := 0, 0
	First(root, "content").ForEach(func(_, block gjson.Result) bool {
		switch First(block, "type").String() {
		case "text":
			b.appendText(First(block, "text").String())
			b.addCitations(First(block, "citations"), "citation")
		case "server_tool_use", "tool_use":
			if !strings.Contains(First(block, "name").String(), "search") {
				return true
			}
			uses++
			b.addQuery(First(block, "input.query").String())
		case "web_search_tool_result":
			content := First(block, "content")
			if !content.IsArray() {
				// An object here is a web_search_tool_result_error.
				b.resp.FailedToolCalls++
				return true
			}
			results++
			b.addCitations(content, "search_result")
		}
		return true
	})

	if requests := First(root, "usage.server_tool_use.web_search_requests", "usage.serverToolUse.webSearchRequests"); requests.Exists() {
		n := int(requests.Int()) - b.resp.FailedToolCalls
		if n < 0 {
			n = 0
		}
		b.resp.ToolCallCount = n
		b.resp.Meta.CountSource = CountQueries
		return
	}

	switch {
	case results > 0:
		b.resp.ToolCallCount = results
		b.resp.Meta.CountSource = CountToolItems
	case uses > 0 && b.resp.FailedToolCalls == 0:
		b.resp.ToolCallCount = uses
		b.resp.Meta.CountSource = CountToolItems
	case uses > 0:
		b.resp.Meta.CountSource = CountToolItems
	}
}

// walkGemini reads a generateContent payload in either camelCase or
// snake_case.
func walkGemini(root gjson.Result, b *builder) {
	b.resp.ModelVersion = First(root, "modelVersion", "model_version").String()
	b.usage(First(root, "usageMetadata", "usage_metadata"),
		[]string{"promptTokenCount", "prompt_token_count"},
		[]string{"candidatesTokenCount", "candidates_token_count"},
		[]string{"totalTokenCount", "total_token_count"})

	cand := First(root, "candidates.0")
	b.resp.FinishReason = First(cand, "finishReason", "finish_reason").String()

	First(cand, "content.parts").ForEach(func(_, part gjson.Result) bool {
		if First(part, "thought").Bool() {
			return true
		}
		b.appendText(First(part, "text").String())
		return true
	})

	gm := First(cand, "groundingMetadata", "grounding_metadata")
	chunks := First(gm, "groundingChunks", "grounding_chunks")
	b.addCitations(chunks, "grounding_chunk")

	First(First(cand, "citationMetadata", "citation_metadata"), "citations", "citationSources", "citation_sources").
		ForEach(func(_, c gjson.Result) bool {
			b.addCitations(c, "citation_metadata")
			return true
		})

	// Blank queries are dropped; with none left, the grounding flag decides.
	before := len(b.resp.SearchQueries)
	First(gm, "webSearchQueries", "web_search_queries").ForEach(func(_, q gjson.Result) bool {
		b.addQuery(q.String())
		return true
	})
	if n := len(b.resp.SearchQueries) - before; n > 0 {
		b.resp.ToolCallCount = n
		b.resp.Meta.CountSource = CountQueries
		return
	}

	entry := First(gm, "searchEntryPoint", "search_entry_point")
	if (chunks.IsArray() && len(chunks.Array()) > 0) || entry.Exists() {
		b.resp.ToolCallCount = 1
		b.resp.Meta.CountSource = CountGroundingFlag
	}
}
