package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAnthropicProvider(baseURL string) *AnthropicProvider {
	return NewAnthropicProvider("test-key", WithAnthropicBaseURL(baseURL), WithAnthropicModel("claude-test"))
}

func TestAnthropicProvider_Chat_ParsesTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("unexpected x-api-key header: %q", r.Header.Get("x-api-key"))
		}
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "hello"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := newTestAnthropicProvider(srv.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_Chat_ParsesToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"content": [{"type": "tool_use", "id": "tu_1", "name": "read", "input": {"path": "a.txt"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer srv.Close()

	p := newTestAnthropicProvider(srv.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "read it"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Errorf("Arguments = %+v", resp.ToolCalls[0].Arguments)
	}
	if resp.RawAssistantContent == nil {
		t.Error("expected RawAssistantContent to be preserved when tool calls are present")
	}
}

func TestAnthropicProvider_Chat_HTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	p := newTestAnthropicProvider(srv.URL)
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}

func TestAnthropicProvider_Embed_Unsupported(t *testing.T) {
	p := newTestAnthropicProvider("http://example.invalid")
	_, err := p.Embed(context.Background(), "hi")
	if err == nil {
		t.Error("expected Embed to be unsupported for anthropic")
	}
}

func TestAnthropicProvider_BuildRequestBody_SeparatesSystemBlocks(t *testing.T) {
	p := newTestAnthropicProvider("http://example.invalid")
	req := ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
		},
	}
	body := p.buildRequestBody("claude-test", req, false)
	sys, ok := body["system"].([]map[string]interface{})
	if !ok || len(sys) != 1 || sys[0]["text"] != "be helpful" {
		t.Fatalf("system = %+v", body["system"])
	}
	msgs := body["messages"].([]map[string]interface{})
	if len(msgs) != 1 || msgs[0]["role"] != "user" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestAnthropicProvider_BuildRequestBody_ToolResultBecomesUserMessage(t *testing.T) {
	p := newTestAnthropicProvider("http://example.invalid")
	req := ChatRequest{
		Messages: []Message{
			{Role: "tool", ToolCallID: "tu_1", Content: "file contents"},
		},
	}
	body := p.buildRequestBody("claude-test", req, false)
	msgs := body["messages"].([]map[string]interface{})
	if msgs[0]["role"] != "user" {
		t.Errorf("expected tool results to become user messages, got role %v", msgs[0]["role"])
	}
	content := msgs[0]["content"].([]map[string]interface{})
	if content[0]["type"] != "tool_result" || content[0]["tool_use_id"] != "tu_1" {
		t.Errorf("content = %+v", content)
	}
}

func TestAnthropicProvider_BuildRequestBody_ThinkingDisablesTemperature(t *testing.T) {
	p := newTestAnthropicProvider("http://example.invalid")
	req := ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Options:  map[string]interface{}{OptThinkingLevel: "high", OptTemperature: 0.7},
	}
	body := p.buildRequestBody("claude-test", req, false)
	if _, ok := body["temperature"]; ok {
		t.Error("expected temperature to be stripped when thinking is enabled")
	}
	thinking, ok := body["thinking"].(map[string]interface{})
	if !ok || thinking["budget_tokens"] != 32000 {
		t.Errorf("thinking = %+v", body["thinking"])
	}
}

func TestAnthropicProvider_BuildRequestBody_UsesRawAssistantContentWhenPresent(t *testing.T) {
	p := newTestAnthropicProvider("http://example.invalid")
	raw := []byte(`[{"type":"thinking","thinking":"pondering","signature":"sig123"}]`)
	req := ChatRequest{
		Messages: []Message{
			{Role: "assistant", RawAssistantContent: raw},
		},
	}
	body := p.buildRequestBody("claude-test", req, false)
	msgs := body["messages"].([]map[string]interface{})
	if msgs[0]["role"] != "assistant" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestAnthropicThinkingBudget(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"low", 4096},
		{"medium", 10000},
		{"high", 32000},
		{"", 10000},
	}
	for _, tt := range tests {
		if got := anthropicThinkingBudget(tt.level); got != tt.want {
			t.Errorf("anthropicThinkingBudget(%q) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestAnthropicProvider_DoRequest_AddsInterleavedThinkingBetaHeader(t *testing.T) {
	var gotBeta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("anthropic-beta")
		w.Write([]byte(`{"content": [], "stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 1}}`))
	}))
	defer srv.Close()

	p := newTestAnthropicProvider(srv.URL)
	req := ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Options:  map[string]interface{}{OptThinkingLevel: "medium"},
	}
	_, err := p.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBeta != "interleaved-thinking-2025-05-14" {
		t.Errorf("anthropic-beta header = %q", gotBeta)
	}
}

func TestAnthropicProvider_ChatStream_AccumulatesTextAndToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		events := []string{
			"event: message_start\ndata: {\"message\":{\"usage\":{\"input_tokens\":10}}}\n\n",
			"event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n",
			"event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hi there\"}}\n\n",
			"event: content_block_stop\ndata: {}\n\n",
			"event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":5}}\n\n",
			"event: message_stop\ndata: {}\n\n",
		}
		for _, e := range events {
			w.Write([]byte(e))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := newTestAnthropicProvider(srv.URL)
	var streamed string
	resp, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, func(c StreamChunk) {
		streamed += c.Content
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamed != "hi there" {
		t.Errorf("streamed = %q", streamed)
	}
	if resp.Content != "hi there" {
		t.Errorf("resp.Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestAnthropicProvider_ChatStream_PropagatesStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("event: error\ndata: {\"error\":{\"type\":\"overloaded_error\",\"message\":\"server overloaded\"}}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p := newTestAnthropicProvider(srv.URL)
	_, err := p.ChatStream(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, nil)
	if err == nil {
		t.Fatal("expected a stream error event to surface as an error")
	}
}

func TestAnthropicProvider_SupportsFlags(t *testing.T) {
	p := newTestAnthropicProvider("http://example.invalid")
	if p.SupportsEmbeddings() {
		t.Error("expected anthropic to not support embeddings")
	}
	if !p.SupportsStreaming() || !p.SupportsVision() {
		t.Error("expected anthropic to support streaming and vision")
	}
	if p.ContextWindow() != 200_000 {
		t.Errorf("ContextWindow = %d", p.ContextWindow())
	}
}
