package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs
// (OpenAI, Groq, OpenRouter, DeepSeek, VLLM, etc.)
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	chatPath     string // defaults to "/chat/completions"
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

// WithChatPath sets a custom chat completions path on p and returns p (e.g. "/text/chatcompletion_v2" for MiniMax native API).
func (p *OpenAIProvider) WithChatPath(path string) *OpenAIProvider {
	p.chatPath = path
	return p
}

func (p *OpenAIProvider) Name() string            { return p.name }
func (p *OpenAIProvider) DefaultModel() string     { return p.defaultModel }
func (p *OpenAIProvider) SupportsThinking() bool   { return true }
func (p *OpenAIProvider) APIKey() string           { return p.apiKey }
func (p *OpenAIProvider) APIBase() string          { return p.apiBase }
func (p *OpenAIProvider) SupportsStreaming() bool  { return true }
func (p *OpenAIProvider) SupportsEmbeddings() bool { return true }
func (p *OpenAIProvider) SupportsVision() bool     { return true }
func (p *OpenAIProvider) ContextWindow() int       { return 128_000 }

// embeddingModel is the model used for Embed calls; OpenAI-compatible
// chat-completion models and embedding models are distinct, so this is
// fixed rather than derived from defaultModel.
const embeddingModel = "text-embedding-3-small"

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedViaOpenAICompatible(ctx, p.client, p.apiBase, p.apiKey, embeddingModel, text)
}

// resolveModel returns the model ID to use for a request.
// For OpenRouter, model IDs require a provider prefix (e.g. "anthropic/claude-sonnet-4-5-20250929").
// If the caller passes an unprefixed model, fall back to the provider's default.
func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	if p.name == "openrouter" && !strings.Contains(model, "/") {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := p.resolveModel(req.Model)
	body := p.buildRequestBody(model, req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}

		return p.parseResponse(&oaiResp), nil
	})
}

// openAIStreamState folds incremental SSE chunks into a single ChatResponse.
// Tool-call arguments arrive split across many deltas keyed by index, so
// they're accumulated separately and only parsed to JSON once the stream
// closes.
type openAIStreamState struct {
	resp         ChatResponse
	toolCalls    map[int]*toolCallAccumulator
	toolCallSeen []int // preserves first-seen order; map iteration order isn't stable
}

func newOpenAIStreamState() *openAIStreamState {
	return &openAIStreamState{
		resp:      ChatResponse{FinishReason: "stop"},
		toolCalls: make(map[int]*toolCallAccumulator),
	}
}

func (s *openAIStreamState) absorb(chunk openAIStreamChunk, onChunk func(StreamChunk)) {
	if chunk.Usage != nil {
		s.resp.Usage = &Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
		if chunk.Usage.PromptTokensDetails != nil {
			s.resp.Usage.CacheReadTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		if chunk.Usage.CompletionTokensDetails != nil && chunk.Usage.CompletionTokensDetails.ReasoningTokens > 0 {
			s.resp.Usage.ThinkingTokens = chunk.Usage.CompletionTokensDetails.ReasoningTokens
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if choice.Delta.ReasoningContent != "" {
		s.resp.Thinking += choice.Delta.ReasoningContent
		if onChunk != nil {
			onChunk(StreamChunk{Thinking: choice.Delta.ReasoningContent})
		}
	}
	if choice.Delta.Content != "" {
		s.resp.Content += choice.Delta.Content
		if onChunk != nil {
			onChunk(StreamChunk{Content: choice.Delta.Content})
		}
	}
	for _, tc := range choice.Delta.ToolCalls {
		s.mergeToolCallDelta(tc)
	}
	if choice.FinishReason != "" {
		s.resp.FinishReason = choice.FinishReason
	}
}

func (s *openAIStreamState) mergeToolCallDelta(tc openAIStreamToolCall) {
	acc, ok := s.toolCalls[tc.Index]
	if !ok {
		acc = &toolCallAccumulator{ToolCall: ToolCall{ID: tc.ID}}
		s.toolCalls[tc.Index] = acc
		s.toolCallSeen = append(s.toolCallSeen, tc.Index)
	}
	if tc.Function.Name != "" {
		acc.Name = strings.TrimSpace(tc.Function.Name)
	}
	acc.rawArgs += tc.Function.Arguments
	if tc.Function.ThoughtSignature != "" {
		acc.thoughtSig = tc.Function.ThoughtSignature
	}
}

func (s *openAIStreamState) finalize() {
	for _, idx := range s.toolCallSeen {
		acc := s.toolCalls[idx]
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(acc.rawArgs), &args)
		acc.Arguments = args
		if acc.thoughtSig != "" {
			acc.Metadata = map[string]string{"thought_signature": acc.thoughtSig}
		}
		s.resp.ToolCalls = append(s.resp.ToolCalls, acc.ToolCall)
	}
	if len(s.resp.ToolCalls) > 0 {
		s.resp.FinishReason = "tool_calls"
	}
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := p.resolveModel(req.Model)
	body := p.buildRequestBody(model, req, true)

	// Retry only the connection phase; once streaming starts, no retry.
	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	state := newOpenAIStreamState()
	scanner := bufio.NewScanner(respBody)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		state.absorb(chunk, onChunk)
	}
	state.finalize()

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return &state.resp, nil
}

func (p *OpenAIProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]interface{} {
	inputMessages := req.Messages
	// Gemini requires a tool_call's thought_signature echoed back verbatim;
	// models that never returned one (e.g. gemini-3-flash on a retried turn)
	// trigger a 400 if the bare call is resent, so unsigned cycles are
	// collapsed down to the assistant's text before the request goes out.
	if strings.Contains(strings.ToLower(p.name), "gemini") {
		inputMessages = collapseToolCallsWithoutSig(inputMessages)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": buildOpenAIMessages(inputMessages),
		"stream":   stream,
	}

	if len(req.Tools) > 0 {
		body["tools"] = CleanToolSchemas(p.name, req.Tools)
		body["tool_choice"] = "auto"
		if v, ok := req.Options["parallel_tool_calls"]; ok {
			body["parallel_tool_calls"] = v
		}
	}

	if stream {
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}

	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}

	// o-series reasoning models take an effort level instead of a token
	// budget; vendors that don't recognize the field simply ignore it.
	if level, ok := req.Options[OptThinkingLevel].(string); ok && level != "" && level != "off" {
		body[OptReasoningEffort] = level
	}

	if v, ok := req.Options[OptEnableThinking]; ok {
		body[OptEnableThinking] = v
	}
	if v, ok := req.Options[OptThinkingBudget]; ok {
		body[OptThinkingBudget] = v
	}

	return body
}

// buildOpenAIMessages translates the provider-neutral Message slice into the
// OpenAI wire shape: tool_calls get their type+function wrapper with
// arguments re-encoded as a JSON string, image content becomes a parts
// array, and empty assistant content is omitted when tool_calls are present
// (Gemini rejects a message with neither).
func buildOpenAIMessages(msgs []Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		wire := map[string]interface{}{"role": m.Role}

		switch {
		case m.Role == "user" && len(m.Images) > 0:
			wire["content"] = openAIImageParts(m)
		case m.Content != "" || len(m.ToolCalls) == 0:
			wire["content"] = m.Content
		}

		if len(m.ToolCalls) > 0 {
			wire["tool_calls"] = openAIWireToolCalls(m.ToolCalls)
		}
		if m.ToolCallID != "" {
			wire["tool_call_id"] = m.ToolCallID
		}

		out = append(out, wire)
	}
	return out
}

func openAIImageParts(m Message) []map[string]interface{} {
	var parts []map[string]interface{}
	for _, img := range m.Images {
		parts = append(parts, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]interface{}{"url": fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)},
		})
	}
	if m.Content != "" {
		parts = append(parts, map[string]interface{}{"type": "text", "text": m.Content})
	}
	return parts
}

func openAIWireToolCalls(calls []ToolCall) []map[string]interface{} {
	wire := make([]map[string]interface{}, len(calls))
	for i, tc := range calls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		fn := map[string]interface{}{"name": tc.Name, "arguments": string(argsJSON)}
		if sig := tc.Metadata["thought_signature"]; sig != "" {
			fn["thought_signature"] = sig
		}
		wire[i] = map[string]interface{}{"id": tc.ID, "type": "function", "function": fn}
	}
	return wire
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+p.chatPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: retryAfter,
		}
	}

	return resp.Body, nil
}

func (p *OpenAIProvider) parseResponse(resp *openAIResponse) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop"}

	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		result.Content = msg.Content
		result.Thinking = msg.ReasoningContent
		result.FinishReason = resp.Choices[0].FinishReason

		for _, tc := range msg.ToolCalls {
			args := make(map[string]interface{})
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			call := ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: args,
			}
			if tc.Function.ThoughtSignature != "" {
				call.Metadata = map[string]string{"thought_signature": tc.Function.ThoughtSignature}
			}
			result.ToolCalls = append(result.ToolCalls, call)
		}

		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		if resp.Usage.PromptTokensDetails != nil {
			result.Usage.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
		}
		if resp.Usage.CompletionTokensDetails != nil && resp.Usage.CompletionTokensDetails.ReasoningTokens > 0 {
			result.Usage.ThinkingTokens = resp.Usage.CompletionTokensDetails.ReasoningTokens
		}
	}

	return result
}
