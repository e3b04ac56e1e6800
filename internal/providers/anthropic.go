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

const (
	defaultClaudeModel = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultClaudeModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.defaultModel = model }
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func (p *AnthropicProvider) Name() string            { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string     { return p.defaultModel }
func (p *AnthropicProvider) SupportsThinking() bool   { return true }
func (p *AnthropicProvider) SupportsStreaming() bool  { return true }
func (p *AnthropicProvider) SupportsEmbeddings() bool { return false }
func (p *AnthropicProvider) SupportsVision() bool     { return true }
func (p *AnthropicProvider) ContextWindow() int       { return 200_000 }

// Embed is unimplemented: Anthropic has no embeddings endpoint, so it always
// returns an error and SupportsEmbeddings reports false.
func (p *AnthropicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic: embeddings not supported, configure an OpenAI-compatible embedding provider")
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp anthropicResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		return resp.toChatResponse(), nil
	})
}

// anthropicStreamState accumulates the pieces of an SSE stream that only
// resolve once their enclosing content block closes: tool-call argument
// fragments (input_json_delta arrives split across many events) and the raw
// content blocks Anthropic expects back verbatim on a follow-up turn when a
// thinking block's signature must be replayed untouched.
type anthropicStreamState struct {
	resp             ChatResponse
	toolArgsJSON     map[int]string
	rawBlocks        []json.RawMessage
	currentBlockType string
	thinkingChars    int
}

func newAnthropicStreamState() *anthropicStreamState {
	return &anthropicStreamState{
		resp:         ChatResponse{FinishReason: "stop"},
		toolArgsJSON: make(map[int]string),
	}
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req, true)

	// Only the connection phase is retried; once the SSE stream starts, a
	// partial response can't be safely replayed against a retry.
	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	state := newAnthropicStreamState()
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // thinking deltas can be large
	var event string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if err := state.handleEvent(event, data, onChunk); err != nil {
			return nil, err
		}
	}

	state.finalize()
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return &state.resp, nil
}

func (s *anthropicStreamState) handleEvent(event, data string, onChunk func(StreamChunk)) error {
	switch event {
	case "message_start":
		var ev anthropicMessageStartEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		s.resp.Usage = &Usage{
			PromptTokens:        ev.Message.Usage.InputTokens,
			CacheCreationTokens: ev.Message.Usage.CacheCreationInputTokens,
			CacheReadTokens:     ev.Message.Usage.CacheReadInputTokens,
		}

	case "content_block_start":
		var ev anthropicContentBlockStartEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		s.currentBlockType = ev.ContentBlock.Type
		if ev.ContentBlock.Type == "tool_use" {
			s.resp.ToolCalls = append(s.resp.ToolCalls, ToolCall{
				ID:        ev.ContentBlock.ID,
				Name:      strings.TrimSpace(ev.ContentBlock.Name),
				Arguments: make(map[string]interface{}),
			})
		}
		s.rawBlocks = append(s.rawBlocks, json.RawMessage(fmt.Sprintf(`{"type":"%s"}`, ev.ContentBlock.Type)))

	case "content_block_delta":
		var ev anthropicContentBlockDeltaEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			s.resp.Content += ev.Delta.Text
			if onChunk != nil {
				onChunk(StreamChunk{Content: ev.Delta.Text})
			}
		case "thinking_delta":
			s.resp.Thinking += ev.Delta.Thinking
			s.thinkingChars += len(ev.Delta.Thinking)
			if onChunk != nil {
				onChunk(StreamChunk{Thinking: ev.Delta.Thinking})
			}
		case "input_json_delta":
			if n := len(s.resp.ToolCalls); n > 0 {
				s.toolArgsJSON[n-1] += ev.Delta.PartialJSON
			}
		}

	case "content_block_stop":
		if n := len(s.rawBlocks); n > 0 {
			if block := s.reconstructBlock(s.currentBlockType, n-1); block != nil {
				s.rawBlocks[n-1] = block
			}
		}
		s.currentBlockType = ""

	case "message_delta":
		var ev anthropicMessageDeltaEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		if ev.Delta.StopReason != "" {
			s.resp.FinishReason = anthropicStopReasonToFinish(ev.Delta.StopReason)
		}
		if ev.Usage.OutputTokens > 0 {
			if s.resp.Usage == nil {
				s.resp.Usage = &Usage{}
			}
			s.resp.Usage.CompletionTokens = ev.Usage.OutputTokens
		}

	case "error":
		var ev anthropicErrorEvent
		if err := json.Unmarshal([]byte(data), &ev); err == nil {
			return fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	return nil
}

// reconstructBlock rebuilds a complete content block from accumulated
// streaming fragments, needed so a thinking block (with its signature) can be
// sent back verbatim on the next turn.
func (s *anthropicStreamState) reconstructBlock(blockType string, toolIndex int) json.RawMessage {
	var block map[string]interface{}
	switch blockType {
	case "thinking":
		block = map[string]interface{}{"type": "thinking", "thinking": s.resp.Thinking}
	case "text":
		block = map[string]interface{}{"type": "text", "text": s.resp.Content}
	case "tool_use":
		if toolIndex < 0 || toolIndex >= len(s.resp.ToolCalls) {
			return nil
		}
		tc := s.resp.ToolCalls[toolIndex]
		args := make(map[string]interface{})
		if raw := s.toolArgsJSON[toolIndex]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		block = map[string]interface{}{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": args}
	case "redacted_thinking":
		block = map[string]interface{}{"type": "redacted_thinking"}
	default:
		return nil
	}
	b, err := json.Marshal(block)
	if err != nil {
		return nil
	}
	return b
}

func (s *anthropicStreamState) finalize() {
	for i, raw := range s.toolArgsJSON {
		if raw == "" || i >= len(s.resp.ToolCalls) {
			continue
		}
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(raw), &args)
		s.resp.ToolCalls[i].Arguments = args
	}
	if s.resp.Usage != nil {
		s.resp.Usage.TotalTokens = s.resp.Usage.PromptTokens + s.resp.Usage.CompletionTokens
		if s.thinkingChars > 0 {
			s.resp.Usage.ThinkingTokens = s.thinkingChars / 4
		}
	}
	if len(s.rawBlocks) > 0 && len(s.resp.ToolCalls) > 0 {
		if b, err := json.Marshal(s.rawBlocks); err == nil {
			s.resp.RawAssistantContent = b
		}
	}
}

func anthropicStopReasonToFinish(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

func (p *AnthropicProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]interface{} {
	systemBlocks := anthropicSystemBlocks(req.Messages)
	messages := anthropicConversationMessages(req.Messages)

	body := map[string]interface{}{
		"model":      model,
		"max_tokens": 4096,
		"messages":   messages,
	}
	if stream {
		body["stream"] = true
	}
	if len(systemBlocks) > 0 {
		// Mark the last (and typically largest, most stable) system block
		// cacheable so a multi-turn conversation reuses the cached prefix
		// instead of re-billing the full system prompt every turn.
		systemBlocks[len(systemBlocks)-1]["cache_control"] = map[string]interface{}{"type": "ephemeral"}
		body["system"] = systemBlocks
	}

	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         t.Function.Name,
				"description":  t.Function.Description,
				"input_schema": CleanSchemaForProvider("anthropic", t.Function.Parameters),
			})
		}
		body["tools"] = tools
	}

	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}

	if level, ok := req.Options[OptThinkingLevel].(string); ok && level != "" && level != "off" {
		budget := anthropicThinkingBudget(level)
		body["thinking"] = map[string]interface{}{"type": "enabled", "budget_tokens": budget}
		delete(body, "temperature") // Anthropic rejects temperature alongside thinking
		if maxTok, ok := body["max_tokens"].(int); !ok || maxTok < budget+4096 {
			body["max_tokens"] = budget + 8192
		}
	}

	return body
}

// anthropicSystemBlocks pulls every system-role message out of the turn
// history into Anthropic's dedicated top-level system array.
func anthropicSystemBlocks(msgs []Message) []map[string]interface{} {
	var blocks []map[string]interface{}
	for _, msg := range msgs {
		if msg.Role == "system" {
			blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
		}
	}
	return blocks
}

// anthropicConversationMessages translates every non-system message into
// Anthropic's content-block message shape: images become inline base64
// blocks, tool calls become tool_use blocks, and tool results are folded
// into a user-role tool_result block since Anthropic has no "tool" role.
func anthropicConversationMessages(msgs []Message) []map[string]interface{} {
	var out []map[string]interface{}
	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			continue

		case "user":
			out = append(out, anthropicUserMessage(msg))

		case "assistant":
			if msg.RawAssistantContent != nil {
				var rawBlocks []json.RawMessage
				if json.Unmarshal(msg.RawAssistantContent, &rawBlocks) == nil && len(rawBlocks) > 0 {
					out = append(out, map[string]interface{}{"role": "assistant", "content": rawBlocks})
					continue
				}
			}
			out = append(out, anthropicAssistantMessage(msg))

		case "tool":
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
				}},
			})
		}
	}
	return out
}

func anthropicUserMessage(msg Message) map[string]interface{} {
	if len(msg.Images) == 0 {
		return map[string]interface{}{"role": "user", "content": msg.Content}
	}
	var blocks []map[string]interface{}
	for _, img := range msg.Images {
		blocks = append(blocks, map[string]interface{}{
			"type":   "image",
			"source": map[string]interface{}{"type": "base64", "media_type": img.MimeType, "data": img.Data},
		})
	}
	if msg.Content != "" {
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
	}
	return map[string]interface{}{"role": "user", "content": blocks}
}

func anthropicAssistantMessage(msg Message) map[string]interface{} {
	var blocks []map[string]interface{}
	if msg.Content != "" {
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, map[string]interface{}{
			"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": tc.Arguments,
		})
	}
	return map[string]interface{}{"role": "assistant", "content": blocks}
}

// anthropicThinkingBudget maps a thinking level to a token budget.
func anthropicThinkingBudget(level string) int {
	switch level {
	case "low":
		return 4096
	case "medium":
		return 10000
	case "high":
		return 32000
	default:
		return 10000
	}
}

func (p *AnthropicProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	if bodyMap, ok := body.(map[string]interface{}); ok {
		if _, hasThinking := bodyMap["thinking"]; hasThinking {
			httpReq.Header.Set("anthropic-beta", "interleaved-thinking-2025-05-14")
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// --- wire types ---

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func (r *anthropicResponse) toChatResponse() *ChatResponse {
	result := &ChatResponse{FinishReason: anthropicStopReasonToFinish(r.StopReason)}
	thinkingChars := 0

	for _, block := range r.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "thinking":
			result.Thinking += block.Thinking
			thinkingChars += len(block.Thinking)
		case "tool_use":
			args := make(map[string]interface{})
			_ = json.Unmarshal(block.Input, &args)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      strings.TrimSpace(block.Name),
				Arguments: args,
			})
		}
	}

	result.Usage = &Usage{
		PromptTokens:        r.Usage.InputTokens,
		CompletionTokens:    r.Usage.OutputTokens,
		TotalTokens:         r.Usage.InputTokens + r.Usage.OutputTokens,
		CacheCreationTokens: r.Usage.CacheCreationInputTokens,
		CacheReadTokens:     r.Usage.CacheReadInputTokens,
	}
	if thinkingChars > 0 {
		result.Usage.ThinkingTokens = thinkingChars / 4
	}

	if len(result.ToolCalls) > 0 {
		if b, err := json.Marshal(r.Content); err == nil {
			result.RawAssistantContent = b
		}
	}
	return result
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type anthropicMessageStartEvent struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	Index        int                   `json:"index"`
	ContentBlock anthropicContentBlock `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		Signature   string `json:"signature,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
