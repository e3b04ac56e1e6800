package providers

import (
	"context"
	"log/slog"
)

const (
	dashscopeDefaultBase  = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	dashscopeDefaultModel = "qwen3-max"
	dashscopeEmbedModel   = "text-embedding-v3"
)

// DashScopeProvider wraps OpenAIProvider to handle DashScope-specific behaviors.
// Critical: DashScope does NOT support tools + streaming simultaneously.
// When tools are present, ChatStream falls back to non-streaming Chat().
type DashScopeProvider struct {
	*OpenAIProvider
}

func NewDashScopeProvider(apiKey, apiBase, defaultModel string) *DashScopeProvider {
	if apiBase == "" {
		apiBase = dashscopeDefaultBase
	}
	if defaultModel == "" {
		defaultModel = dashscopeDefaultModel
	}
	return &DashScopeProvider{
		OpenAIProvider: NewOpenAIProvider("dashscope", apiKey, apiBase, defaultModel),
	}
}

func (p *DashScopeProvider) Name() string          { return "dashscope" }
func (p *DashScopeProvider) SupportsThinking() bool { return true }
func (p *DashScopeProvider) ContextWindow() int     { return 32_000 }

func (p *DashScopeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedViaOpenAICompatible(ctx, p.client, p.apiBase, p.apiKey, dashscopeEmbedModel, text)
}

// Chat remaps the generic thinking_level option to DashScope's
// enable_thinking/thinking_budget pair before delegating to the embedded
// OpenAIProvider; without this, a non-streaming request with thinking
// enabled would carry the generic key straight through and DashScope would
// silently ignore it.
func (p *DashScopeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.OpenAIProvider.Chat(ctx, withDashscopeThinkingOptions(req))
}

// ChatStream handles DashScope's limitation: tools + streaming cannot coexist.
// When tools are present, falls back to non-streaming Chat() and synthesizes
// chunk callbacks for the caller.
func (p *DashScopeProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	req = withDashscopeThinkingOptions(req)

	if len(req.Tools) > 0 {
		slog.Debug("dashscope: tools present, falling back to non-streaming Chat")
		resp, err := p.OpenAIProvider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if onChunk != nil {
			if resp.Thinking != "" {
				onChunk(StreamChunk{Thinking: resp.Thinking})
			}
			if resp.Content != "" {
				onChunk(StreamChunk{Content: resp.Content})
			}
			onChunk(StreamChunk{Done: true})
		}
		return resp, nil
	}
	return p.OpenAIProvider.ChatStream(ctx, req, onChunk)
}

// withDashscopeThinkingOptions clones req.Options (never mutating the
// caller's map) and swaps the generic thinking_level key for DashScope's
// enable_thinking/thinking_budget pair. A no-op when thinking isn't requested.
func withDashscopeThinkingOptions(req ChatRequest) ChatRequest {
	level, ok := req.Options[OptThinkingLevel].(string)
	if !ok || level == "" || level == "off" {
		return req
	}
	opts := make(map[string]interface{}, len(req.Options)+2)
	for k, v := range req.Options {
		opts[k] = v
	}
	opts[OptEnableThinking] = true
	opts[OptThinkingBudget] = dashscopeThinkingBudget(level)
	delete(opts, OptThinkingLevel)
	req.Options = opts
	return req
}

// dashscopeThinkingBudget maps a thinking level to a DashScope thinking_budget value.
func dashscopeThinkingBudget(level string) int {
	switch level {
	case "low":
		return 4096
	case "medium":
		return 16384
	case "high":
		return 32768
	default:
		return 16384
	}
}
