package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/aeon/internal/memory"
	"github.com/nextlevelbuilder/aeon/internal/providers"
)

// buildMessages assembles the provider-facing message list for a turn: an
// optional system prompt, the active summary (if any) folded in as a
// system message, the recent durable-log history, and the new user turn.
func (l *Loop) buildMessages(ctx context.Context, systemPrompt string, history []memory.Message, userText string, images []providers.ImageContent) []providers.Message {
	var out []providers.Message
	if systemPrompt != "" {
		out = append(out, providers.Message{Role: "system", Content: systemPrompt})
	}

	if summary, err := l.Memory.Store.GetSummary(ctx, l.ConversationID); err == nil && summary != nil {
		out = append(out, providers.Message{
			Role:    "system",
			Content: fmt.Sprintf("Earlier conversation summary:\n%s", summary.Content),
		})
	}

	for _, m := range history {
		if m.IsSummary {
			continue // already folded in via GetSummary above
		}
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}

	out = append(out, providers.Message{Role: "user", Content: userText, Images: images})
	return out
}

// estimatedPromptTokens sums estimate_tokens across every message about to
// be sent, the heuristic the context-budget guard uses.
func estimatedPromptTokens(messages []providers.Message) int {
	var total int
	for _, m := range messages {
		total += memory.EstimateTokens(m.Content)
	}
	return total
}

// loadHistory fetches the configured window of recent durable-log
// messages for a conversation.
func (l *Loop) loadHistory(ctx context.Context, limit int) ([]memory.Message, error) {
	return l.Memory.Store.History(ctx, l.ConversationID, limit)
}
