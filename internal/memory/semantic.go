package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// messageNamespace is the fixed UUIDv5 namespace for conversation message
// and summary points, so a given (conversation, message) pair always maps
// to the same vector-store point id across restarts.
var messageNamespace = uuid.MustParse("8f14e45f-ceea-467e-bb0e-5e5c0e9d2a1e")

// Embedder is the subset of providers.Provider semantic recall needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	SupportsEmbeddings() bool
}

const conversationCollection = "aeon_conversation_messages"

// Semantic wires the durable log, an optional vector store, and an optional
// embedder into the remember/recall/summarize operations spec.md assigns
// to the memory subsystem. VectorStore and Embedder may both be nil; every
// method degrades to log-only behavior in that case.
type Semantic struct {
	Store    Store
	Vectors  VectorStore
	Embedder Embedder
	Log      *slog.Logger

	SummarizationThreshold int
	EmbeddingModel         string
}

func messagePointKey(conversationID string, messageID int64) string {
	return fmt.Sprintf("msg:%s:%d", conversationID, messageID)
}

// Remember persists a message to the durable log and, best-effort, indexes
// it in the vector store. Durable-log failures are returned to the caller;
// vector-store failures are logged and swallowed.
func (s *Semantic) Remember(ctx context.Context, conversationID string, msg Message) (int64, error) {
	id, err := s.Store.AppendMessage(ctx, conversationID, msg)
	if err != nil {
		return 0, fmt.Errorf("memory: remember: %w", err)
	}

	if s.Vectors == nil || s.Embedder == nil || !s.Embedder.SupportsEmbeddings() {
		return id, nil
	}

	vec, err := s.Embedder.Embed(ctx, msg.Content)
	if err != nil {
		s.log().Warn("memory: embed message failed", "conversation_id", conversationID, "message_id", id, "error", err)
		return id, nil
	}

	dim, ok, err := s.Vectors.CollectionDimension(ctx, conversationCollection)
	if err != nil {
		s.log().Warn("memory: collection dimension check failed", "error", err)
		return id, nil
	}
	if !ok || dim != len(vec) {
		if err := s.Vectors.EnsureCollection(ctx, conversationCollection, len(vec)); err != nil {
			s.log().Warn("memory: ensure collection failed", "error", err)
			return id, nil
		}
	}

	payload := map[string]any{
		"message_id":      id,
		"conversation_id": conversationID,
		"role":            msg.Role,
		"is_summary":      msg.IsSummary,
	}
	pointID := uuid.NewSHA1(messageNamespace, []byte(messagePointKey(conversationID, id))).String()
	if err := s.Vectors.Upsert(ctx, conversationCollection, pointID, vec, payload); err != nil {
		s.log().Warn("memory: upsert embedding failed", "conversation_id", conversationID, "message_id", id, "error", err)
	}
	return id, nil
}

// RecallFilter restricts a semantic search to a conversation and/or role.
type RecallFilter struct {
	ConversationID string
	Role           string
}

// RecalledMessage is one semantic-search hit resolved back to its full
// message row.
type RecalledMessage struct {
	Message
	Score float32
}

// Recall embeds query once, searches the conversation collection, and
// resolves each hit by loading its conversation's history from Store and
// picking the message by ID; there is no batch fetch, so Store.History is
// called once per hit, and hits whose history fails to load are skipped.
// Returns an empty
// slice (not an error) if no vector store/embedder is configured or the
// vector store is unavailable.
func (s *Semantic) Recall(ctx context.Context, query string, filter RecallFilter, limit int) ([]RecalledMessage, error) {
	if s.Vectors == nil || s.Embedder == nil || !s.Embedder.SupportsEmbeddings() {
		return nil, nil
	}

	vec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		s.log().Warn("memory: recall embed failed", "error", err)
		return nil, nil
	}

	must := map[string]any{}
	if filter.ConversationID != "" {
		must["conversation_id"] = filter.ConversationID
	}
	if filter.Role != "" {
		must["role"] = filter.Role
	}

	hits, err := s.Vectors.Search(ctx, conversationCollection, vec, limit, must, nil)
	if err != nil {
		s.log().Warn("memory: recall search failed", "error", err)
		return nil, nil
	}
	if len(hits) == 0 {
		return nil, nil
	}

	out := make([]RecalledMessage, 0, len(hits))
	for _, hit := range hits {
		messageID, _ := hit.Payload["message_id"].(int64)
		convID, _ := hit.Payload["conversation_id"].(string)
		if convID == "" {
			convID = filter.ConversationID
		}
		history, err := s.Store.History(ctx, convID, 0)
		if err != nil {
			continue
		}
		for _, m := range history {
			if m.ID == messageID {
				out = append(out, RecalledMessage{Message: m, Score: hit.Score})
				break
			}
		}
	}
	return out, nil
}

// SummaryRequest is the collaborator contract for generating a concise,
// fact-preserving summary of a run of messages.
type SummaryRequest func(ctx context.Context, messages []Message) (string, error)

// MaybeSummarize triggers summarization when the conversation has grown
// past SummarizationThreshold messages, folding the next
// SummarizationThreshold/2 messages after the last summarized point into a
// new Summary and embedding it under the "system" role.
func (s *Semantic) MaybeSummarize(ctx context.Context, conversationID string, generate SummaryRequest) (*Summary, error) {
	threshold := s.SummarizationThreshold
	if threshold <= 0 {
		threshold = 100
	}

	count, err := s.Store.MessageCount(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("memory: count messages: %w", err)
	}
	if count <= threshold {
		return nil, nil
	}

	var lastSummarized int64
	if prior, err := s.Store.GetSummary(ctx, conversationID); err == nil && prior != nil {
		lastSummarized = prior.CoversUpTo
	}

	history, err := s.Store.History(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("memory: load history for summary: %w", err)
	}

	batchSize := threshold / 2
	if batchSize < 1 {
		batchSize = 1
	}

	var batch []Message
	for _, m := range history {
		if m.ID <= lastSummarized || m.IsSummary {
			continue
		}
		batch = append(batch, m)
		if len(batch) >= batchSize {
			break
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}

	content, err := generate(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("memory: generate summary: %w", err)
	}

	summary := Summary{
		ConversationID: conversationID,
		Content:        content,
		CoversUpTo:     batch[len(batch)-1].ID,
	}
	if err := s.Store.SetSummary(ctx, conversationID, summary); err != nil {
		return nil, fmt.Errorf("memory: persist summary: %w", err)
	}

	if _, err := s.Remember(ctx, conversationID, Message{
		ConversationID: conversationID,
		Role:           "system",
		Content:        content,
		IsSummary:      true,
	}); err != nil {
		s.log().Warn("memory: embed summary failed", "conversation_id", conversationID, "error", err)
	}

	return &summary, nil
}

// ContextBudgetExceeded reports whether the estimated token usage of
// messages has crossed 80% of budget. A budget of 0 disables the check.
func ContextBudgetExceeded(messages []Message, budget int) bool {
	if budget <= 0 {
		return false
	}
	var used int
	for _, m := range messages {
		used += EstimateTokens(m.Content)
	}
	return float64(used) >= 0.80*float64(budget)
}

func (s *Semantic) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
