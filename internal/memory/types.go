// Package memory implements the durable conversation log, semantic
// recall, and automatic summarization described by the agent's memory
// subsystem.
package memory

import "time"

// Message is one turn in a conversation, persisted to the durable log.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user", "assistant", "system"; tool output is stored as "user"
	Content        string    `json:"content"`
	IsSummary      bool      `json:"is_summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation groups messages under a session key.
type Conversation struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueuedMessage is a message waiting to be coalesced into the active
// generation turn (see the agent package's intake queue).
type QueuedMessage struct {
	Content   string
	Media     []string
	QueuedAt  time.Time
}

// Summary replaces a run of older messages once a conversation crosses
// the summarization threshold.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	CoversUpTo     int64     `json:"covers_up_to"` // last Message.ID folded into this summary
	CreatedAt      time.Time `json:"created_at"`
}

// EmbeddingRecord is the payload persisted alongside a vector so a vector
// hit can be mapped back to its source message.
type EmbeddingRecord struct {
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	IsSummary      bool   `json:"is_summary"`
}

// EstimateTokens is the conservative chars/4 heuristic used throughout
// the memory subsystem for budgeting, not an exact tokenizer count.
func EstimateTokens(content string) int {
	return len(content) / 4
}
