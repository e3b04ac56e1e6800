package memory

import "context"

// Store is the durable conversation log. Implementations must be safe for
// concurrent use. Durable-log failures are fatal to the run that caused
// them — callers should not retry into a degraded mode.
type Store interface {
	AppendMessage(ctx context.Context, conversationID string, msg Message) (int64, error)
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)
	GetSummary(ctx context.Context, conversationID string) (*Summary, error)
	SetSummary(ctx context.Context, conversationID string, summary Summary) error
	// TruncateBefore deletes persisted messages with ID <= upTo. Vector-store
	// points that reference them are not touched.
	TruncateBefore(ctx context.Context, conversationID string, upTo int64) error
	MessageCount(ctx context.Context, conversationID string) (int, error)
	Close() error
}

// VectorStore is the semantic index used for recall and skill matching.
// Vector-store failures are non-fatal: callers log and continue without
// semantic recall rather than aborting the run.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	// Upsert writes or replaces a point, keyed by id, within collection.
	Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]any) error
	Delete(ctx context.Context, collection string, ids []string) error
	// Search returns the topK nearest points to vector, optionally filtered
	// by exact-match payload fields (must) and excluded fields (mustNot).
	Search(ctx context.Context, collection string, vector []float32, topK int, must, mustNot map[string]any) ([]ScoredPoint, error)
	// Scroll enumerates every point in a collection without vector search,
	// used by delta-sync to detect orphans and model-change churn.
	Scroll(ctx context.Context, collection string) ([]Point, error)
	CollectionDimension(ctx context.Context, collection string) (int, bool, error)
}

// Point is a stored vector plus its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a Point with its similarity score against a query vector.
type ScoredPoint struct {
	Point
	Score float32
}
