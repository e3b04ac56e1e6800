// Package embedregistry implements a content-hash-delta sync engine for
// vector collections. Its only caller is the skills registry, which uses it
// to index skill descriptions for semantic matching; conversation messages
// are embedded directly by memory.Semantic.
package embedregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/memory"
)

// Embedder produces a vector for a piece of text. internal/providers.Provider
// satisfies this via its Embed method.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Item is anything that can be synced into a vector collection: a message,
// a summary, or a skill description.
type Item struct {
	Key       string
	EmbedText string
	Payload   map[string]any
}

// ContentHash returns the stable hex digest of embedText, used to detect
// whether an item changed since its last sync.
func ContentHash(embedText string) string {
	sum := sha256.Sum256([]byte(embedText))
	return hex.EncodeToString(sum[:])
}

// PointID derives a deterministic UUIDv5 from a namespace and key, so the
// same logical item always maps to the same vector-store point.
func PointID(namespace uuid.UUID, key string) string {
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// SyncCounts tallies what a Sync call did, matching the registry's
// {added, updated, removed, unchanged} contract.
type SyncCounts struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// Sync reconciles collection against items, embedding only what changed.
// A failure embedding one item is logged and skipped; it does not abort
// the rest of the sync.
func Sync(ctx context.Context, store memory.VectorStore, embedder Embedder, log *slog.Logger, namespace uuid.UUID, collection, model string, items []Item) (SyncCounts, error) {
	var counts SyncCounts

	probeVec, err := embedder.Embed(ctx, "embedding dimension probe")
	if err != nil {
		return counts, fmt.Errorf("embedregistry: probe dimension: %w", err)
	}
	dim := len(probeVec)

	existingDim, ok, err := store.CollectionDimension(ctx, collection)
	if err != nil {
		return counts, fmt.Errorf("embedregistry: collection dimension: %w", err)
	}
	if !ok || existingDim != dim {
		if err := store.EnsureCollection(ctx, collection, dim); err != nil {
			return counts, fmt.Errorf("embedregistry: ensure collection: %w", err)
		}
	}

	existing, err := store.Scroll(ctx, collection)
	if err != nil {
		return counts, fmt.Errorf("embedregistry: scroll existing: %w", err)
	}

	byKey := make(map[string]memory.Point, len(existing))
	modelChanged := false
	for _, p := range existing {
		key, _ := p.Payload["key"].(string)
		if key == "" {
			continue
		}
		byKey[key] = p
		if storedModel, _ := p.Payload["embedding_model"].(string); storedModel != "" && storedModel != model {
			modelChanged = true
		}
	}

	if modelChanged {
		ids := make([]string, 0, len(existing))
		for _, p := range existing {
			ids = append(ids, p.ID)
		}
		if err := store.Delete(ctx, collection, ids); err != nil {
			return counts, fmt.Errorf("embedregistry: drop stale model collection: %w", err)
		}
		if err := store.EnsureCollection(ctx, collection, dim); err != nil {
			return counts, fmt.Errorf("embedregistry: recreate collection: %w", err)
		}
		byKey = make(map[string]memory.Point)
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.Key] = true
		hash := ContentHash(item.EmbedText)
		pointID := PointID(namespace, item.Key)

		if prior, ok := byKey[item.Key]; ok && !modelChanged {
			if priorHash, _ := prior.Payload["content_hash"].(string); priorHash == hash {
				counts.Unchanged++
				continue
			}
		}

		vec, err := embedder.Embed(ctx, item.EmbedText)
		if err != nil {
			log.Warn("embedregistry: embed item failed, skipping", "key", item.Key, "error", err)
			continue
		}

		payload := make(map[string]any, len(item.Payload)+3)
		for k, v := range item.Payload {
			payload[k] = v
		}
		payload["key"] = item.Key
		payload["content_hash"] = hash
		payload["embedding_model"] = model

		if err := store.Upsert(ctx, collection, pointID, vec, payload); err != nil {
			log.Warn("embedregistry: upsert item failed, skipping", "key", item.Key, "error", err)
			continue
		}

		if _, ok := byKey[item.Key]; ok {
			counts.Updated++
		} else {
			counts.Added++
		}
	}

	var orphans []string
	for key, p := range byKey {
		if !seen[key] {
			orphans = append(orphans, p.ID)
		}
	}
	if len(orphans) > 0 {
		if err := store.Delete(ctx, collection, orphans); err != nil {
			return counts, fmt.Errorf("embedregistry: delete orphans: %w", err)
		}
		counts.Removed = len(orphans)
	}

	return counts, nil
}
