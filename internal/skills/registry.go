package skills

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/memory"
	"github.com/nextlevelbuilder/aeon/internal/memory/embedregistry"
)

// skillNamespace is the fixed UUIDv5 namespace skills are delta-synced
// under, distinct from the conversation message namespace.
var skillNamespace = uuid.MustParse("1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")

const skillCollection = "aeon_skills"

// Match is one semantic hit against a query, with its similarity score.
type Match struct {
	Name  string
	Score float32
}

// Registry holds the loaded skills and keeps their embeddings in sync
// with a vector store for semantic matching.
type Registry struct {
	Vectors  memory.VectorStore
	Embedder embedregistry.Embedder
	Log      *slog.Logger

	MaxActiveSkills          int
	DisambiguationThreshold  float32
	EmbeddingModel           string

	skills map[string]Skill
}

func NewRegistry(vectors memory.VectorStore, embedder embedregistry.Embedder) *Registry {
	return &Registry{
		Vectors:                 vectors,
		Embedder:                embedder,
		MaxActiveSkills:         3,
		DisambiguationThreshold: 0.05,
		skills:                  make(map[string]Skill),
	}
}

// Load replaces the in-memory skill set and re-syncs the vector collection.
func (r *Registry) Load(ctx context.Context, loaded []Skill) (embedregistry.SyncCounts, error) {
	r.skills = make(map[string]Skill, len(loaded))
	items := make([]embedregistry.Item, 0, len(loaded))
	for _, s := range loaded {
		r.skills[s.Name] = s
		items = append(items, embedregistry.Item{
			Key:       s.Name,
			EmbedText: s.Name + ": " + s.Description,
			Payload: map[string]any{
				"name": s.Name,
			},
		})
	}

	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	return embedregistry.Sync(ctx, r.Vectors, r.Embedder, log, skillNamespace, skillCollection, r.EmbeddingModel, items)
}

// Get returns a loaded skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// MatchResult is the outcome of a semantic query: the ranked matches plus
// whether the top result is a clear winner or near-tied with the runner-up.
type MatchResult struct {
	Matches      []Match
	Disambiguous bool
}

// Query embeds text and returns up to MaxActiveSkills matching skill names
// ordered by similarity. Disambiguous is true when the top two scores are
// within DisambiguationThreshold of each other.
func (r *Registry) Query(ctx context.Context, text string) (MatchResult, error) {
	vec, err := r.Embedder.Embed(ctx, text)
	if err != nil {
		return MatchResult{}, err
	}

	limit := r.MaxActiveSkills
	if limit <= 0 {
		limit = 3
	}
	hits, err := r.Vectors.Search(ctx, skillCollection, vec, limit, nil, nil)
	if err != nil {
		return MatchResult{}, err
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		name, _ := h.Payload["name"].(string)
		if name == "" {
			continue
		}
		matches = append(matches, Match{Name: name, Score: h.Score})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	threshold := r.DisambiguationThreshold
	if threshold <= 0 {
		threshold = 0.05
	}
	disambiguous := len(matches) >= 2 && (matches[0].Score-matches[1].Score) < threshold

	return MatchResult{Matches: matches, Disambiguous: disambiguous}, nil
}
