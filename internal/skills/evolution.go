package skills

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// VersionStore persists skill versions and outcomes. MemoryVersionStore is
// the only implementation in this module; it keeps everything in process
// memory.
type VersionStore interface {
	ActiveVersion(ctx context.Context, skillName string) (*SkillVersion, error)
	Versions(ctx context.Context, skillName string) ([]SkillVersion, error)
	SaveVersion(ctx context.Context, v SkillVersion) (int64, error)
	// Activate deactivates the current active version and activates
	// newActiveID in a single transaction.
	Activate(ctx context.Context, skillName string, newActiveID int64) error
	RecordOutcome(ctx context.Context, o SkillOutcome) error
	RecentOutcomes(ctx context.Context, skillName string, versionID int64, limit int) ([]SkillOutcome, error)
	// PruneAutoVersions deletes the oldest non-active auto versions beyond
	// maxVersions for skillName.
	PruneAutoVersions(ctx context.Context, skillName string, maxVersions int) error
}

// Reviser asks the provider whether a skill's recent failures are
// systematic and, if so, generates a revised body.
type Reviser func(ctx context.Context, skill Skill, failures []SkillOutcome) (newBody string, systematic bool, err error)

// Evolution drives the self-learning loop: outcome recording, rollback,
// and version pruning.
type Evolution struct {
	Store VersionStore

	RollbackThreshold float64 // failure-rate fraction, e.g. 0.5
	ImproveThreshold  float64 // required success-rate fraction for a new version to stick
	MinEvaluations    int
	MaxVersions       int
	CoolDown          time.Duration

	mu          sync.Mutex
	lastRevised map[string]time.Time
}

func NewEvolution(store VersionStore) *Evolution {
	return &Evolution{
		Store:             store,
		RollbackThreshold: 0.5,
		ImproveThreshold:  0.5,
		MinEvaluations:    10,
		CoolDown:          24 * time.Hour,
		lastRevised:       make(map[string]time.Time),
	}
}

// RecordOutcome appends an outcome to the skill's track record.
func (e *Evolution) RecordOutcome(ctx context.Context, o SkillOutcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return e.Store.RecordOutcome(ctx, o)
}

func failureRate(outcomes []SkillOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var failures int
	for _, o := range outcomes {
		if o.Outcome != OutcomeSuccess {
			failures++
		}
	}
	return float64(failures) / float64(len(outcomes))
}

// MaybeRevise checks skill's recent failure rate against RollbackThreshold
// and, if it has crossed that bar over at least MinEvaluations outcomes
// and the cool-down elapsed, asks revise to judge whether the failures are
// systematic and produce a new body. The new version is saved and
// activated right away; EvaluateNewVersion later rolls it back if its
// outcomes fall short.
func (e *Evolution) MaybeRevise(ctx context.Context, skill Skill, revise Reviser) (*SkillVersion, error) {
	active, err := e.Store.ActiveVersion(ctx, skill.Name)
	if err != nil {
		return nil, fmt.Errorf("skills: active version: %w", err)
	}
	if active == nil {
		return nil, nil
	}

	e.mu.Lock()
	last, onCooldown := e.lastRevised[skill.Name]
	if onCooldown && time.Since(last) < e.CoolDown {
		e.mu.Unlock()
		return nil, nil
	}
	e.mu.Unlock()

	outcomes, err := e.Store.RecentOutcomes(ctx, skill.Name, active.ID, e.MinEvaluations)
	if err != nil {
		return nil, fmt.Errorf("skills: recent outcomes: %w", err)
	}
	if len(outcomes) < e.MinEvaluations {
		return nil, nil
	}
	if failureRate(outcomes) <= e.RollbackThreshold {
		return nil, nil
	}

	newBody, systematic, err := revise(ctx, skill, outcomes)
	if err != nil {
		return nil, fmt.Errorf("skills: revise: %w", err)
	}
	if !systematic {
		return nil, nil
	}
	if len(newBody) > 2*len(active.Body) || len(newBody) > MaxBodyBytes {
		return nil, fmt.Errorf("skills: revised body for %q exceeds size limits", skill.Name)
	}

	v := SkillVersion{
		SkillName:     skill.Name,
		Version:       active.Version + 1,
		Body:          newBody,
		Description:   skill.Description,
		Source:        SourceAuto,
		IsActive:      false,
		CreatedAt:     time.Now().UTC(),
		PredecessorID: &active.ID,
	}
	id, err := e.Store.SaveVersion(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("skills: save version: %w", err)
	}
	v.ID = id

	if err := e.Store.Activate(ctx, skill.Name, id); err != nil {
		return nil, fmt.Errorf("skills: activate version: %w", err)
	}

	e.mu.Lock()
	e.lastRevised[skill.Name] = time.Now()
	e.mu.Unlock()

	if err := e.Store.PruneAutoVersions(ctx, skill.Name, e.MaxVersions); err != nil {
		return nil, fmt.Errorf("skills: prune versions: %w", err)
	}

	return &v, nil
}

// EvaluateNewVersion checks whether an auto-generated version that has now
// accumulated MinEvaluations outcomes beat ImproveThreshold; if not, it
// rolls back to the predecessor.
func (e *Evolution) EvaluateNewVersion(ctx context.Context, skill Skill) error {
	active, err := e.Store.ActiveVersion(ctx, skill.Name)
	if err != nil {
		return fmt.Errorf("skills: active version: %w", err)
	}
	if active == nil || active.Source != SourceAuto || active.PredecessorID == nil {
		return nil
	}

	outcomes, err := e.Store.RecentOutcomes(ctx, skill.Name, active.ID, e.MinEvaluations)
	if err != nil {
		return fmt.Errorf("skills: recent outcomes: %w", err)
	}
	if len(outcomes) < e.MinEvaluations {
		return nil
	}

	successRate := 1 - failureRate(outcomes)
	if successRate >= e.ImproveThreshold {
		return nil
	}

	return e.Store.Activate(ctx, skill.Name, *active.PredecessorID)
}
