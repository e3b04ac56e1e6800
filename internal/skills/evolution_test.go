package skills

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeVersionStore struct {
	versions    map[string][]SkillVersion
	nextID      int64
	outcomes    map[string][]SkillOutcome
	activateErr error
	pruned      []string
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{
		versions: make(map[string][]SkillVersion),
		outcomes: make(map[string][]SkillOutcome),
	}
}

func (s *fakeVersionStore) ActiveVersion(ctx context.Context, skillName string) (*SkillVersion, error) {
	for i := range s.versions[skillName] {
		if s.versions[skillName][i].IsActive {
			v := s.versions[skillName][i]
			return &v, nil
		}
	}
	return nil, nil
}

func (s *fakeVersionStore) Versions(ctx context.Context, skillName string) ([]SkillVersion, error) {
	return s.versions[skillName], nil
}

func (s *fakeVersionStore) SaveVersion(ctx context.Context, v SkillVersion) (int64, error) {
	s.nextID++
	v.ID = s.nextID
	s.versions[v.SkillName] = append(s.versions[v.SkillName], v)
	return v.ID, nil
}

func (s *fakeVersionStore) Activate(ctx context.Context, skillName string, newActiveID int64) error {
	if s.activateErr != nil {
		return s.activateErr
	}
	for i := range s.versions[skillName] {
		s.versions[skillName][i].IsActive = s.versions[skillName][i].ID == newActiveID
	}
	return nil
}

func (s *fakeVersionStore) RecordOutcome(ctx context.Context, o SkillOutcome) error {
	s.outcomes[o.SkillName] = append(s.outcomes[o.SkillName], o)
	return nil
}

func (s *fakeVersionStore) RecentOutcomes(ctx context.Context, skillName string, versionID int64, limit int) ([]SkillOutcome, error) {
	all := s.outcomes[skillName]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *fakeVersionStore) PruneAutoVersions(ctx context.Context, skillName string, maxVersions int) error {
	s.pruned = append(s.pruned, skillName)
	return nil
}

func seedActiveVersion(store *fakeVersionStore, name, body string) SkillVersion {
	id, _ := store.SaveVersion(context.Background(), SkillVersion{SkillName: name, Version: 1, Body: body, Source: SourceManual})
	store.Activate(context.Background(), name, id)
	v, _ := store.ActiveVersion(context.Background(), name)
	return *v
}

func seedOutcomes(store *fakeVersionStore, name string, n, failures int) {
	for i := 0; i < n; i++ {
		o := SkillOutcome{SkillName: name, Outcome: OutcomeSuccess, CreatedAt: time.Now()}
		if i < failures {
			o.Outcome = OutcomeToolFailure
		}
		store.RecordOutcome(context.Background(), o)
	}
}

func TestEvolution_MaybeRevise_NoActiveVersionIsNoop(t *testing.T) {
	store := newFakeVersionStore()
	e := NewEvolution(store)

	v, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		t.Fatal("revise should not be called with no active version")
		return "", false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil version, got %+v", v)
	}
}

func TestEvolution_MaybeRevise_BelowMinEvaluationsIsNoop(t *testing.T) {
	store := newFakeVersionStore()
	seedActiveVersion(store, "deploy", "body")
	seedOutcomes(store, "deploy", 3, 3)

	e := NewEvolution(store)
	v, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		t.Fatal("revise should not be called below MinEvaluations")
		return "", false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil version, got %+v", v)
	}
}

func TestEvolution_MaybeRevise_BelowFailureThresholdIsNoop(t *testing.T) {
	store := newFakeVersionStore()
	seedActiveVersion(store, "deploy", "body")
	seedOutcomes(store, "deploy", 10, 2)

	e := NewEvolution(store)
	v, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		t.Fatal("revise should not be called below the failure threshold")
		return "", false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil version, got %+v", v)
	}
}

func TestEvolution_MaybeRevise_NonSystematicFailuresAreNoop(t *testing.T) {
	store := newFakeVersionStore()
	seedActiveVersion(store, "deploy", "body")
	seedOutcomes(store, "deploy", 10, 8)

	e := NewEvolution(store)
	v, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy", Body: "body"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		return "new body", false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil version when failures are judged non-systematic, got %+v", v)
	}
}

func TestEvolution_MaybeRevise_SystematicFailureCreatesAndActivatesVersion(t *testing.T) {
	store := newFakeVersionStore()
	active := seedActiveVersion(store, "deploy", "original body")
	seedOutcomes(store, "deploy", 10, 8)

	e := NewEvolution(store)
	v, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy", Body: "original body"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		return "revised body", true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		t.Fatal("expected a new version to be created")
	}
	if v.Body != "revised body" {
		t.Errorf("Body = %q, want revised body", v.Body)
	}
	if v.Source != SourceAuto {
		t.Errorf("Source = %q, want auto", v.Source)
	}
	if v.PredecessorID == nil || *v.PredecessorID != active.ID {
		t.Errorf("expected PredecessorID to reference the prior active version")
	}
	got, _ := store.ActiveVersion(context.Background(), "deploy")
	if got.ID != v.ID {
		t.Errorf("expected the new version to become active")
	}
}

func TestEvolution_MaybeRevise_RespectsCoolDown(t *testing.T) {
	store := newFakeVersionStore()
	seedActiveVersion(store, "deploy", "body")
	seedOutcomes(store, "deploy", 10, 8)

	e := NewEvolution(store)
	e.CoolDown = time.Hour
	if _, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy", Body: "body"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		return "revised once", true, nil
	}); err != nil {
		t.Fatalf("first revise failed: %v", err)
	}

	v, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy", Body: "revised once"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		t.Fatal("revise should not be called again during cool-down")
		return "", false, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil version during cool-down, got %+v", v)
	}
}

func TestEvolution_MaybeRevise_OversizedBodyErrors(t *testing.T) {
	store := newFakeVersionStore()
	seedActiveVersion(store, "deploy", "short")
	seedOutcomes(store, "deploy", 10, 8)

	e := NewEvolution(store)
	huge := make([]byte, MaxBodyBytes+1)
	if _, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy", Body: "short"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		return string(huge), true, nil
	}); err == nil {
		t.Fatal("expected an oversized revision to be rejected")
	}
}

func TestEvolution_MaybeRevise_ReviseErrorPropagates(t *testing.T) {
	store := newFakeVersionStore()
	seedActiveVersion(store, "deploy", "body")
	seedOutcomes(store, "deploy", 10, 8)

	e := NewEvolution(store)
	if _, err := e.MaybeRevise(context.Background(), Skill{Name: "deploy", Body: "body"}, func(ctx context.Context, skill Skill, failures []SkillOutcome) (string, bool, error) {
		return "", false, errors.New("provider down")
	}); err == nil {
		t.Fatal("expected the reviser's error to propagate")
	}
}

func TestEvolution_EvaluateNewVersion_RollsBackBelowImproveThreshold(t *testing.T) {
	store := newFakeVersionStore()
	original := seedActiveVersion(store, "deploy", "original")

	newID, _ := store.SaveVersion(context.Background(), SkillVersion{
		SkillName: "deploy", Version: 2, Body: "revised", Source: SourceAuto, PredecessorID: &original.ID,
	})
	store.Activate(context.Background(), "deploy", newID)
	seedOutcomes(store, "deploy", 10, 7)

	e := NewEvolution(store)
	if err := e.EvaluateNewVersion(context.Background(), Skill{Name: "deploy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, _ := store.ActiveVersion(context.Background(), "deploy")
	if active.ID != original.ID {
		t.Errorf("expected rollback to the predecessor version, active is %+v", active)
	}
}

func TestEvolution_EvaluateNewVersion_KeepsVersionAboveThreshold(t *testing.T) {
	store := newFakeVersionStore()
	original := seedActiveVersion(store, "deploy", "original")

	newID, _ := store.SaveVersion(context.Background(), SkillVersion{
		SkillName: "deploy", Version: 2, Body: "revised", Source: SourceAuto, PredecessorID: &original.ID,
	})
	store.Activate(context.Background(), "deploy", newID)
	seedOutcomes(store, "deploy", 10, 1)

	e := NewEvolution(store)
	if err := e.EvaluateNewVersion(context.Background(), Skill{Name: "deploy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, _ := store.ActiveVersion(context.Background(), "deploy")
	if active.ID != newID {
		t.Errorf("expected the improved version to remain active, got %+v", active)
	}
}

func TestEvolution_EvaluateNewVersion_ManualVersionIsNotEvaluated(t *testing.T) {
	store := newFakeVersionStore()
	active := seedActiveVersion(store, "deploy", "manual body")
	seedOutcomes(store, "deploy", 10, 10)

	e := NewEvolution(store)
	if err := e.EvaluateNewVersion(context.Background(), Skill{Name: "deploy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.ActiveVersion(context.Background(), "deploy")
	if got.ID != active.ID {
		t.Errorf("manual version should never be auto-rolled-back")
	}
}
