package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, base, name, frontmatter, body string) {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	content := "---\n" + frontmatter + "\n---\n" + body
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write SKILL.md failed: %v", err)
	}
}

func TestLoadDir_LoadsValidSkill(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "deploy-service", "name: deploy-service\ndescription: deploys the service\nallowed-tools: bash, read", "Run the deploy steps.")

	skills, errs := LoadDir(base)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	s := skills[0]
	if s.Name != "deploy-service" {
		t.Errorf("Name = %q, want deploy-service", s.Name)
	}
	if s.Description != "deploys the service" {
		t.Errorf("Description = %q", s.Description)
	}
	if s.Body != "Run the deploy steps." {
		t.Errorf("Body = %q", s.Body)
	}
	if len(s.AllowedTools) != 2 || s.AllowedTools[0] != "bash" || s.AllowedTools[1] != "read" {
		t.Errorf("AllowedTools = %v", s.AllowedTools)
	}
	if s.TrustLevel != Trusted {
		t.Errorf("TrustLevel = %v, want Trusted", s.TrustLevel)
	}
}

func TestLoadDir_MissingFrontmatterFieldIsSkipped(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "broken", "name: broken", "body only")

	skills, errs := LoadDir(base)
	if len(skills) != 0 {
		t.Fatalf("expected no valid skills, got %d", len(skills))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
}

func TestLoadDir_NameMismatchWithDirIsRejected(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "actual-dir", "name: different-name\ndescription: x", "body")

	skills, errs := LoadDir(base)
	if len(skills) != 0 {
		t.Fatalf("expected no valid skills, got %d", len(skills))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for name/dir mismatch, got %d", len(errs))
	}
}

func TestLoadDir_InvalidNamePatternIsRejected(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "Bad_Name", "name: Bad_Name\ndescription: x", "body")

	skills, errs := LoadDir(base)
	if len(skills) != 0 {
		t.Fatalf("expected no valid skills, got %d", len(skills))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for an invalid name pattern, got %d", len(errs))
	}
}

func TestLoadDir_MismatchedContentHashIsQuarantined(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "suspect", "name: suspect\ndescription: x\ncontent-hash: deadbeef", "body")

	skills, errs := LoadDir(base)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	if skills[0].TrustLevel != Quarantined {
		t.Errorf("TrustLevel = %v, want Quarantined for a mismatched content hash", skills[0].TrustLevel)
	}
}

func TestLoadDir_SkipsNonDirectoryEntries(t *testing.T) {
	base := t.TempDir()
	writeSkill(t, base, "valid-skill", "name: valid-skill\ndescription: x", "body")
	if err := os.WriteFile(filepath.Join(base, "stray.txt"), []byte("not a skill"), 0o644); err != nil {
		t.Fatalf("write stray file failed: %v", err)
	}

	skills, errs := LoadDir(base)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
}

func TestLoadDir_MissingSkillMdIsSkipped(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "empty-dir"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	skills, errs := LoadDir(base)
	if len(skills) != 0 {
		t.Fatalf("expected no valid skills, got %d", len(skills))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for missing SKILL.md, got %d", len(errs))
	}
}

func TestSplitFrontmatter_MissingDelimiterErrors(t *testing.T) {
	_, _, err := splitFrontmatter("no frontmatter here")
	if err == nil {
		t.Fatal("expected an error for content with no frontmatter delimiter")
	}
}

func TestSplitFrontmatter_UnterminatedBlockErrors(t *testing.T) {
	_, _, err := splitFrontmatter("---\nname: x\n")
	if err == nil {
		t.Fatal("expected an error for an unterminated frontmatter block")
	}
}

func TestParseFrontmatter_StripsQuotesAndComments(t *testing.T) {
	fields := parseFrontmatter("name: \"quoted-name\"\n# a comment\ndescription: 'single quoted'\n")
	if fields["name"] != "quoted-name" {
		t.Errorf("name = %q, want quoted-name", fields["name"])
	}
	if fields["description"] != "single quoted" {
		t.Errorf("description = %q, want single quoted", fields["description"])
	}
	if len(fields) != 2 {
		t.Errorf("expected comment line to be ignored, got fields: %v", fields)
	}
}
