package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// EscapeError mirrors internal/tools' sandbox violation for skill
// directories that escape their configured base path via a symlink.
type EscapeError struct {
	Path string
}

func (e *EscapeError) Error() string {
	return fmt.Sprintf("skill path %q escapes its base directory", e.Path)
}

// LoadDir enumerates immediate subdirectories of base, each expected to
// contain a SKILL.md, and returns every skill that validates. A skill that
// fails validation is skipped with its error recorded in the returned
// error slice rather than aborting the whole load.
func LoadDir(base string) ([]Skill, []error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, []error{fmt.Errorf("skills: read base dir %q: %w", base, err)}
	}

	var out []Skill
	var errs []error
	seen := make(map[string]bool)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := loadOne(base, entry.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[skill.Name] {
			errs = append(errs, fmt.Errorf("skills: duplicate skill name %q", skill.Name))
			continue
		}
		seen[skill.Name] = true
		out = append(out, skill)
	}
	return out, errs
}

func loadOne(base, dirName string) (Skill, error) {
	dir := filepath.Join(base, dirName)

	canonical, err := canonicalizeWithin(base, dir)
	if err != nil {
		return Skill{}, err
	}

	skillFile := filepath.Join(canonical, "SKILL.md")
	raw, err := os.ReadFile(skillFile)
	if err != nil {
		return Skill{}, fmt.Errorf("skills: %s: missing SKILL.md: %w", dirName, err)
	}

	front, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return Skill{}, fmt.Errorf("skills: %s: %w", dirName, err)
	}

	fields := parseFrontmatter(front)
	name := fields["name"]
	description := fields["description"]
	if name == "" || description == "" {
		return Skill{}, fmt.Errorf("skills: %s: frontmatter missing required name/description", dirName)
	}
	if !nameRe.MatchString(name) || len(name) > 64 {
		return Skill{}, fmt.Errorf("skills: %s: invalid skill name %q", dirName, name)
	}
	if name != dirName {
		return Skill{}, fmt.Errorf("skills: %s: skill name %q does not match directory name", dirName, name)
	}

	var allowedTools []string
	if raw, ok := fields["allowed-tools"]; ok && raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				allowedTools = append(allowedTools, t)
			}
		}
	}

	hash, err := hashDirectory(canonical)
	if err != nil {
		return Skill{}, fmt.Errorf("skills: %s: hash directory: %w", dirName, err)
	}

	trust := Trusted
	if expected, ok := fields["content-hash"]; ok && expected != "" && expected != hash {
		trust = Quarantined
	}

	return Skill{
		Name:          name,
		Description:   description,
		Body:          body,
		Compatibility: fields["compatibility"],
		License:       fields["license"],
		AllowedTools:  allowedTools,
		SkillDir:      canonical,
		TrustLevel:    trust,
		ContentHash:   hash,
	}, nil
}

// canonicalizeWithin resolves dir through symlinks and rejects it if the
// canonical form escapes base — the same defense internal/tools applies
// to sandboxed file paths, applied here to skill directories.
func canonicalizeWithin(base, dir string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		realBase = absBase
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", fmt.Errorf("skills: resolve %q: %w", dir, err)
	}

	if real != realBase && !strings.HasPrefix(real, realBase+string(filepath.Separator)) {
		return "", &EscapeError{Path: dir}
	}
	return real, nil
}

// splitFrontmatter extracts the leading "---\n...\n---\n" block and
// returns it alongside the remaining body.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	const delim = "---"
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, delim) {
		return "", "", fmt.Errorf("no frontmatter delimiter found")
	}
	rest := trimmed[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter block")
	}
	frontmatter = rest[:idx]
	body = strings.TrimLeft(rest[idx+len(delim)+1:], "\n")
	return frontmatter, body, nil
}

// parseFrontmatter reads simple "key: value" lines; no nested structures,
// matching the frontmatter's intentionally minimal grammar.
func parseFrontmatter(block string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"'`)
		out[key] = val
	}
	return out
}

// hashDirectory computes a deterministic digest of a directory's contents,
// standing in for blake3 (not in the available dependency set; see the
// content-hash Open Question resolution) while preserving the same
// invariant: identical directory contents hash identically.
func hashDirectory(dir string) (string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, relErr := filepath.Rel(dir, p)
			if relErr != nil {
				return relErr
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", rel)
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
