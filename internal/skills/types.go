// Package skills loads trusted skill packages from disk, selects the most
// relevant subset for a query via semantic matching, and optionally
// self-improves underperforming skills.
package skills

import "time"

// TrustLevel reflects whether a skill's content hash matched its recorded
// value at install time.
type TrustLevel int

const (
	Quarantined TrustLevel = iota
	Trusted
)

func (t TrustLevel) String() string {
	if t == Trusted {
		return "trusted"
	}
	return "quarantined"
}

// Skill is one loaded SKILL.md package.
type Skill struct {
	Name         string
	Description  string
	Body         string
	Compatibility string
	License      string
	AllowedTools []string
	SkillDir     string
	TrustLevel   TrustLevel
	ContentHash  string
}

// SkillVersion is one revision of a skill's body, manual or auto-generated.
type SkillVersion struct {
	ID            int64
	SkillName     string
	Version       int
	Body          string
	Description   string
	Source        VersionSource
	IsActive      bool
	SuccessCount  int
	FailureCount  int
	CreatedAt     time.Time
	PredecessorID *int64
}

// VersionSource records whether a version was authored by hand or
// generated by the self-learning loop.
type VersionSource string

const (
	SourceManual VersionSource = "manual"
	SourceAuto   VersionSource = "auto"
)

// Outcome classifies the result of a tool dispatch attributed to a skill.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeToolFailure    Outcome = "tool_failure"
	OutcomeEmptyResponse  Outcome = "empty_response"
	OutcomeUserRejection  Outcome = "user_rejection"
)

// SkillOutcome is one append-only event in a skill's track record.
type SkillOutcome struct {
	SkillName      string
	VersionID      *int64
	ConversationID string
	Outcome        Outcome
	ErrorContext   string
	CreatedAt      time.Time
}

// MaxBodyBytes bounds the size of any generated skill body.
const MaxBodyBytes = 65536
