package tools

import (
	"context"
	"regexp"
	"sync"
)

// Action is the outcome of evaluating a PermissionRule against a tool call.
type Action int

const (
	ActionAllow Action = iota
	ActionAsk
	ActionDeny
)

// AutonomyLevel is the coarse default applied before PermissionRules are
// consulted. ReadOnly only allows read/glob/grep/web_scrape; Supervised asks before
// mutating or executing; Full allows everything by default.
type AutonomyLevel int

const (
	AutonomyReadOnly AutonomyLevel = iota
	AutonomySupervised
	AutonomyFull
)

func ParseAutonomyLevel(s string) AutonomyLevel {
	switch s {
	case "readonly", "read_only":
		return AutonomyReadOnly
	case "full":
		return AutonomyFull
	default:
		return AutonomySupervised
	}
}

var readOnlyTools = map[string]bool{
	"read": true, "glob": true, "grep": true, "web_scrape": true,
}

// PermissionRule matches a tool + argument pattern to an explicit action,
// overriding the autonomy-level default for that tool.
type PermissionRule struct {
	ToolID  string
	Pattern *regexp.Regexp // matched against a tool-specific subject (command, path, url)
	Action  Action
}

// ConfirmFunc asks an external channel to confirm a risky action and
// returns true if the user approved it.
type ConfirmFunc func(ctx context.Context, toolID, subject string) bool

// PermissionPolicy evaluates whether a tool invocation is allowed, asked
// about, or denied outright.
type PermissionPolicy struct {
	Autonomy AutonomyLevel
	Rules    []PermissionRule
	Confirm_ ConfirmFunc

	mu      sync.Mutex
	pending map[string]bool // allocated by NewPermissionPolicy but never read or written; Confirm does not cache grants
}

func NewPermissionPolicy(autonomy AutonomyLevel, rules []PermissionRule, confirm ConfirmFunc) *PermissionPolicy {
	return &PermissionPolicy{Autonomy: autonomy, Rules: rules, Confirm_: confirm, pending: map[string]bool{}}
}

// Check evaluates the policy for toolID against subject (the command,
// path, or URL the tool is about to act on), returning Allow/Ask/Deny.
//
// ReadOnly and Full are unconditional: PermissionRules are only consulted
// under Supervised, so a configured rule can never escalate ReadOnly's hard
// allowlist or override Full's blanket allow.
func (p *PermissionPolicy) Check(toolID, subject string) Action {
	switch p.Autonomy {
	case AutonomyReadOnly:
		if readOnlyTools[toolID] {
			return ActionAllow
		}
		return ActionDeny
	case AutonomyFull:
		return ActionAllow
	default: // Supervised
		for _, r := range p.Rules {
			if r.ToolID != "" && r.ToolID != toolID {
				continue
			}
			if r.Pattern == nil || r.Pattern.MatchString(subject) {
				return r.Action
			}
		}
		return ActionAsk
	}
}

// Confirm routes an Ask decision to the channel-provided confirmation
// callback, defaulting to deny when no callback is registered.
func (p *PermissionPolicy) Confirm(ctx context.Context, toolID, subject string) bool {
	if p.Confirm_ == nil {
		return false
	}
	return p.Confirm_(ctx, toolID, subject)
}
