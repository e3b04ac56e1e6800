package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// BlockedCommand is returned when a shell command matches the safety
// blocklist. The LLM sees a fixed, uninformative message so the blocklist
// itself is never disclosed as an oracle.
type BlockedCommand struct {
	Command string
}

func (e *BlockedCommand) Error() string { return "This command is blocked by security policy." }

// baselineDenyPatterns is the fixed blocklist every bash tool starts from,
// regardless of configuration: a case-insensitive substring scan against
// the raw command. Additions/exemptions are layered on top per-policy.
var baselineDenyPatterns = []string{
	"rm -rf /",
	"sudo",
	"mkfs",
	"dd if=",
	"curl",
	"wget",
	"nc ", // trailing space distinguishes the netcat binary from words like "once"
	"ncat",
	"netcat",
	"shutdown",
	"reboot",
	"halt",
}

// ShellPolicy configures the blocklist for the bash tool: Deny adds extra
// patterns beyond the baseline; Allow exempts specific commands that would
// otherwise match the baseline (e.g. a known-safe "sudo -u app true" probe).
type ShellPolicy struct {
	Timeout time.Duration
	Deny    []*regexp.Regexp
	Allow   []*regexp.Regexp
}

// ExecTool runs shell commands inside the sandboxed workspace.
type ExecTool struct {
	workspace string
	policy    ShellPolicy
	perm      *PermissionPolicy
}

func NewExecTool(workspace string, timeout time.Duration, perm *PermissionPolicy, extraDeny, exemptions []string) *ExecTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := ShellPolicy{Timeout: timeout}
	for _, p := range extraDeny {
		if re, err := regexp.Compile(p); err == nil {
			policy.Deny = append(policy.Deny, re)
		}
	}
	for _, p := range exemptions {
		if re, err := regexp.Compile(p); err == nil {
			policy.Allow = append(policy.Allow, re)
		}
	}
	return &ExecTool{workspace: workspace, policy: policy, perm: perm}
}

func (t *ExecTool) Name() string        { return "bash" }
func (t *ExecTool) Description() string { return "Run a shell command in the workspace" }
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Command to run"},
			"timeout_seconds": map[string]interface{}{"type": "integer", "description": "Optional override, capped at policy maximum"},
		},
		"required": []string{"command"},
	}
}

// isBlocked checks command against the baseline substring blocklist plus
// configured additions, unless an exemption pattern matches first.
func (t *ExecTool) isBlocked(command string) bool {
	for _, re := range t.policy.Allow {
		if re.MatchString(command) {
			return false
		}
	}
	lower := strings.ToLower(command)
	for _, pat := range baselineDenyPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	for _, re := range t.policy.Deny {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	if t.isBlocked(command) {
		return ErrorResult((&BlockedCommand{Command: command}).Error())
	}

	if t.perm != nil {
		switch t.perm.Check("bash", command) {
		case ActionDeny:
			return ErrorResult((&BlockedCommand{Command: command}).Error())
		case ActionAsk:
			if !t.perm.Confirm(ctx, "bash", command) {
				return ErrorResult("command rejected by user")
			}
		}
	}

	workspace := ToolWorkspaceFromCtx(ctx)
	if workspace == "" {
		workspace = t.workspace
	}

	timeout := t.policy.Timeout
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		if d := time.Duration(v * float64(time.Second)); d < timeout {
			timeout = d
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := runShell(runCtx, command, workspace)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", timeout))
		}
		if result == "" {
			result = err.Error()
		}
		return ErrorResult(result)
	}
	if result == "" {
		result = "(command completed with no output)"
	}
	return SilentResult(result)
}

func runShell(ctx context.Context, command, cwd string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result string
	if stdout.Len() > 0 {
		result = stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}
	return result, err
}
