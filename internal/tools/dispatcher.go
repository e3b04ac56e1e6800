package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// FencedBlock is a ```<lang> ... ``` block extracted from free-form model
// text, used as a fallback tool-call channel for models that emit fenced
// code instead of a structured tool call.
type FencedBlock struct {
	Lang string
	Body string
}

// ExtractFencedBlocks scans text with a stack-free character scanner: an
// unclosed fence yields nothing rather than a truncated block.
func ExtractFencedBlocks(text string) []FencedBlock {
	var blocks []FencedBlock
	lines := strings.Split(text, "\n")

	var open bool
	var lang string
	var body []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !open {
			if strings.HasPrefix(trimmed, "```") {
				open = true
				lang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				body = nil
			}
			continue
		}
		if trimmed == "```" {
			blocks = append(blocks, FencedBlock{Lang: lang, Body: strings.Join(body, "\n")})
			open = false
			continue
		}
		body = append(body, line)
	}
	// Unclosed fence at EOF: discard, matching the spec's "yields nothing" rule.
	return blocks
}

// Dispatcher extracts tool calls from a model response — preferring the
// provider's structured ToolCalls and falling back to fenced-block parsing
// only when the provider emitted none — and executes them against a
// Registry under a PermissionPolicy.
type Dispatcher struct {
	Registry *Registry
	Policy   *PermissionPolicy
}

func NewDispatcher(registry *Registry, policy *PermissionPolicy) *Dispatcher {
	return &Dispatcher{Registry: registry, Policy: policy}
}

// ToolInvocation pairs a tool name with its arguments, regardless of
// whether it was extracted from a structured call or a fenced block.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// FromFencedBlocks converts fenced code blocks tagged with a recognized
// tool name (```bash, ```read, ...) into ToolInvocations. A bare ```bash
// block is treated as a "command" argument to the bash tool.
func FromFencedBlocks(blocks []FencedBlock) []ToolInvocation {
	var out []ToolInvocation
	for i, b := range blocks {
		switch b.Lang {
		case "bash", "sh", "shell":
			out = append(out, ToolInvocation{
				ID:        syntheticID(i),
				Name:      "bash",
				Arguments: map[string]interface{}{"command": b.Body},
			})
		case "tool_call", "json":
			var raw struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			}
			if err := json.Unmarshal([]byte(b.Body), &raw); err == nil && raw.Name != "" {
				out = append(out, ToolInvocation{ID: syntheticID(i), Name: raw.Name, Arguments: raw.Arguments})
			}
		}
	}
	return out
}

func syntheticID(i int) string {
	return "fenced-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// Dispatch executes one tool invocation and returns the result formatted
// for return to the LLM as a synthetic tool-output message. Permission
// policy is enforced here for every tool except bash, which owns its own
// check (it must classify Deny from Blocked before the policy ever runs).
func (d *Dispatcher) Dispatch(ctx context.Context, inv ToolInvocation) *Result {
	if d.Policy != nil && inv.Name != "bash" {
		subject := invocationSubject(inv)
		switch d.Policy.Check(inv.Name, subject) {
		case ActionDeny:
			return ErrorResult("This action is blocked by security policy.")
		case ActionAsk:
			if !d.Policy.Confirm(ctx, inv.Name, subject) {
				return ErrorResult("action rejected by user")
			}
		}
	}
	return d.Registry.Execute(ctx, inv.Name, inv.Arguments)
}

// invocationSubject extracts the argument a PermissionRule matches
// against: the path for file tools, the URL for web_scrape.
func invocationSubject(inv ToolInvocation) string {
	for _, key := range []string{"path", "url", "pattern", "command"} {
		if v, ok := inv.Arguments[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// FormatToolOutput wraps a tool's result text in the synthetic "[tool
// output]" framing used when relaying results back into the message
// history for models that don't natively distinguish tool-role messages.
func FormatToolOutput(toolName, output string) string {
	var b strings.Builder
	b.WriteString("[tool output: ")
	b.WriteString(toolName)
	b.WriteString("]\n")
	b.WriteString(output)
	return b.String()
}
