// Package filter post-processes raw tool output before it reaches the LLM:
// confidence-scored extraction stages, secret redaction, and overflow
// handling for oversized output.
package filter

import (
	"regexp"
	"strings"
)

// Confidence ranks how much a filter stage trusts its own extraction.
// When multiple stages fire, the worst confidence wins.
type Confidence int

const (
	ConfidenceFull Confidence = iota
	ConfidencePartial
	ConfidenceFallback
)

func (c Confidence) worseThan(other Confidence) bool { return c > other }

// Stage extracts a more concise form of raw command output for a
// specific command shape (git status, test runners, directory listings,
// repeated log lines, ...). It returns ok=false when the stage does not
// recognize the output.
type Stage interface {
	Name() string
	Apply(command, output string) (result string, confidence Confidence, ok bool)
}

// Metrics accumulates aggregate statistics across every filtered call in
// a process lifetime.
type Metrics struct {
	TotalCommands      int
	FilteredCommands   int
	RawBytes           int64
	FilteredBytes      int64
	ConfidenceCounts    map[Confidence]int
}

func NewMetrics() *Metrics {
	return &Metrics{ConfidenceCounts: map[Confidence]int{}}
}

// Pipeline runs a command's output through each registered Stage in
// order, keeping the first match but tracking the worst confidence seen,
// then applies secret redaction and overflow handling.
type Pipeline struct {
	Stages             []Stage
	RedactSecrets      bool
	MaxOutputChars     int
	OverflowWriter     func(content string) (path string, err error)
	Metrics            *Metrics
}

// Result is the outcome of running output through the pipeline.
type Result struct {
	Text       string
	Confidence Confidence
	Matched    string // stage name, "" if no stage matched (raw passthrough)
}

func (p *Pipeline) Run(command, output string) Result {
	if p.Metrics != nil {
		p.Metrics.TotalCommands++
		p.Metrics.RawBytes += int64(len(output))
	}

	text := output
	confidence := ConfidenceFallback
	matched := ""

	for _, s := range p.Stages {
		result, c, ok := s.Apply(command, output)
		if !ok {
			continue
		}
		if matched == "" {
			text = result
			confidence = c
			matched = s.Name()
		} else if c.worseThan(confidence) {
			confidence = c
		}
	}

	if p.RedactSecrets {
		text = RedactSecrets(text)
	}

	if p.MaxOutputChars > 0 && len(text) > p.MaxOutputChars {
		if p.OverflowWriter != nil {
			if path, err := p.OverflowWriter(text); err == nil {
				text = text[:p.MaxOutputChars] +
					"\n[full output saved to " + path + ", use read tool to access]"
			}
		}
	}

	if p.Metrics != nil {
		if matched != "" {
			p.Metrics.FilteredCommands++
		}
		p.Metrics.FilteredBytes += int64(len(text))
		p.Metrics.ConfidenceCounts[confidence]++
	}

	return Result{Text: text, Confidence: confidence, Matched: matched}
}

// --- secret redaction ---

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{15,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]\s*["']?[A-Za-z0-9_\-./+]{8,}["']?`),
	regexp.MustCompile(`https?://[^:@/\s]+:[^:@/\s]+@`), // URL userinfo
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), // JWT
}

// RedactSecrets replaces recognizable credential shapes with a fixed
// placeholder. Applied unconditionally whenever a pipeline enables it —
// it is not itself a confidence-scored stage.
func RedactSecrets(text string) string {
	redacted := text
	for _, re := range secretPatterns {
		redacted = re.ReplaceAllString(redacted, "[REDACTED]")
	}
	return redacted
}

// --- concrete stages ---

// GitStatusStage condenses `git status` porcelain output to a short summary.
type GitStatusStage struct{}

func (GitStatusStage) Name() string { return "git_status" }

func (GitStatusStage) Apply(command, output string) (string, Confidence, bool) {
	if !strings.Contains(command, "git status") {
		return "", 0, false
	}
	lines := strings.Split(output, "\n")
	var changed []string
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "On branch") || strings.HasPrefix(t, "nothing to commit") {
			continue
		}
		changed = append(changed, t)
	}
	if len(changed) == 0 {
		return "working tree clean", ConfidenceFull, true
	}
	return strings.Join(changed, "\n"), ConfidenceFull, true
}

// DirListingStage condenses `ls`/`find` output by counting entries beyond
// a visible head.
type DirListingStage struct{ MaxLines int }

func (s DirListingStage) Name() string { return "dir_listing" }

func (s DirListingStage) Apply(command, output string) (string, Confidence, bool) {
	isListing := strings.HasPrefix(strings.TrimSpace(command), "ls") ||
		strings.HasPrefix(strings.TrimSpace(command), "find")
	if !isListing {
		return "", 0, false
	}
	max := s.MaxLines
	if max <= 0 {
		max = 100
	}
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) <= max {
		return "", 0, false
	}
	head := strings.Join(lines[:max], "\n")
	return head + "\n... (" + itoa(len(lines)-max) + " more entries)", ConfidencePartial, true
}

// LogDedupStage collapses runs of identical consecutive lines, common in
// noisy build/test logs.
type LogDedupStage struct{}

func (LogDedupStage) Name() string { return "log_dedup" }

func (LogDedupStage) Apply(command, output string) (string, Confidence, bool) {
	lines := strings.Split(output, "\n")
	if len(lines) < 10 {
		return "", 0, false
	}
	var out []string
	var last string
	repeat := 0
	flush := func() {
		if repeat > 1 {
			out = append(out, last, "... ("+itoa(repeat-1)+" repeated lines omitted)")
		} else if repeat == 1 {
			out = append(out, last)
		}
	}
	for _, l := range lines {
		if l == last {
			repeat++
			continue
		}
		flush()
		last = l
		repeat = 1
	}
	flush()
	if len(out) == len(lines) {
		return "", 0, false
	}
	return strings.Join(out, "\n"), ConfidencePartial, true
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
