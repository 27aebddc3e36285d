// Package health turns BMC diagnostic output into graded monitoring verdicts.
package health

import (
	"fmt"
	"io"
	"strings"
)

// Severity is a monitoring plugin status. Higher values are worse.
type Severity int

const (
	OK Severity = iota
	Warning
	Critical
	Unknown
)

var severityNames = [...]string{"OK", "WARNING", "CRITICAL", "UNKNOWN"}

func (s Severity) String() string {
	if s < OK || s > Unknown {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ExitCode is the process exit status a monitoring plugin reports for s.
func (s Severity) ExitCode() int {
	return int(s)
}

// Worst returns the most severe of the given values.
func Worst(values ...Severity) Severity {
	worst := OK
	for _, s := range values {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// Verdict is the outcome of one health check.
type Verdict struct {
	Severity Severity

	// Prefix names the checked target and check, e.g. "srv01 IPMI Status".
	Prefix  string
	Summary []string
	Details []string
	Perf    []string
}

// Raise lifts the verdict to s. It never lowers it.
func (v *Verdict) Raise(s Severity) {
	v.Severity = Worst(v.Severity, s)
}

// Render writes the verdict in monitoring plugin format: a status line, the
// detail lines with "|" replaced by "/" and the performance data after "| ".
func (v Verdict) Render(w io.Writer) error {
	var b strings.Builder

	head := strings.TrimSpace(fmt.Sprintf("%s %s: %s", v.Prefix, v.Severity, strings.Join(v.Summary, ", ")))
	b.WriteString(head)
	if len(v.Details) > 0 || len(v.Perf) > 0 {
		b.WriteString(" |")
	}
	b.WriteString("\n")

	for _, line := range v.Details {
		b.WriteString(strings.ReplaceAll(line, "|", "/"))
		b.WriteString("\n")
	}
	if len(v.Perf) > 0 {
		b.WriteString("| ")
		b.WriteString(strings.Join(v.Perf, " "))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// String returns the rendered verdict.
func (v Verdict) String() string {
	var b strings.Builder
	_ = v.Render(&b)
	return b.String()
}
