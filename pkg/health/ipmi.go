package health

import (
	"fmt"
	"regexp"
)

// MaxEventLines caps the event log anomalies listed in a verdict.
const MaxEventLines = 10

var currentPower = regexp.MustCompile(`Current Power\s*:\s*(\d+)`)

// PowerPerf extracts the current power draw from ipmi-dcmi system power
// statistics as a performance datum. It reports false when absent.
func PowerPerf(dcmiOutput string) (string, bool) {
	m := currentPower.FindStringSubmatch(dcmiOutput)
	if m == nil {
		return "", false
	}
	return "'Current Power'=" + m[1], true
}

// EvaluateIPMI grades sensor readings and event log anomalies. Warning sensors
// raise the verdict to WARNING; critical sensors and any anomaly raise it to
// CRITICAL. Anomalies must be ordered most recent first; only the first
// MaxEventLines are listed. extraPerf is emitted before the sensor data.
func EvaluateIPMI(sensors []SensorReading, anomalies []EventLogEntry, extraPerf ...string) Verdict {
	var v Verdict
	var warnings, criticals []SensorReading

	v.Perf = append(v.Perf, extraPerf...)
	for _, s := range sensors {
		if perf := s.Perf(); perf != "" {
			v.Perf = append(v.Perf, perf)
		}
		switch s.Severity() {
		case Warning:
			warnings = append(warnings, s)
		case Critical:
			criticals = append(criticals, s)
		}
	}

	if len(warnings) > 0 {
		v.Raise(Warning)
		v.Summary = append(v.Summary, fmt.Sprintf("%d sensors warning", len(warnings)))
		v.Details = append(v.Details, "Warning sensors:")
		for _, s := range warnings {
			v.Details = append(v.Details, s.line())
		}
	}
	if len(criticals) > 0 {
		v.Raise(Critical)
		v.Summary = append(v.Summary, fmt.Sprintf("%d sensors critical", len(criticals)))
		v.Details = append(v.Details, "Critical sensors:")
		for _, s := range criticals {
			v.Details = append(v.Details, s.line())
		}
	}
	if len(anomalies) > 0 {
		v.Raise(Critical)
		v.Summary = append(v.Summary, fmt.Sprintf("%d SEL entries", len(anomalies)))

		header := "SEL entries:"
		shown := anomalies
		if len(shown) > MaxEventLines {
			header += fmt.Sprintf(" (showing latest %d/%d)", MaxEventLines, len(anomalies))
			shown = shown[:MaxEventLines]
		}
		v.Details = append(v.Details, header)
		for _, e := range shown {
			v.Details = append(v.Details, e.line())
		}
	}

	if len(v.Summary) == 0 {
		v.Summary = []string{"SEL, Sensors OK"}
	}
	return v
}
