package health

import (
	"strings"
)

// Column layout of ipmi-sel --output-event-state.
const (
	selID = iota
	selDate
	selTime
	selName
	selType
	selState
	selEvent

	selColumns
)

const postInit = "PostInit"

// EventLogEntry is one row of the system event log.
type EventLogEntry struct {
	ID    string
	Date  string
	Time  string
	Name  string
	Type  string
	State string
	Event string
}

// IsAnomaly reports whether the entry state is anything but nominal.
func (e EventLogEntry) IsAnomaly() bool {
	return e.State != string(StateNominal)
}

// IsFirmwareUpgradeArtifact reports whether the entry is the version change
// record a BMC logs after a firmware update, before its clock is set.
func (e EventLogEntry) IsFirmwareUpgradeArtifact() bool {
	return e.Date == postInit && e.Time == postInit && e.Type == "Version Change"
}

func (e EventLogEntry) line() string {
	return "- " + strings.Join([]string{e.ID, e.Date, e.Time, e.Type, e.Name, e.Event}, " | ")
}

// ParseEventLog parses pipe separated event log output in log order. The first
// line is the header. Rows with too few columns are skipped and counted.
func ParseEventLog(text string) (entries []EventLogEntry, malformed int) {
	for i, line := range strings.Split(text, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		cols := splitRow(line)
		if len(cols) < selColumns {
			malformed++
			continue
		}
		entries = append(entries, EventLogEntry{
			ID:    cols[selID],
			Date:  cols[selDate],
			Time:  cols[selTime],
			Name:  cols[selName],
			Type:  cols[selType],
			State: cols[selState],
			Event: cols[selEvent],
		})
	}
	return entries, malformed
}

// Anomalies returns the non-nominal entries, most recent first.
func Anomalies(entries []EventLogEntry) []EventLogEntry {
	var out []EventLogEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsAnomaly() {
			out = append(out, entries[i])
		}
	}
	return out
}

// OnlyFirmwareUpgradeArtifacts reports whether every anomaly was left by a
// firmware update, which makes the log safe to clear.
func OnlyFirmwareUpgradeArtifacts(anomalies []EventLogEntry) bool {
	for _, a := range anomalies {
		if !a.IsFirmwareUpgradeArtifact() {
			return false
		}
	}
	return true
}
