package health

import (
	"strings"
)

// Column layout of ipmi-sensors --output-sensor-state --output-sensor-thresholds.
const (
	sensorID = iota
	sensorName
	sensorType
	sensorState
	sensorValue
	sensorUnit
	_
	sensorCritLow
	sensorWarnLow
	sensorWarnHigh
	sensorCritHigh
	_
	sensorDesc

	sensorColumns
)

const notAvailable = "N/A"

// SensorState is the state column of a sensor row.
type SensorState string

const (
	StateNominal  SensorState = "Nominal"
	StateWarning  SensorState = "Warning"
	StateCritical SensorState = "Critical"
	StateNA       SensorState = notAvailable
)

// SensorReading is one row of sensor output. Missing thresholds are empty.
type SensorReading struct {
	ID          string
	Name        string
	Type        string
	State       SensorState
	Value       string
	Unit        string
	WarnLow     string
	WarnHigh    string
	CritLow     string
	CritHigh    string
	Description string
}

// Severity classifies the reading. Any state other than nominal, N/A or
// warning is critical.
func (s SensorReading) Severity() Severity {
	switch s.State {
	case StateNominal, StateNA:
		return OK
	case StateWarning:
		return Warning
	}
	return Critical
}

// Perf formats the reading as performance data: 'name'=value;wl:wh;cl:ch.
// A threshold tier with neither bound is left empty, and the suffix is
// dropped when both tiers are empty. Readings without a value yield "".
func (s SensorReading) Perf() string {
	if s.Value == "" || s.Value == notAvailable {
		return ""
	}
	perf := "'" + s.Name + "'=" + s.Value

	warn := tier(s.WarnLow, s.WarnHigh)
	crit := tier(s.CritLow, s.CritHigh)
	if warn != "" || crit != "" {
		perf += ";" + warn + ";" + crit
	}
	return perf
}

func (s SensorReading) line() string {
	return "- " + strings.Join([]string{s.ID, s.Type, s.Name, s.Value, s.Unit, s.Description}, " | ")
}

func tier(low, high string) string {
	if low == "" && high == "" {
		return ""
	}
	return low + ":" + high
}

func clearNA(v string) string {
	if v == notAvailable {
		return ""
	}
	return v
}

// ParseSensors parses pipe separated sensor output. The first line is the
// header. Rows with too few columns are skipped and counted in malformed.
func ParseSensors(text string) (readings []SensorReading, malformed int) {
	for i, line := range strings.Split(text, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		cols := splitRow(line)
		if len(cols) < sensorColumns {
			malformed++
			continue
		}
		readings = append(readings, SensorReading{
			ID:          cols[sensorID],
			Name:        cols[sensorName],
			Type:        cols[sensorType],
			State:       SensorState(cols[sensorState]),
			Value:       cols[sensorValue],
			Unit:        cols[sensorUnit],
			CritLow:     clearNA(cols[sensorCritLow]),
			WarnLow:     clearNA(cols[sensorWarnLow]),
			WarnHigh:    clearNA(cols[sensorWarnHigh]),
			CritHigh:    clearNA(cols[sensorCritHigh]),
			Description: cols[sensorDesc],
		})
	}
	return readings, malformed
}

func splitRow(line string) []string {
	cols := strings.Split(line, "|")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}
