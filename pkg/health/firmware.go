package health

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/davidroman0O/bmcmanager/pkg/firmware"
)

// Inventory custom fields holding firmware versions.
const (
	FieldBIOS = "BIOS"
	FieldTSM  = "TSM"
	FieldPSU  = "PSU"
)

// psuEntry matches one "slot/type: version" item of the PSU field.
var psuEntry = regexp.MustCompile(`^(\d+)/(\w*):\s(\d+\.\d+\.\d+)$`)

// CheckVersion grades a reported version against an expected one. No
// expectation means nothing to check. A lower major version is CRITICAL, any
// other shortfall WARNING, and a reported value that is not a dotted version
// CRITICAL.
func CheckVersion(have, expected string) (Severity, string) {
	hv, ok := firmware.ParseVersion(have)
	if !ok {
		return Critical, "invalid data"
	}
	if strings.TrimSpace(expected) == "" {
		return OK, "not checked: " + have
	}
	ev, ok := firmware.ParseVersion(expected)
	if !ok {
		return Critical, "invalid expected version " + expected
	}

	if firmware.Compare(have, expected) >= 0 {
		return OK, "ok: " + have
	}
	msg := fmt.Sprintf("have %s, expected %s", have, expected)
	if hv[0] < ev[0] {
		return Critical, msg
	}
	return Warning, msg
}

// CheckFirmware grades the firmware versions stored on the target against the
// expected ones, keyed "bios", "tsm" and "psu_<type>". Components the
// inventory does not report are skipped. When expectedPSUs is positive, a
// different number of reported power supplies is CRITICAL.
func CheckFirmware(fields, expected map[string]string, expectedPSUs int) Verdict {
	var v Verdict
	report := func(name string, s Severity, msg string) {
		v.Raise(s)
		v.Summary = append(v.Summary, fmt.Sprintf("%s (%s)", strings.ToUpper(name), msg))
	}

	for _, name := range []string{FieldBIOS, FieldTSM} {
		have, ok := lookup(fields, name)
		if !ok {
			continue
		}
		s, msg := CheckVersion(have, expected[strings.ToLower(name)])
		report(name, s, msg)
	}

	psus := 0
	if field, ok := lookup(fields, FieldPSU); ok {
		for _, item := range strings.Split(field, ", ") {
			m := psuEntry.FindStringSubmatch(item)
			if m == nil {
				report("psu", Critical, "invalid data")
				continue
			}
			psus++
			slot, kind, version := m[1], m[2], m[3]
			s, msg := CheckVersion(version, expected["psu_"+strings.ToLower(kind)])
			report("psu-"+slot, s, msg+", "+kind)
		}
	}

	if expectedPSUs > 0 && psus != expectedPSUs {
		v.Raise(Critical)
		v.Summary = append(v.Summary, fmt.Sprintf("%d PSUs present (expected %d)", psus, expectedPSUs))
	}
	if len(v.Summary) == 0 {
		v.Summary = []string{"no firmware versions reported"}
	}
	return v
}

func lookup(fields map[string]string, name string) (string, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
