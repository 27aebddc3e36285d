package health

import (
	"fmt"
	"strings"
)

var (
	diskTypes      = map[int]string{0: "HDD", 1: "SSD"}
	diskInterfaces = map[int]string{2: "SAS"}
	diskSpeeds     = map[int]string{3: "6.0Gb/s", 4: "12.0Gb/s"}
	diskStates     = map[int]string{0: "active"}
)

// Disk is a physical drive reported by the BMC storage inventory.
type Disk struct {
	Index      int
	Controller int
	Slot       int
	// SizeMB is the raw capacity in megabytes.
	SizeMB    int
	MediaType int
	State     int
	Interface int
	LinkSpeed int
	Vendor    string
}

func (d Disk) SizeGB() int       { return d.SizeMB / 1024 }
func (d Disk) TypeName() string  { return lookupCode(diskTypes, d.MediaType, "N/A") }
func (d Disk) StateName() string { return lookupCode(diskStates, d.State, "unknown") }
func (d Disk) InterfaceName() string {
	return lookupCode(diskInterfaces, d.Interface, "unknown")
}
func (d Disk) SpeedName() string { return lookupCode(diskSpeeds, d.LinkSpeed, "unknown") }

// Healthy reports whether the drive is active and has a capacity.
func (d Disk) Healthy() bool {
	return d.State == 0 && d.SizeMB > 0
}

// Columns are the headers matching Disk.Row.
func (Disk) Columns() []string {
	return []string{"index", "ctrl", "slot", "size_gb", "type", "state", "interface", "speed", "vendor"}
}

// Row renders the drive as table cells.
func (d Disk) Row() []string {
	return []string{
		fmt.Sprint(d.Index),
		fmt.Sprint(d.Controller),
		fmt.Sprint(d.Slot),
		fmt.Sprint(d.SizeGB()),
		d.TypeName(),
		d.StateName(),
		d.InterfaceName(),
		d.SpeedName(),
		d.Vendor,
	}
}

func (d Disk) line() string {
	return "- " + strings.Join([]string{
		fmt.Sprint(d.Index),
		fmt.Sprintf("ctrl%d", d.Controller),
		fmt.Sprintf("slot%d", d.Slot),
		fmt.Sprintf("%dgb", d.SizeGB()),
		d.TypeName(),
		d.StateName(),
		d.InterfaceName(),
		d.SpeedName(),
		d.Vendor,
	}, " | ")
}

func lookupCode(m map[int]string, code int, fallback string) string {
	if s, ok := m[code]; ok {
		return s
	}
	return fallback
}

// CheckDisks grades the drive inventory. Any unhealthy drive is CRITICAL. When
// expected is set, a different number of healthy drives is WARNING, raised to
// CRITICAL when fewer are present.
func CheckDisks(disks []Disk, expected *int) Verdict {
	var v Verdict
	var healthy, failed []Disk
	for _, d := range disks {
		if d.Healthy() {
			healthy = append(healthy, d)
		} else {
			failed = append(failed, d)
		}
	}

	if len(failed) > 0 {
		v.Raise(Critical)
		v.Details = append(v.Details, fmt.Sprintf("%d disks CRITICAL:", len(failed)))
		for _, d := range failed {
			v.Details = append(v.Details, d.line())
		}
		v.Summary = append(v.Summary, fmt.Sprintf("%d disks CRITICAL", len(failed)))
	}

	v.Summary = append(v.Summary, fmt.Sprintf("%d disks OK", len(healthy)))
	if expected != nil && len(healthy) != *expected {
		v.Summary = append(v.Summary, fmt.Sprintf("expected %d", *expected))
		v.Raise(Warning)
		v.Details = append(v.Details, fmt.Sprintf("%d disks OK:", len(healthy)))
		for _, d := range healthy {
			v.Details = append(v.Details, d.line())
		}
		if len(healthy) < *expected {
			v.Raise(Critical)
		}
	}
	return v
}
