package health

import "fmt"

// CheckRAM grades the installed memory in GB. Without an expectation any
// non-zero amount is OK and zero means the value could not be read.
func CheckRAM(gb int, expected *int) Verdict {
	switch {
	case expected == nil && gb > 0:
		return Verdict{Severity: OK, Summary: []string{fmt.Sprintf("%dGB", gb)}}
	case expected == nil:
		return Verdict{Severity: Unknown, Summary: []string{"Failed to read RAM"}}
	case gb == *expected:
		return Verdict{Severity: OK, Summary: []string{fmt.Sprintf("%dGB", gb)}}
	case gb < *expected:
		return Verdict{Severity: Critical, Summary: []string{fmt.Sprintf("%dGB, expected %dGB", gb, *expected)}}
	}
	return Verdict{Severity: Warning, Summary: []string{fmt.Sprintf("%dGB, expected %dGB", gb, *expected)}}
}
