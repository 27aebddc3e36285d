package firmware

import (
	"strconv"
	"strings"
)

// ParseVersion splits a dotted-numeric version such as "2.1.0" into its parts.
// It reports false if any part is not a non-negative integer.
func ParseVersion(v string) ([]int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, false
	}
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || strings.HasPrefix(f, "+") {
			return nil, false
		}
		parts[i] = n
	}
	return parts, true
}

// Compare returns a negative number when a < b, zero when equal and a positive
// number when a > b. Dotted-numeric versions compare part by part, a shorter
// version sorting before any longer one sharing its prefix. When either side is
// not dotted-numeric the raw strings are compared, so "10" sorts before "9".
func Compare(a, b string) int {
	pa, okA := ParseVersion(a)
	pb, okB := ParseVersion(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}
