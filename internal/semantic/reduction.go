package semantic

import (
	"fmt"
	"strings"
)

// Reduction combines multiple numeric values into one. The same reductions
// apply at both levels: collapsing a device's raw fields into a per-device
// semantic value, and collapsing per-device values into a fleet-wide aggregate.
type Reduction string

// Supported reductions.
const (
	Avg Reduction = "AVG"
	Sum Reduction = "SUM"
	Max Reduction = "MAX"
	Min Reduction = "MIN"
)

// DefaultReduction is used when a query does not specify one.
const DefaultReduction = Avg

// ParseReduction converts a string to a Reduction. Matching is
// case-insensitive; the empty string yields DefaultReduction.
func ParseReduction(s string) (Reduction, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultReduction, nil
	}
	switch r := Reduction(strings.ToUpper(strings.TrimSpace(s))); r {
	case Avg, Sum, Max, Min:
		return r, nil
	default:
		return "", fmt.Errorf("unknown reduction %q", s)
	}
}

// Valid reports whether r is a supported reduction.
func (r Reduction) Valid() bool {
	switch r {
	case Avg, Sum, Max, Min:
		return true
	}
	return false
}

func (r Reduction) String() string {
	return string(r)
}

// Reduce combines values using the reduction. It returns nil when values is
// empty; absence of data is never reported as zero.
func Reduce(values []float64, r Reduction) *float64 {
	if len(values) == 0 {
		return nil
	}

	result := values[0]
	switch r {
	case Sum, Avg:
		for _, v := range values[1:] {
			result += v
		}
		if r == Avg {
			result /= float64(len(values))
		}
	case Max:
		for _, v := range values[1:] {
			if v > result {
				result = v
			}
		}
	case Min:
		for _, v := range values[1:] {
			if v < result {
				result = v
			}
		}
	default:
		return nil
	}

	return &result
}
