package engine

import "fleetquery.dev/fleetquery/internal/semantic"

// aggregate combines the per-device values of the entire matching set into
// one fleet-wide value. Devices with a nil value for the semantic are
// excluded from the computation entirely; for AVG they count in neither the
// numerator nor the denominator. Zero qualifying devices yields nil.
func aggregate(matching []DeviceRow, resolved map[string]map[pair]*float64, p pair, red semantic.Reduction) *float64 {
	values := make([]float64, 0, len(matching))
	for _, row := range matching {
		if v := resolved[row.ID][p]; v != nil {
			values = append(values, *v)
		}
	}
	return semantic.Reduce(values, red)
}
