// Package semantic defines the closed set of normalized measurement categories
// and the reductions used to combine raw values into a single semantic value.
package semantic

import (
	"fmt"
	"strings"
)

// Semantic is a normalized measurement category, independent of the raw field
// names a particular device product exposes.
type Semantic string

// The closed set of supported semantics. Not user-extensible.
const (
	Temperature       Semantic = "TEMPERATURE"
	Humidity          Semantic = "HUMIDITY"
	CO2               Semantic = "CO2"
	Battery           Semantic = "BATTERY"
	Power             Semantic = "POWER"
	EnergyConsumption Semantic = "ENERGY_CONSUMPTION"
	SoilMoisture      Semantic = "SOIL_MOISTURE"
	WaterConsumption  Semantic = "WATER_CONSUMPTION"
	WaterDepth        Semantic = "WATER_DEPTH"
	FillLevel         Semantic = "FILL_LEVEL"
	AirPollution      Semantic = "AIR_POLLUTION"
	AmbientLight      Semantic = "AMBIENT_LIGHT"
	Loudness          Semantic = "LOUDNESS"
	PeopleCount       Semantic = "PEOPLE_COUNT"
	Signal            Semantic = "SIGNAL"
	VOC               Semantic = "VOC"
	Location          Semantic = "LOCATION"
)

// All lists every supported semantic in declaration order.
var All = []Semantic{
	Temperature,
	Humidity,
	CO2,
	Battery,
	Power,
	EnergyConsumption,
	SoilMoisture,
	WaterConsumption,
	WaterDepth,
	FillLevel,
	AirPollution,
	AmbientLight,
	Loudness,
	PeopleCount,
	Signal,
	VOC,
	Location,
}

var valid = func() map[Semantic]struct{} {
	m := make(map[Semantic]struct{}, len(All))
	for _, s := range All {
		m[s] = struct{}{}
	}
	return m
}()

// Parse converts a string to a Semantic. Matching is case-insensitive.
func Parse(s string) (Semantic, error) {
	sem := Semantic(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := valid[sem]; !ok {
		return "", fmt.Errorf("unknown semantic %q", s)
	}
	return sem, nil
}

// Valid reports whether s is one of the supported semantics.
func (s Semantic) Valid() bool {
	_, ok := valid[s]
	return ok
}

// Numeric reports whether values for this semantic are numeric.
// LOCATION is the only non-numeric semantic; it is excluded from
// resolution, filtering, and aggregation.
func (s Semantic) Numeric() bool {
	return s != Location && s.Valid()
}

func (s Semantic) String() string {
	return string(s)
}
