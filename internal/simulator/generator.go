package simulator

import (
	"math"
	"math/rand"
	"time"

	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/pkg/telemetry"
)

// Generator produces plausible telemetry for one device. Each field gets a
// per-device baseline so fleets show natural spread, with daily cycles and
// noise on top.
// Note: Uses math/rand throughout, which is acceptable for simulation data.
type Generator struct {
	deviceID   string
	fields     []FieldTemplate
	baselines  map[string]float64
	noise      float64
	lastCO2    float64
	battery    float64
	energy     float64
	probeSkews map[string]float64
}

// NewGenerator creates a Generator for one device with randomized baselines.
func NewGenerator(deviceID string, fields []FieldTemplate) *Generator {
	g := &Generator{
		deviceID:   deviceID,
		fields:     fields,
		baselines:  make(map[string]float64, len(fields)),
		noise:      rand.Float64() * 2, // #nosec G404
		lastCO2:    400 + rand.Float64()*200,
		battery:    60 + rand.Float64()*40,
		probeSkews: make(map[string]float64),
	}

	for _, f := range fields {
		switch f.Semantic {
		case semantic.Temperature:
			g.baselines[f.Name] = 20.0 + rand.Float64()*10 // 20-30°C
			// Probes on the same device disagree slightly.
			g.probeSkews[f.Name] = (rand.Float64() - 0.5) * 2
		case semantic.Humidity:
			g.baselines[f.Name] = 50.0 + rand.Float64()*20 // 50-70%
		case semantic.Power:
			g.baselines[f.Name] = 100 + rand.Float64()*400 // 100-500 W
		case semantic.Signal:
			g.baselines[f.Name] = -80 + rand.Float64()*30 // -80..-50 dBm
		case semantic.Loudness:
			g.baselines[f.Name] = 35 + rand.Float64()*15 // 35-50 dB
		case semantic.VOC:
			g.baselines[f.Name] = 100 + rand.Float64()*100
		default:
			g.baselines[f.Name] = rand.Float64() * 100
		}
	}

	return g
}

// Envelope generates one telemetry envelope with a value for every declared
// field at time t.
func (g *Generator) Envelope(t time.Time) *telemetry.Envelope {
	values := make(map[string]float64, len(g.fields))
	for _, f := range g.fields {
		values[f.Name] = g.generate(f, t)
	}

	return &telemetry.Envelope{
		DeviceID:   g.deviceID,
		RecordedAt: t.UTC(),
		Fields:     values,
	}
}

func (g *Generator) generate(f FieldTemplate, t time.Time) float64 {
	switch f.Semantic {
	case semantic.Temperature:
		return round2(g.temperature(f.Name, t))
	case semantic.Humidity:
		return round2(g.humidity(f.Name, t))
	case semantic.CO2:
		return round2(g.co2(t))
	case semantic.Battery:
		return round1(g.batteryLevel())
	case semantic.EnergyConsumption:
		return round2(g.energyTotal())
	default:
		baseline := g.baselines[f.Name]
		return round2(baseline + (rand.Float64()-0.5)*g.noise) // #nosec G404
	}
}

// temperature follows a daily cycle peaking around 2-3 PM, with occasional
// anomaly spikes.
func (g *Generator) temperature(field string, t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 5 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * g.noise // #nosec G404

	anomaly := 0.0
	if rand.Float64() < 0.05 { // #nosec G404
		anomaly = (rand.Float64() - 0.5) * 15 // #nosec G404
	}

	return g.baselines[field] + g.probeSkews[field] + dailyCycle + noise + anomaly
}

// humidity runs inverse to the daily temperature cycle and clamps to 20-95%.
func (g *Generator) humidity(field string, t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := -3 * math.Sin((hour-6)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * g.noise * 0.5              // #nosec G404
	weatherPattern := 10 * math.Sin(float64(t.Unix())/(86400*7)) // Weekly cycle

	anomaly := 0.0
	if rand.Float64() < 0.03 { // #nosec G404
		anomaly = rand.Float64() * 20 // #nosec G404
	}

	humidity := g.baselines[field] + dailyCycle + noise + weatherPattern + anomaly
	return math.Max(20, math.Min(95, humidity))
}

// co2 is a random walk between 400 and 2000 ppm, rising during working hours.
func (g *Generator) co2(t time.Time) float64 {
	hour := t.Hour()

	drift := (rand.Float64() - 0.5) * 30 // #nosec G404
	if hour >= 8 && hour <= 18 {
		drift += rand.Float64() * 20 // #nosec G404 - occupancy pushes CO2 up
	} else {
		drift -= rand.Float64() * 25 // #nosec G404 - ventilation wins overnight
	}

	g.lastCO2 = math.Max(400, math.Min(2000, g.lastCO2+drift))
	return g.lastCO2
}

// batteryLevel drains slowly with small random variation, clamped to 5-100%.
func (g *Generator) batteryLevel() float64 {
	g.battery -= rand.Float64() * 0.05 // #nosec G404
	g.battery = math.Max(5, math.Min(100, g.battery))
	return g.battery
}

// energyTotal is a monotonically increasing counter.
func (g *Generator) energyTotal() float64 {
	g.energy += rand.Float64() * 0.5 // #nosec G404
	return g.energy
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
