// Package simulator seeds a synthetic device fleet and publishes telemetry
// envelopes for it, for demos and end-to-end testing.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/internal/store"
)

// ProductTemplate describes one simulated product and its field declarations.
type ProductTemplate struct {
	Name   string
	Fields []FieldTemplate
}

// FieldTemplate describes one declared field of a simulated product.
type FieldTemplate struct {
	Name     string
	Label    string
	Unit     string
	Semantic semantic.Semantic
}

// Products are the product templates the simulator provisions. The climate
// probe declares two temperature fields so per-device reduction across
// multiple fields is exercised end to end.
var Products = []ProductTemplate{
	{
		Name: "Climate Probe Duo",
		Fields: []FieldTemplate{
			{Name: "temp_probe_1", Label: "Probe 1 Temperature", Unit: "°C", Semantic: semantic.Temperature},
			{Name: "temp_probe_2", Label: "Probe 2 Temperature", Unit: "°C", Semantic: semantic.Temperature},
			{Name: "humidity", Label: "Relative Humidity", Unit: "%", Semantic: semantic.Humidity},
			{Name: "battery", Label: "Battery Level", Unit: "%", Semantic: semantic.Battery},
		},
	},
	{
		Name: "Air Quality Monitor",
		Fields: []FieldTemplate{
			{Name: "co2", Label: "CO2 Concentration", Unit: "ppm", Semantic: semantic.CO2},
			{Name: "voc", Label: "VOC Index", Unit: "", Semantic: semantic.VOC},
			{Name: "temperature", Label: "Temperature", Unit: "°C", Semantic: semantic.Temperature},
			{Name: "loudness", Label: "Loudness", Unit: "dB", Semantic: semantic.Loudness},
			{Name: "battery", Label: "Battery Level", Unit: "%", Semantic: semantic.Battery},
		},
	},
	{
		Name: "Power Meter",
		Fields: []FieldTemplate{
			{Name: "power", Label: "Active Power", Unit: "W", Semantic: semantic.Power},
			{Name: "energy_total", Label: "Total Energy", Unit: "kWh", Semantic: semantic.EnergyConsumption},
			{Name: "signal", Label: "Signal Strength", Unit: "dBm", Semantic: semantic.Signal},
		},
	},
}

// tagPool holds the tags simulated devices are labeled with.
var tagPool = []string{"floor-1", "floor-2", "floor-3", "office", "warehouse", "lab", "critical"}

// deviceIdentity is filled from gofakeit struct tags.
type deviceIdentity struct {
	Name     string `fake:"{petname}"`
	Location string `fake:"{city}"`
}

// SimDevice pairs a provisioned device with its product template and a
// telemetry generator.
type SimDevice struct {
	Device    store.Device
	Product   ProductTemplate
	ProductID string
	Generator *Generator
}

// Seeder provisions the simulated fleet in the store.
type Seeder struct {
	store *store.Store
}

// NewSeeder creates a Seeder backed by the given store.
func NewSeeder(s *store.Store) *Seeder {
	return &Seeder{store: s}
}

// Seed creates the workspace, product templates, and deviceCount devices
// spread across the templates. It returns the simulated devices ready for
// publishing.
// Note: Uses math/rand for fleet generation which is acceptable for simulation data.
func (s *Seeder) Seed(ctx context.Context, workspaceID, workspaceName string, deviceCount int) ([]*SimDevice, error) {
	ws := &store.Workspace{ID: workspaceID, Name: workspaceName}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	productIDs := make([]string, len(Products))
	for i, tmpl := range Products {
		p := &store.Product{
			ID:   uuid.NewString(),
			Name: tmpl.Name,
		}
		for pos, f := range tmpl.Fields {
			p.Fields = append(p.Fields, store.FieldDeclaration{
				ProductID: p.ID,
				Position:  pos,
				Name:      f.Name,
				Label:     f.Label,
				Unit:      f.Unit,
				ValueType: "numeric",
				Semantic:  string(f.Semantic),
			})
		}
		if err := s.store.CreateProduct(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to create product %q: %w", tmpl.Name, err)
		}
		productIDs[i] = p.ID
	}

	devices := make([]*SimDevice, 0, deviceCount)
	for i := 0; i < deviceCount; i++ {
		var identity deviceIdentity
		if err := gofakeit.Struct(&identity); err != nil {
			return nil, fmt.Errorf("failed to generate device identity: %w", err)
		}

		templateIdx := i % len(Products)
		tmpl := Products[templateIdx]

		d := &store.Device{
			ID:          uuid.NewString(),
			WorkspaceID: workspaceID,
			ProductID:   productIDs[templateIdx],
			Name:        fmt.Sprintf("%s-%s", identity.Name, identity.Location),
			Online:      true,
			LastHeard:   time.Now().UTC(),
			Tags:        randomTags(),
		}
		if err := s.store.CreateDevice(ctx, d); err != nil {
			return nil, fmt.Errorf("failed to create device: %w", err)
		}

		devices = append(devices, &SimDevice{
			Device:    *d,
			Product:   tmpl,
			ProductID: productIDs[templateIdx],
			Generator: NewGenerator(d.ID, tmpl.Fields),
		})
	}

	return devices, nil
}

// randomTags picks one to three tags from the pool.
func randomTags() store.TagList {
	count := rand.Intn(3) + 1 // #nosec G404 - weak random is acceptable for simulation
	tags := make(store.TagList, 0, count)
	seen := make(map[string]bool, count)
	for len(tags) < count {
		tag := tagPool[rand.Intn(len(tagPool))] // #nosec G404 - weak random is acceptable for simulation
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
