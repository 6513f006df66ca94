package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetquery.dev/fleetquery/internal/catalog"
	"fleetquery.dev/fleetquery/internal/engine"
	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/internal/store"
)

var _ = Describe("Query Engine E2E", func() {
	var (
		ctx         context.Context
		eng         *engine.Engine
		workspaceID string
	)

	ptr := func(v float64) *float64 { return &v }

	newEngine := func() *engine.Engine {
		cat := catalog.New(testStore, 0, testLogger)
		resolver, err := engine.NewResolver(cat, testStore, testLogger)
		Expect(err).NotTo(HaveOccurred())
		e, err := engine.New(&engine.Config{
			Devices:  testStore,
			Resolver: resolver,
			Logger:   testLogger,
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	seedDevice := func(productID, name string, tags []string, fields map[string]float64) string {
		d := &store.Device{
			ID:          uuid.NewString(),
			WorkspaceID: workspaceID,
			ProductID:   productID,
			Name:        name,
			Online:      true,
			LastHeard:   time.Now().UTC(),
			Tags:        tags,
		}
		Expect(testStore.CreateDevice(ctx, d)).To(Succeed())
		for field, value := range fields {
			Expect(testStore.UpsertMeasurement(ctx, d.ID, field, value, time.Now().UTC())).To(Succeed())
		}
		return d.ID
	}

	BeforeEach(func() {
		ctx = context.Background()
		workspaceID = uuid.NewString()
		Expect(testStore.CreateWorkspace(ctx, &store.Workspace{
			ID:   workspaceID,
			Name: "e2e-" + workspaceID[:8],
		})).To(Succeed())
		eng = newEngine()
	})

	Describe("office air quality scenario", func() {
		var productID string

		BeforeEach(func() {
			productID = uuid.NewString()
			Expect(testStore.CreateProduct(ctx, &store.Product{
				ID:   productID,
				Name: "Climate Sensor",
				Fields: []store.FieldDeclaration{
					{ProductID: productID, Position: 0, Name: "temp", Label: "Temperature", Unit: "°C", ValueType: "numeric", Semantic: string(semantic.Temperature)},
					{ProductID: productID, Position: 1, Name: "co2", Label: "CO2", Unit: "ppm", ValueType: "numeric", Semantic: string(semantic.CO2)},
				},
			})).To(Succeed())

			seedDevice(productID, "meeting-room", []string{"office"}, map[string]float64{"temp": 23.9, "co2": 479})
			seedDevice(productID, "open-space", []string{"office"}, map[string]float64{"temp": 23.1, "co2": 430})
			seedDevice(productID, "kitchen", []string{"office"}, map[string]float64{"temp": 23.6, "co2": 604})
			// Never reported; must not contribute to aggregates.
			seedDevice(productID, "storage", []string{"office"}, nil)
		})

		It("filters, counts, and aggregates consistently", func() {
			result, err := eng.Execute(ctx, engine.Query{
				WorkspaceID: workspaceID,
				Terms: []engine.FilterTerm{
					{Semantic: semantic.CO2, Reduction: semantic.Avg, LT: ptr(1000)},
				},
				Aggregates: []engine.AggregateRequest{
					{Alias: "avgTemperature", Semantic: semantic.Temperature, Reduction: semantic.Avg},
					{Alias: "maxCO2", Semantic: semantic.CO2, Reduction: semantic.Max},
				},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Total).To(Equal(3), "device without measurements fails the CO2 predicate")
			Expect(result.Devices).To(BeNil(), "device details were not requested")
			Expect(result.Aggregates["avgTemperature"]).To(HaveValue(BeNumerically("~", 23.5333, 0.001)))
			Expect(result.Aggregates["maxCO2"]).To(HaveValue(BeNumerically("==", 604)))
		})

		It("returns identical totals and aggregates for every page size", func() {
			var reference *engine.Result
			for _, size := range []int{1, 2, 100} {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: workspaceID,
					Terms: []engine.FilterTerm{
						{Semantic: semantic.CO2, Reduction: semantic.Avg, LT: ptr(1000)},
					},
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgTemperature", Semantic: semantic.Temperature, Reduction: semantic.Avg},
					},
					Page: &engine.Page{Number: 0, Size: size},
				})
				Expect(err).NotTo(HaveOccurred())

				if reference == nil {
					reference = result
					continue
				}
				Expect(result.Total).To(Equal(reference.Total))
				Expect(result.Aggregates["avgTemperature"]).To(HaveValue(
					BeNumerically("==", *reference.Aggregates["avgTemperature"])))
			}
		})

		It("pages the matching set in a stable name order", func() {
			collected := []string{}
			for page := 0; ; page++ {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: workspaceID,
					Page:        &engine.Page{Number: page, Size: 2},
				})
				Expect(err).NotTo(HaveOccurred())
				if len(result.Devices) == 0 {
					break
				}
				for _, row := range result.Devices {
					collected = append(collected, row.Name)
				}
			}

			Expect(collected).To(Equal([]string{"kitchen", "meeting-room", "open-space", "storage"}))
		})

		It("resolves a single device's semantic with its field breakdown", func() {
			deviceID := seedDevice(productID, "lab-bench", []string{"lab"}, map[string]float64{"temp": 19.5})

			value, fields, err := eng.ResolveDevice(ctx, deviceID, semantic.Temperature, semantic.Avg)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(HaveValue(BeNumerically("==", 19.5)))
			Expect(fields).To(HaveLen(1))
			Expect(fields[0].FieldName).To(Equal("temp"))
		})
	})

	Describe("multi-field semantics", func() {
		It("reduces multiple fields of one semantic per device", func() {
			productID := uuid.NewString()
			Expect(testStore.CreateProduct(ctx, &store.Product{
				ID:   productID,
				Name: "Dual Probe",
				Fields: []store.FieldDeclaration{
					{ProductID: productID, Position: 0, Name: "probe_a", Label: "Probe A", Unit: "°C", ValueType: "numeric", Semantic: string(semantic.Temperature)},
					{ProductID: productID, Position: 1, Name: "probe_b", Label: "Probe B", Unit: "°C", ValueType: "numeric", Semantic: string(semantic.Temperature)},
				},
			})).To(Succeed())

			deviceID := seedDevice(productID, "cold-room", nil, map[string]float64{"probe_a": 10, "probe_b": 20})

			for red, want := range map[semantic.Reduction]float64{
				semantic.Avg: 15,
				semantic.Sum: 30,
				semantic.Max: 20,
				semantic.Min: 10,
			} {
				value, _, err := eng.ResolveDevice(ctx, deviceID, semantic.Temperature, red)
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(HaveValue(BeNumerically("==", want)),
					fmt.Sprintf("reduction %s", red))
			}
		})
	})

	Describe("error taxonomy", func() {
		It("reports unknown workspaces as not found", func() {
			_, err := eng.Execute(ctx, engine.Query{WorkspaceID: uuid.NewString()})
			Expect(qerrors.IsNotFound(err)).To(BeTrue())
		})

		It("rejects invalid queries before touching the database", func() {
			_, err := eng.Execute(ctx, engine.Query{
				WorkspaceID: workspaceID,
				Page:        &engine.Page{Number: 0, Size: engine.MaxPageSize + 1},
			})
			Expect(qerrors.IsValidation(err)).To(BeTrue())
		})
	})
})
