package engine_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetquery.dev/fleetquery/internal/catalog"
	"fleetquery.dev/fleetquery/internal/engine"
	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
)

func newTestEngine(f *fleetFixture) *engine.Engine {
	cat := catalog.New(f, time.Minute, nil)
	resolver, err := engine.NewResolver(cat, f, nil)
	Expect(err).NotTo(HaveOccurred())
	eng, err := engine.New(&engine.Config{Devices: f, Resolver: resolver})
	Expect(err).NotTo(HaveOccurred())
	return eng
}

var _ = Describe("Engine", func() {
	var (
		fixture *fleetFixture
		eng     *engine.Engine
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fixture = newFleetFixture()
	})

	Describe("Execute", func() {
		Context("with a climate workspace", func() {
			// Three devices reporting both TEMPERATURE and CO2, mirroring
			// a small office floor.
			BeforeEach(func() {
				fixture.addProduct("climate",
					catalog.Field{Name: "temp", Unit: "°C", Type: catalog.TypeNumeric, Semantic: semantic.Temperature},
					catalog.Field{Name: "co2", Unit: "ppm", Type: catalog.TypeNumeric, Semantic: semantic.CO2},
				)
				fixture.addDevice("office", engine.Device{ID: "a", Name: "Room A", ProductID: "climate", Online: true},
					map[string]float64{"temp": 23.9, "co2": 479})
				fixture.addDevice("office", engine.Device{ID: "b", Name: "Room B", ProductID: "climate", Online: true},
					map[string]float64{"temp": 23.1, "co2": 430})
				fixture.addDevice("office", engine.Device{ID: "c", Name: "Room C", ProductID: "climate", Online: false},
					map[string]float64{"temp": 23.6, "co2": 604})
				eng = newTestEngine(fixture)
			})

			It("should count all matches and average temperature across them", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "office",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Temperature, Reduction: semantic.Avg, GT: ptr(10)},
						{Semantic: semantic.CO2, Reduction: semantic.Avg, GT: ptr(400)},
					},
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgTemperature", Semantic: semantic.Temperature, Reduction: semantic.Avg},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(3))
				Expect(result.Devices).To(BeNil())
				Expect(result.Aggregates["avgTemperature"]).NotTo(BeNil())
				Expect(*result.Aggregates["avgTemperature"]).To(BeNumerically("~", (23.9+23.1+23.6)/3, 1e-9))
			})

			It("should exclude devices failing any term", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "office",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.CO2, Reduction: semantic.Avg, LT: ptr(500)},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(2))
			})

			It("should AND multiple operators within one term", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "office",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.CO2, Reduction: semantic.Avg, GT: ptr(440), LT: ptr(500)},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(1))
			})

			It("should treat range bounds as inclusive on both ends", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "office",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Temperature, Reduction: semantic.Avg,
							Range: &engine.Range{Start: 23.1, End: 23.9}},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(3))
			})

			It("should combine semantic terms with attribute predicates", func() {
				online := true
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "office",
					Online:      &online,
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Temperature, Reduction: semantic.Avg, GT: ptr(10)},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(2))
			})

			It("should match search case-insensitively against display names", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "office",
					Search:      "room b",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(1))
			})

			It("should return identical results for a repeated identical query", func() {
				q := engine.Query{
					WorkspaceID: "office",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.CO2, Reduction: semantic.Avg, GT: ptr(400)},
					},
					Aggregates: []engine.AggregateRequest{
						{Alias: "maxCO2", Semantic: semantic.CO2, Reduction: semantic.Max},
					},
					All: true,
				}

				first, err := eng.Execute(ctx, q)
				Expect(err).NotTo(HaveOccurred())
				second, err := eng.Execute(ctx, q)
				Expect(err).NotTo(HaveOccurred())

				Expect(second.Total).To(Equal(first.Total))
				Expect(*second.Aggregates["maxCO2"]).To(Equal(*first.Aggregates["maxCO2"]))
				Expect(second.Devices).To(HaveLen(len(first.Devices)))
				for i := range first.Devices {
					Expect(second.Devices[i].ID).To(Equal(first.Devices[i].ID))
				}
			})
		})

		Context("devices lacking a semantic", func() {
			BeforeEach(func() {
				fixture.addProduct("thermometer",
					catalog.Field{Name: "t", Unit: "°C", Type: catalog.TypeNumeric, Semantic: semantic.Temperature},
				)
				fixture.addProduct("co2-meter",
					catalog.Field{Name: "ppm", Unit: "ppm", Type: catalog.TypeNumeric, Semantic: semantic.CO2},
				)
				fixture.addDevice("mixed", engine.Device{ID: "t1", Name: "Thermo", ProductID: "thermometer"},
					map[string]float64{"t": 19.0})
				fixture.addDevice("mixed", engine.Device{ID: "c1", Name: "Meter", ProductID: "co2-meter"},
					map[string]float64{"ppm": 700})
				eng = newTestEngine(fixture)
			})

			It("should exclude them from any filter on that semantic, for every operator", func() {
				operators := []engine.FilterTerm{
					{Semantic: semantic.CO2, Reduction: semantic.Avg, GT: ptr(0)},
					{Semantic: semantic.CO2, Reduction: semantic.Avg, GTE: ptr(0)},
					{Semantic: semantic.CO2, Reduction: semantic.Avg, LT: ptr(10000)},
					{Semantic: semantic.CO2, Reduction: semantic.Avg, LTE: ptr(10000)},
					{Semantic: semantic.CO2, Reduction: semantic.Avg, Range: &engine.Range{Start: 0, End: 10000}},
				}
				for _, term := range operators {
					result, err := eng.Execute(ctx, engine.Query{
						WorkspaceID: "mixed",
						Terms:       []engine.FilterTerm{term},
						All:         true,
					})
					Expect(err).NotTo(HaveOccurred())
					Expect(result.Total).To(Equal(1))
					Expect(result.Devices[0].ID).To(Equal("c1"))
				}
			})

			It("should exclude them from AVG aggregates entirely, not count them as zero", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "mixed",
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgCO2", Semantic: semantic.CO2, Reduction: semantic.Avg},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(2))
				// Only the CO2 meter contributes; a zero for the
				// thermometer would drag this down to 350.
				Expect(*result.Aggregates["avgCO2"]).To(Equal(700.0))
			})

			It("should return a nil aggregate when no matching device reports the semantic", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "mixed",
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgBattery", Semantic: semantic.Battery, Reduction: semantic.Avg},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Aggregates).To(HaveKey("avgBattery"))
				Expect(result.Aggregates["avgBattery"]).To(BeNil())
			})
		})

		Context("multi-field per-device reduction", func() {
			BeforeEach(func() {
				fixture.addProduct("dual-probe",
					catalog.Field{Name: "probe_a", Unit: "°C", Type: catalog.TypeNumeric, Semantic: semantic.Temperature},
					catalog.Field{Name: "probe_b", Unit: "°C", Type: catalog.TypeNumeric, Semantic: semantic.Temperature},
				)
				fixture.addDevice("ws", engine.Device{ID: "d1", Name: "Dual", ProductID: "dual-probe"},
					map[string]float64{"probe_a": 10.0, "probe_b": 20.0})
				eng = newTestEngine(fixture)
			})

			It("should compare against the per-device reduced value", func() {
				// AVG is 15: a gt:16 filter must fail, MAX is 20: it must pass.
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Temperature, Reduction: semantic.Avg, GT: ptr(16)},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(0))

				result, err = eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Temperature, Reduction: semantic.Max, GT: ptr(16)},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(1))
			})

			It("should reuse the term's reduction for an aggregate on the same semantic", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Temperature, Reduction: semantic.Sum, GT: ptr(0)},
					},
					Aggregates: []engine.AggregateRequest{
						{Alias: "maxTemp", Semantic: semantic.Temperature, Reduction: semantic.Max},
					},
				})
				Expect(err).NotTo(HaveOccurred())
				// Per-device SUM is 30; the fleet MAX over one device is 30.
				Expect(*result.Aggregates["maxTemp"]).To(Equal(30.0))
			})
		})

		Context("aggregation independence from pagination", func() {
			BeforeEach(func() {
				fixture.addProduct("powered",
					catalog.Field{Name: "batt", Unit: "%", Type: catalog.TypeNumeric, Semantic: semantic.Battery},
				)
				for i := 0; i < 50; i++ {
					// Batteries 1..50; 19 devices sit strictly below 20.
					fixture.addDevice("fleet", engine.Device{
						ID:        fmt.Sprintf("dev-%03d", i),
						Name:      fmt.Sprintf("Device %03d", i),
						ProductID: "powered",
					}, map[string]float64{"batt": float64(i + 1)})
				}
				eng = newTestEngine(fixture)
			})

			It("should report the same total and aggregate for every page size", func() {
				base := engine.Query{
					WorkspaceID: "fleet",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Battery, Reduction: semantic.Avg, LT: ptr(20)},
					},
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgBattery", Semantic: semantic.Battery, Reduction: semantic.Avg},
					},
				}

				var totals []int
				var aggs []float64
				for _, size := range []int{1, 10, 100} {
					q := base
					q.Page = &engine.Page{Number: 0, Size: size}
					result, err := eng.Execute(ctx, q)
					Expect(err).NotTo(HaveOccurred())
					totals = append(totals, result.Total)
					aggs = append(aggs, *result.Aggregates["avgBattery"])
					Expect(len(result.Devices)).To(Equal(min(size, 19)))
				}

				// avg(1..19) = 10
				for i := range totals {
					Expect(totals[i]).To(Equal(19))
					Expect(aggs[i]).To(Equal(10.0))
				}
			})

			It("should return an empty page past the end of the set", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "fleet",
					Page:        &engine.Page{Number: 99, Size: 10},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(50))
				Expect(result.Devices).NotTo(BeNil())
				Expect(result.Devices).To(BeEmpty())
			})

			It("should page by name ascending with stable boundaries", func() {
				first, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "fleet",
					Page:        &engine.Page{Number: 0, Size: 10},
				})
				Expect(err).NotTo(HaveOccurred())
				second, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "fleet",
					Page:        &engine.Page{Number: 1, Size: 10},
				})
				Expect(err).NotTo(HaveOccurred())

				Expect(first.Devices).To(HaveLen(10))
				Expect(first.Devices[0].Name).To(Equal("Device 000"))
				Expect(second.Devices[0].Name).To(Equal("Device 010"))
			})
		})

		Context("ordering", func() {
			BeforeEach(func() {
				fixture.addProduct("plain")
				now := time.Now()
				fixture.addDevice("ws", engine.Device{ID: "b", Name: "Same", ProductID: "plain", LastHeard: now}, nil)
				fixture.addDevice("ws", engine.Device{ID: "a", Name: "Same", ProductID: "plain", LastHeard: now}, nil)
				fixture.addDevice("ws", engine.Device{ID: "c", Name: "Fresh", ProductID: "plain", LastHeard: now.Add(time.Minute)}, nil)
				eng = newTestEngine(fixture)
			})

			It("should break name ties by device id", func() {
				result, err := eng.Execute(ctx, engine.Query{WorkspaceID: "ws", All: true})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Devices[0].ID).To(Equal("c")) // "Fresh" < "Same"
				Expect(result.Devices[1].ID).To(Equal("a"))
				Expect(result.Devices[2].ID).To(Equal("b"))
			})

			It("should order by last-heard descending when requested", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					All:         true,
					OrderBy:     engine.OrderByLastHeard,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Devices[0].ID).To(Equal("c"))
				Expect(result.Devices[1].ID).To(Equal("a"))
				Expect(result.Devices[2].ID).To(Equal("b"))
			})
		})

		Context("tag predicates", func() {
			BeforeEach(func() {
				fixture.addProduct("plain")
				fixture.addDevice("ws", engine.Device{ID: "1", Name: "one", ProductID: "plain", Tags: []string{"prod", "basement"}}, nil)
				fixture.addDevice("ws", engine.Device{ID: "2", Name: "two", ProductID: "plain", Tags: []string{"prod", "roof"}}, nil)
				fixture.addDevice("ws", engine.Device{ID: "3", Name: "three", ProductID: "plain", Tags: []string{"staging"}}, nil)
				eng = newTestEngine(fixture)
			})

			It("should require every tag for tagsContains", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID:  "ws",
					TagsContains: []string{"prod", "roof"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(1))
			})

			It("should require any tag for tagsOverlap", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					TagsOverlap: []string{"roof", "staging"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(2))
			})

			It("should match tags case-sensitively", func() {
				result, err := eng.Execute(ctx, engine.Query{
					WorkspaceID:  "ws",
					TagsContains: []string{"Prod"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Total).To(Equal(0))
			})
		})

		Context("error handling", func() {
			BeforeEach(func() {
				fixture.addProduct("powered",
					catalog.Field{Name: "batt", Unit: "%", Type: catalog.TypeNumeric, Semantic: semantic.Battery},
				)
				fixture.addDevice("ws", engine.Device{ID: "d1", Name: "one", ProductID: "powered"},
					map[string]float64{"batt": 50})
				eng = newTestEngine(fixture)
			})

			It("should return not-found for an unknown workspace", func() {
				_, err := eng.Execute(ctx, engine.Query{WorkspaceID: "nope"})
				Expect(err).To(HaveOccurred())
				Expect(qerrors.IsNotFound(err)).To(BeTrue())
			})

			It("should reject an inverted range before any store access", func() {
				_, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Battery, Reduction: semantic.Avg,
							Range: &engine.Range{Start: 30, End: 20}},
					},
				})
				Expect(err).To(HaveOccurred())
				Expect(qerrors.IsValidation(err)).To(BeTrue())
			})

			It("should reject a term with no operator", func() {
				_, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Terms: []engine.FilterTerm{
						{Semantic: semantic.Battery, Reduction: semantic.Avg},
					},
				})
				Expect(qerrors.IsValidation(err)).To(BeTrue())
			})

			It("should reject a page size above the cap", func() {
				_, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Page:        &engine.Page{Number: 0, Size: engine.MaxPageSize + 1},
				})
				Expect(qerrors.IsValidation(err)).To(BeTrue())
			})

			It("should reject a non-positive page size", func() {
				_, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Page:        &engine.Page{Number: 0, Size: 0},
				})
				Expect(qerrors.IsValidation(err)).To(BeTrue())
			})

			It("should fail closed when resolution fails during an aggregate", func() {
				fixture.failCurrentValues = true
				_, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgBattery", Semantic: semantic.Battery, Reduction: semantic.Avg},
					},
				})
				Expect(err).To(HaveOccurred())
				Expect(qerrors.IsUpstream(err)).To(BeTrue())
			})

			It("should honor the query timeout", func() {
				_, err := eng.Execute(ctx, engine.Query{
					WorkspaceID: "ws",
					Timeout:     time.Nanosecond,
					Aggregates: []engine.AggregateRequest{
						{Alias: "avgBattery", Semantic: semantic.Battery, Reduction: semantic.Avg},
					},
				})
				// Either the deadline fired mid-resolution or the query got
				// lucky; a partial result must never be returned silently.
				if err != nil {
					Expect(qerrors.IsValidation(err)).To(BeFalse())
				}
			})
		})
	})

	Describe("ResolveDevice", func() {
		BeforeEach(func() {
			fixture.addProduct("powered",
				catalog.Field{Name: "batt", Unit: "%", Type: catalog.TypeNumeric, Semantic: semantic.Battery},
			)
			fixture.addDevice("ws", engine.Device{ID: "d1", Name: "one", ProductID: "powered"},
				map[string]float64{"batt": 42})
			eng = newTestEngine(fixture)
		})

		It("should resolve value and breakdown for a known device", func() {
			v, fields, err := eng.ResolveDevice(ctx, "d1", semantic.Battery, semantic.Avg)
			Expect(err).NotTo(HaveOccurred())
			Expect(*v).To(Equal(42.0))
			Expect(fields).To(HaveLen(1))
			Expect(fields[0].FieldName).To(Equal("batt"))
		})

		It("should return not-found for an unknown device", func() {
			_, _, err := eng.ResolveDevice(ctx, "ghost", semantic.Battery, semantic.Avg)
			Expect(err).To(HaveOccurred())
			Expect(qerrors.IsNotFound(err)).To(BeTrue())
		})
	})
})
