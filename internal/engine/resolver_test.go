package engine_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetquery.dev/fleetquery/internal/catalog"
	"fleetquery.dev/fleetquery/internal/engine"
	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
)

var allReductions = []semantic.Reduction{semantic.Avg, semantic.Sum, semantic.Max, semantic.Min}

var _ = Describe("Resolver", func() {
	var (
		fixture  *fleetFixture
		resolver *engine.Resolver
		ctx      context.Context
	)

	newResolver := func(f *fleetFixture) *engine.Resolver {
		cat := catalog.New(f, time.Minute, nil)
		r, err := engine.NewResolver(cat, f, nil)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		ctx = context.Background()
		fixture = newFleetFixture()
		fixture.addProduct("dual-probe",
			catalog.Field{Name: "probe_a", Unit: "°C", Type: catalog.TypeNumeric, Semantic: semantic.Temperature},
			catalog.Field{Name: "probe_b", Unit: "°C", Type: catalog.TypeNumeric, Semantic: semantic.Temperature},
			catalog.Field{Name: "batt_v", Unit: "%", Type: catalog.TypeNumeric, Semantic: semantic.Battery},
		)
		resolver = newResolver(fixture)
	})

	Describe("Resolve", func() {
		Context("when the product declares no field for the semantic", func() {
			It("should return nil for every reduction", func() {
				fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, map[string]float64{
					"probe_a": 21.0,
				})
				d, err := fixture.GetDevice(ctx, "d1")
				Expect(err).NotTo(HaveOccurred())

				for _, r := range allReductions {
					v, err := resolver.Resolve(ctx, d, semantic.CO2, r)
					Expect(err).NotTo(HaveOccurred())
					Expect(v).To(BeNil())
				}
			})
		})

		Context("when exactly one field matches", func() {
			It("should return the raw value verbatim for every reduction", func() {
				fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, map[string]float64{
					"batt_v": 87.5,
				})
				d, _ := fixture.GetDevice(ctx, "d1")

				for _, r := range allReductions {
					v, err := resolver.Resolve(ctx, d, semantic.Battery, r)
					Expect(err).NotTo(HaveOccurred())
					Expect(v).NotTo(BeNil())
					Expect(*v).To(Equal(87.5))
				}
			})
		})

		Context("when multiple fields match", func() {
			BeforeEach(func() {
				fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, map[string]float64{
					"probe_a": 10.0,
					"probe_b": 20.0,
				})
			})

			It("should average with AVG", func() {
				d, _ := fixture.GetDevice(ctx, "d1")
				v, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Avg)
				Expect(err).NotTo(HaveOccurred())
				Expect(*v).To(Equal(15.0))
			})

			It("should sum with SUM", func() {
				d, _ := fixture.GetDevice(ctx, "d1")
				v, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Sum)
				Expect(err).NotTo(HaveOccurred())
				Expect(*v).To(Equal(30.0))
			})

			It("should take the extremum with MAX and MIN", func() {
				d, _ := fixture.GetDevice(ctx, "d1")
				vMax, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Max)
				Expect(err).NotTo(HaveOccurred())
				Expect(*vMax).To(Equal(20.0))

				vMin, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Min)
				Expect(err).NotTo(HaveOccurred())
				Expect(*vMin).To(Equal(10.0))
			})

			It("should skip fields with no recorded value", func() {
				fixture.addDevice("ws", engine.Device{ID: "d2", ProductID: "dual-probe"}, map[string]float64{
					"probe_b": 20.0,
				})
				d, _ := fixture.GetDevice(ctx, "d2")
				v, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Avg)
				Expect(err).NotTo(HaveOccurred())
				Expect(*v).To(Equal(20.0))
			})

			It("should return nil when every field lacks a value", func() {
				fixture.addDevice("ws", engine.Device{ID: "d3", ProductID: "dual-probe"}, nil)
				d, _ := fixture.GetDevice(ctx, "d3")
				v, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Avg)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(BeNil())
			})
		})

		Context("with invalid input", func() {
			It("should reject non-numeric semantics", func() {
				d := engine.Device{ID: "d1", ProductID: "dual-probe"}
				_, err := resolver.Resolve(ctx, d, semantic.Location, semantic.Avg)
				Expect(err).To(HaveOccurred())
				Expect(qerrors.IsValidation(err)).To(BeTrue())
			})

			It("should surface an unknown product as not-found", func() {
				d := engine.Device{ID: "d1", ProductID: "no-such-product"}
				_, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Avg)
				Expect(err).To(HaveOccurred())
				Expect(qerrors.IsNotFound(err)).To(BeTrue())
			})

			It("should wrap measurement store failures as upstream errors", func() {
				fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, map[string]float64{
					"probe_a": 1.0,
				})
				fixture.failCurrentValues = true
				d, _ := fixture.GetDevice(ctx, "d1")
				_, err := resolver.Resolve(ctx, d, semantic.Temperature, semantic.Avg)
				Expect(err).To(HaveOccurred())
				Expect(qerrors.IsUpstream(err)).To(BeTrue())
			})
		})
	})

	Describe("ResolveFields", func() {
		It("should report the per-field breakdown with units", func() {
			fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, map[string]float64{
				"probe_a": 10.0,
				"probe_b": 20.0,
			})
			d, _ := fixture.GetDevice(ctx, "d1")

			v, fields, err := resolver.ResolveFields(ctx, d, semantic.Temperature, semantic.Avg)
			Expect(err).NotTo(HaveOccurred())
			Expect(*v).To(Equal(15.0))
			Expect(fields).To(HaveLen(2))
			Expect(fields[0].FieldName).To(Equal("probe_a"))
			Expect(fields[0].Unit).To(Equal("°C"))
			Expect(*fields[0].Value).To(Equal(10.0))
			Expect(*fields[1].Value).To(Equal(20.0))
		})

		It("should include missing fields with a nil value", func() {
			fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, map[string]float64{
				"probe_a": 10.0,
			})
			d, _ := fixture.GetDevice(ctx, "d1")

			v, fields, err := resolver.ResolveFields(ctx, d, semantic.Temperature, semantic.Avg)
			Expect(err).NotTo(HaveOccurred())
			Expect(*v).To(Equal(10.0))
			Expect(fields).To(HaveLen(2))
			Expect(fields[1].Value).To(BeNil())
		})

		It("should return a nil breakdown when the semantic is absent", func() {
			fixture.addDevice("ws", engine.Device{ID: "d1", ProductID: "dual-probe"}, nil)
			d, _ := fixture.GetDevice(ctx, "d1")

			v, fields, err := resolver.ResolveFields(ctx, d, semantic.CO2, semantic.Avg)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeNil())
			Expect(fields).To(BeNil())
		})
	})
})
