package semantic_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetquery.dev/fleetquery/internal/semantic"
)

var _ = Describe("Semantic", func() {
	Describe("Parse", func() {
		It("should accept canonical names", func() {
			s, err := semantic.Parse("TEMPERATURE")
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal(semantic.Temperature))
		})

		It("should be case-insensitive", func() {
			s, err := semantic.Parse("co2")
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal(semantic.CO2))
		})

		It("should trim surrounding whitespace", func() {
			s, err := semantic.Parse("  battery ")
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal(semantic.Battery))
		})

		It("should reject unknown names", func() {
			_, err := semantic.Parse("RADIATION")
			Expect(err).To(HaveOccurred())
		})

		It("should reject the empty string", func() {
			_, err := semantic.Parse("")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Numeric", func() {
		It("should report LOCATION as non-numeric", func() {
			Expect(semantic.Location.Numeric()).To(BeFalse())
		})

		It("should report every other semantic as numeric", func() {
			for _, s := range semantic.All {
				if s == semantic.Location {
					continue
				}
				Expect(s.Numeric()).To(BeTrue(), "expected %s to be numeric", s)
			}
		})

		It("should report an unknown semantic as non-numeric", func() {
			Expect(semantic.Semantic("BOGUS").Numeric()).To(BeFalse())
		})
	})
})

var _ = Describe("Reduction", func() {
	Describe("ParseReduction", func() {
		It("should default to AVG for the empty string", func() {
			r, err := semantic.ParseReduction("")
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(Equal(semantic.Avg))
		})

		It("should be case-insensitive", func() {
			r, err := semantic.ParseReduction("max")
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(Equal(semantic.Max))
		})

		It("should reject unknown reductions", func() {
			_, err := semantic.ParseReduction("MEDIAN")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Reduce", func() {
		It("should return nil for no values", func() {
			Expect(semantic.Reduce(nil, semantic.Avg)).To(BeNil())
			Expect(semantic.Reduce([]float64{}, semantic.Sum)).To(BeNil())
		})

		It("should be a no-op for a single value regardless of reduction", func() {
			for _, r := range []semantic.Reduction{semantic.Avg, semantic.Sum, semantic.Max, semantic.Min} {
				v := semantic.Reduce([]float64{42.5}, r)
				Expect(v).NotTo(BeNil())
				Expect(*v).To(Equal(42.5))
			}
		})

		It("should compute the arithmetic mean for AVG", func() {
			v := semantic.Reduce([]float64{10.0, 20.0}, semantic.Avg)
			Expect(v).NotTo(BeNil())
			Expect(*v).To(Equal(15.0))
		})

		It("should compute the sum for SUM", func() {
			v := semantic.Reduce([]float64{10.0, 20.0}, semantic.Sum)
			Expect(v).NotTo(BeNil())
			Expect(*v).To(Equal(30.0))
		})

		It("should compute the extremum for MAX and MIN", func() {
			values := []float64{3.5, -1.0, 7.25}
			Expect(*semantic.Reduce(values, semantic.Max)).To(Equal(7.25))
			Expect(*semantic.Reduce(values, semantic.Min)).To(Equal(-1.0))
		})

		It("should handle negative values in AVG", func() {
			v := semantic.Reduce([]float64{-10.0, 10.0}, semantic.Avg)
			Expect(v).NotTo(BeNil())
			Expect(*v).To(BeZero())
		})

		It("should return nil for an invalid reduction", func() {
			Expect(semantic.Reduce([]float64{1.0}, semantic.Reduction("MEDIAN"))).To(BeNil())
		})
	})
})
