package simulator_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/internal/simulator"
)

var _ = Describe("Product templates", func() {
	It("declare only known semantics", func() {
		for _, product := range simulator.Products {
			for _, field := range product.Fields {
				Expect(field.Semantic.Valid()).To(BeTrue(),
					"product %q field %q has unknown semantic %q", product.Name, field.Name, field.Semantic)
			}
		}
	})

	It("use unique field names within each product", func() {
		for _, product := range simulator.Products {
			seen := map[string]bool{}
			for _, field := range product.Fields {
				Expect(seen[field.Name]).To(BeFalse(),
					"product %q declares field %q twice", product.Name, field.Name)
				seen[field.Name] = true
			}
		}
	})

	It("include a product with multiple fields sharing a semantic", func() {
		found := false
		for _, product := range simulator.Products {
			counts := map[semantic.Semantic]int{}
			for _, field := range product.Fields {
				counts[field.Semantic]++
				if counts[field.Semantic] > 1 {
					found = true
				}
			}
		}
		Expect(found).To(BeTrue(), "expected at least one product with two fields of the same semantic")
	})
})
