package engine

import (
	"strings"

	"fleetquery.dev/fleetquery/internal/semantic"
)

// matchesTerm evaluates one semantic filter term against a resolved value.
// A device lacking the semantic (nil value) fails the term; it neither
// errors nor counts as a wildcard pass.
func matchesTerm(value *float64, t FilterTerm) bool {
	if value == nil {
		return false
	}
	v := *value

	if t.GT != nil && !(v > *t.GT) {
		return false
	}
	if t.GTE != nil && !(v >= *t.GTE) {
		return false
	}
	if t.LT != nil && !(v < *t.LT) {
		return false
	}
	if t.LTE != nil && !(v <= *t.LTE) {
		return false
	}
	if t.Range != nil && (v < t.Range.Start || v > t.Range.End) {
		return false
	}
	return true
}

// matchesAttributes evaluates the non-semantic predicates of a query against
// a device's attributes. All predicate classes combine with AND.
func matchesAttributes(d Device, q Query) bool {
	if len(q.TagsContains) > 0 {
		for _, want := range q.TagsContains {
			if !hasTag(d.Tags, want) {
				return false
			}
		}
	}

	if len(q.TagsOverlap) > 0 {
		any := false
		for _, want := range q.TagsOverlap {
			if hasTag(d.Tags, want) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	if q.Online != nil && d.Online != *q.Online {
		return false
	}

	if q.Search != "" &&
		!strings.Contains(strings.ToLower(d.Name), strings.ToLower(q.Search)) {
		return false
	}

	return true
}

// hasTag does a case-sensitive membership check; tags are free-form,
// case-sensitive strings.
func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// matchesTerms evaluates every semantic term against the device's resolved
// values, short-circuiting on the first failure. The result is a pure
// conjunction, so evaluation order never changes it.
func matchesTerms(values map[pair]*float64, terms []FilterTerm) bool {
	for _, t := range terms {
		if !matchesTerm(values[pair{sem: t.Semantic, red: t.Reduction}], t) {
			return false
		}
	}
	return true
}

// termReduction returns the per-device reduction an aggregate on sem should
// reuse: the reduction of the first filter term on the same semantic, or the
// AVG default when the semantic was not filtered.
func termReduction(terms []FilterTerm, sem semantic.Semantic) semantic.Reduction {
	for _, t := range terms {
		if t.Semantic == sem {
			return t.Reduction
		}
	}
	return semantic.DefaultReduction
}
