// Package engine implements the cross-device semantic query engine: per-device
// resolution of semantic values, conjunctive filtering, fleet-wide aggregation,
// and stable pagination, all computed from one consistent snapshot per query.
package engine

import (
	"fmt"
	"time"

	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
)

// MaxPageSize is the hard cap on a single page of device details.
const MaxPageSize = 500

// Range is an inclusive numeric interval.
type Range struct {
	Start float64
	End   float64
}

// FilterTerm is one per-semantic numeric predicate. All supplied operators
// within a term combine with AND; distinct terms also combine with AND.
// Reduction collapses multiple raw fields of one device into the value the
// operators compare against.
type FilterTerm struct {
	Semantic  semantic.Semantic
	Reduction semantic.Reduction
	GT        *float64
	GTE       *float64
	LT        *float64
	LTE       *float64
	Range     *Range
}

// hasOperator reports whether at least one comparison operator is set.
func (t FilterTerm) hasOperator() bool {
	return t.GT != nil || t.GTE != nil || t.LT != nil || t.LTE != nil || t.Range != nil
}

// AggregateRequest asks for one fleet-wide aggregate over the whole filtered
// set. Alias keys the value in the result.
type AggregateRequest struct {
	Alias     string
	Semantic  semantic.Semantic
	Reduction semantic.Reduction
}

// OrderBy selects the total order used for pagination.
type OrderBy string

// Supported orderings. Ties are always broken by device id so repeated
// queries return stable pages.
const (
	OrderByName      OrderBy = "name"      // display name ascending (default)
	OrderByLastHeard OrderBy = "lastHeard" // last-heard descending
)

// Page is a zero-based page request over the ordered matching set.
type Page struct {
	Number int
	Size   int
}

// Query describes one filter/aggregate/page request against a workspace.
// Device details are returned only when Page is set or All is true;
// count-and-aggregate-only queries skip the per-device payload entirely.
type Query struct {
	WorkspaceID string

	// Non-semantic predicates, AND-combined with each other and with Terms.
	TagsContains []string // device must carry every listed tag
	TagsOverlap  []string // device must carry at least one listed tag
	Online       *bool
	Search       string // case-insensitive substring on display name

	Terms      []FilterTerm
	Aggregates []AggregateRequest

	All     bool
	Page    *Page
	OrderBy OrderBy

	// Timeout bounds the whole query; zero means no engine-imposed deadline.
	Timeout time.Duration
}

// wantsDevices reports whether the per-device list was requested.
func (q Query) wantsDevices() bool {
	return q.Page != nil || q.All
}

// Validate rejects malformed queries before any store access.
func (q Query) Validate() error {
	if q.WorkspaceID == "" {
		return qerrors.Validationf("workspace id is required")
	}

	for _, t := range q.Terms {
		if err := validateTerm(t); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(q.Aggregates))
	for _, a := range q.Aggregates {
		if a.Alias == "" {
			return qerrors.Validationf("aggregate alias is required")
		}
		if _, dup := seen[a.Alias]; dup {
			return qerrors.Validationf("duplicate aggregate alias %q", a.Alias)
		}
		seen[a.Alias] = struct{}{}
		if !a.Semantic.Numeric() {
			return qerrors.Validationf("semantic %q is not aggregatable", a.Semantic)
		}
		if !a.Reduction.Valid() {
			return qerrors.Validationf("unknown aggregation %q", a.Reduction)
		}
	}

	if q.Page != nil {
		if q.Page.Number < 0 {
			return qerrors.Validationf("page must not be negative")
		}
		if q.Page.Size <= 0 {
			return qerrors.Validationf("page size must be positive")
		}
		if q.Page.Size > MaxPageSize {
			return qerrors.Validationf("page size %d exceeds cap %d", q.Page.Size, MaxPageSize)
		}
	}

	switch q.OrderBy {
	case "", OrderByName, OrderByLastHeard:
	default:
		return qerrors.Validationf("unknown ordering %q", q.OrderBy)
	}

	return nil
}

func validateTerm(t FilterTerm) error {
	if !t.Semantic.Valid() {
		return qerrors.Validationf("unknown semantic %q", t.Semantic)
	}
	if !t.Semantic.Numeric() {
		return qerrors.Validationf("semantic %q cannot be filtered numerically", t.Semantic)
	}
	if !t.Reduction.Valid() {
		return qerrors.Validationf("unknown reduction %q for semantic %s", t.Reduction, t.Semantic)
	}
	if !t.hasOperator() {
		return qerrors.Validationf("filter on %s has no operator", t.Semantic)
	}
	if t.Range != nil && t.Range.Start > t.Range.End {
		return qerrors.Validationf("range start %v exceeds end %v for semantic %s",
			t.Range.Start, t.Range.End, t.Semantic)
	}
	return nil
}

// Device is the engine's view of one managed endpoint, as listed by the
// device store for a workspace.
type Device struct {
	ID        string
	Name      string
	ProductID string
	Online    bool
	LastHeard time.Time
	Tags      []string
}

// DeviceRow is one device in a paginated result, with the semantic values
// that were resolved while executing the query.
type DeviceRow struct {
	Device
	// Values holds the resolved per-device value for every semantic the
	// query touched. A nil entry means the device lacks the semantic.
	Values map[semantic.Semantic]*float64
}

// Result is the outcome of executing a Query.
type Result struct {
	// Total counts every device satisfying the full predicate, independent
	// of pagination.
	Total int
	// Devices is nil unless the query requested device details.
	Devices []DeviceRow
	// Aggregates holds one entry per AggregateRequest, keyed by alias.
	// A nil value means no matching device reported the semantic.
	Aggregates map[string]*float64
}

// pair identifies one (semantic, per-device reduction) resolution.
type pair struct {
	sem semantic.Semantic
	red semantic.Reduction
}

func (p pair) String() string {
	return fmt.Sprintf("%s/%s", p.sem, p.red)
}
