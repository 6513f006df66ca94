package engine

import (
	"context"
	"errors"
	"log/slog"

	"fleetquery.dev/fleetquery/internal/catalog"
	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
)

// FieldCatalog is the slice of the field catalog the resolver consumes.
// *catalog.Catalog satisfies it.
type FieldCatalog interface {
	Fields(ctx context.Context, productID string) ([]catalog.Field, error)
	FieldsFor(ctx context.Context, productID string, sem semantic.Semantic) ([]string, error)
}

// FieldValue is one raw field's contribution to a resolved semantic value.
// Value is nil when the field has no recorded measurement.
type FieldValue struct {
	FieldName string
	Unit      string
	Value     *float64
}

// Resolver reduces a device's raw field values to one per-device semantic
// value. Absence is always a nil value, never zero and never an error.
type Resolver struct {
	catalog      FieldCatalog
	measurements MeasurementStore
	logger       *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cat FieldCatalog, measurements MeasurementStore, logger *slog.Logger) (*Resolver, error) {
	if cat == nil {
		return nil, errors.New("field catalog cannot be nil")
	}
	if measurements == nil {
		return nil, errors.New("measurement store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: cat, measurements: measurements, logger: logger}, nil
}

// Resolve returns the device's value for a semantic, combined across its
// matching raw fields with the given reduction. It returns nil when the
// device's product declares no field for the semantic, or when every
// declared field is missing a value.
func (r *Resolver) Resolve(ctx context.Context, device Device, sem semantic.Semantic, red semantic.Reduction) (*float64, error) {
	if !sem.Numeric() {
		return nil, qerrors.Validationf("semantic %q is not numeric", sem)
	}
	if !red.Valid() {
		return nil, qerrors.Validationf("unknown reduction %q", red)
	}

	fieldNames, err := r.catalog.FieldsFor(ctx, device.ProductID, sem)
	if err != nil {
		return nil, err
	}
	if len(fieldNames) == 0 {
		// The device does not participate in this semantic.
		return nil, nil
	}

	current, err := r.measurements.CurrentValues(ctx, device.ID, fieldNames)
	if err != nil {
		return nil, qerrors.Upstream("current values", err)
	}

	values := make([]float64, 0, len(fieldNames))
	for _, name := range fieldNames {
		if m, ok := current[name]; ok {
			values = append(values, m.Value)
		}
	}

	// Reduce returns nil when every field was missing; a single value
	// passes through verbatim for every reduction.
	return semantic.Reduce(values, red), nil
}

// ResolveFields returns the reduced semantic value together with the
// per-field breakdown that produced it. Fields with no recorded value appear
// in the breakdown with a nil value.
func (r *Resolver) ResolveFields(ctx context.Context, device Device, sem semantic.Semantic, red semantic.Reduction) (*float64, []FieldValue, error) {
	if !sem.Numeric() {
		return nil, nil, qerrors.Validationf("semantic %q is not numeric", sem)
	}
	if !red.Valid() {
		return nil, nil, qerrors.Validationf("unknown reduction %q", red)
	}

	fields, err := r.catalog.Fields(ctx, device.ProductID)
	if err != nil {
		return nil, nil, err
	}

	var declared []catalog.Field
	for _, f := range fields {
		if f.Semantic == sem {
			declared = append(declared, f)
		}
	}
	if len(declared) == 0 {
		return nil, nil, nil
	}

	names := make([]string, len(declared))
	for i, f := range declared {
		names[i] = f.Name
	}

	current, err := r.measurements.CurrentValues(ctx, device.ID, names)
	if err != nil {
		return nil, nil, qerrors.Upstream("current values", err)
	}

	breakdown := make([]FieldValue, len(declared))
	values := make([]float64, 0, len(declared))
	for i, f := range declared {
		fv := FieldValue{FieldName: f.Name, Unit: f.Unit}
		if m, ok := current[f.Name]; ok {
			v := m.Value
			fv.Value = &v
			values = append(values, v)
		}
		breakdown[i] = fv
	}

	return semantic.Reduce(values, red), breakdown, nil
}
