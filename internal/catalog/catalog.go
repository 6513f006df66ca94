// Package catalog maps a product's raw measurement fields to their declared
// semantics. Semantic assignments are editable by workspace administrators and
// are not guaranteed stable between queries, so the catalog serves entries
// from a bounded-staleness cache rather than a static schema.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
)

// ValueType describes the type of values a field produces.
type ValueType string

// Supported field value types.
const (
	TypeNumeric  ValueType = "numeric"
	TypeString   ValueType = "string"
	TypeLocation ValueType = "location"
)

// Field is one raw measurement channel declared by a product. The field name
// is the stable identifier used for raw value lookups; Semantic is empty when
// the field carries no semantic, which makes it invisible to semantic queries.
type Field struct {
	Name     string
	Label    string
	Unit     string
	Type     ValueType
	Semantic semantic.Semantic
}

// Store is the read interface to the product/field reference data.
type Store interface {
	// ProductFields returns the ordered field declarations of a product.
	// Unknown product ids yield a not-found error.
	ProductFields(ctx context.Context, productID string) ([]Field, error)
}

// DefaultTTL bounds how stale a cached product entry may get.
const DefaultTTL = time.Minute

// Catalog is a TTL-cached view over a Store. It is read-only and safe for
// concurrent use by parallel queries.
type Catalog struct {
	store  Store
	logger *slog.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	fields  []Field
	fetched time.Time
}

// New creates a Catalog over the given store. A non-positive ttl falls back
// to DefaultTTL.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:   store,
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Fields returns the ordered field declarations for a product, serving from
// cache when the entry is within the staleness window.
func (c *Catalog) Fields(ctx context.Context, productID string) ([]Field, error) {
	c.mu.RLock()
	entry, ok := c.entries[productID]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.fields, nil
	}

	fields, err := c.store.ProductFields(ctx, productID)
	if err != nil {
		// Errors are never cached; a stale entry is not a substitute for
		// a missing product.
		return nil, qerrors.Upstream("product fields", err)
	}

	c.mu.Lock()
	c.entries[productID] = cacheEntry{fields: fields, fetched: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("catalog entry refreshed", "product_id", productID, "fields", len(fields))
	return fields, nil
}

// FieldsFor returns the names of the product's fields declared with the given
// semantic, in declaration order. An empty result is valid: it means the
// product does not participate in that semantic.
func (c *Catalog) FieldsFor(ctx context.Context, productID string, sem semantic.Semantic) ([]string, error) {
	fields, err := c.Fields(ctx, productID)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, f := range fields {
		if f.Semantic == sem {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// Invalidate drops the cached entry for a product, forcing the next lookup
// to hit the store. Used when a semantic assignment is known to have changed.
func (c *Catalog) Invalidate(productID string) {
	c.mu.Lock()
	delete(c.entries, productID)
	c.mu.Unlock()
}
