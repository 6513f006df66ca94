package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/pkg/metrics"
)

// DefaultConcurrency bounds how many devices are resolved in parallel within
// one query.
const DefaultConcurrency = 8

// Engine executes semantic queries. It holds no mutable state of its own;
// every query is a pure function of the store snapshot and its parameters,
// so concurrent queries need no coordination.
type Engine struct {
	devices     DeviceStore
	resolver    *Resolver
	logger      *slog.Logger
	metrics     *metrics.EngineMetrics // Optional metrics
	concurrency int
}

// Config holds the configuration for an Engine.
type Config struct {
	Devices  DeviceStore
	Resolver *Resolver
	Logger   *slog.Logger
	Metrics  *metrics.EngineMetrics
	// Concurrency bounds parallel per-device resolution; non-positive
	// values fall back to DefaultConcurrency.
	Concurrency int
}

// New creates an Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}
	if cfg.Devices == nil {
		return nil, errors.New("device store cannot be nil")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Engine{
		devices:     cfg.Devices,
		resolver:    cfg.Resolver,
		logger:      logger,
		metrics:     cfg.Metrics,
		concurrency: concurrency,
	}, nil
}

// Execute runs one query: it fetches the workspace snapshot once, resolves
// every semantic the query touches for every candidate device, and derives
// total, aggregates, and the requested page from that single resolved set.
// Totals and aggregates are therefore always consistent with each other and
// independent of pagination.
//
// On any per-device resolution failure the whole query fails; a silently
// degraded aggregate is indistinguishable from a correct one and would
// corrupt fleet-wide KPIs.
func (e *Engine) Execute(ctx context.Context, q Query) (*Result, error) {
	if e.metrics != nil {
		e.metrics.QueriesInFlight.Inc()
		defer e.metrics.QueriesInFlight.Dec()
		timer := prometheus.NewTimer(e.metrics.QueryDuration)
		defer timer.ObserveDuration()
	}

	result, err := e.execute(ctx, q)
	e.recordOutcome(err)
	return result, err
}

func (e *Engine) execute(ctx context.Context, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if q.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.Timeout)
		defer cancel()
	}

	devices, err := e.devices.ListDevices(ctx, q.WorkspaceID)
	if err != nil {
		return nil, qerrors.Upstream("list devices", err)
	}

	// Cheap attribute predicates first; semantic resolution only runs for
	// the survivors.
	candidates := make([]Device, 0, len(devices))
	for _, d := range devices {
		if matchesAttributes(d, q) {
			candidates = append(candidates, d)
		}
	}

	if e.metrics != nil {
		e.metrics.DevicesEvaluated.Observe(float64(len(candidates)))
	}

	pairs := neededPairs(q)
	resolved, err := e.resolveAll(ctx, candidates, pairs)
	if err != nil {
		return nil, err
	}

	matching := make([]DeviceRow, 0, len(candidates))
	for _, d := range candidates {
		values := resolved[d.ID]
		if !matchesTerms(values, q.Terms) {
			continue
		}
		matching = append(matching, DeviceRow{Device: d, Values: rowValues(values, q)})
	}

	if e.metrics != nil {
		e.metrics.FilteredSetSize.Observe(float64(len(matching)))
	}

	result := &Result{Total: len(matching)}

	if len(q.Aggregates) > 0 {
		result.Aggregates = make(map[string]*float64, len(q.Aggregates))
		for _, a := range q.Aggregates {
			p := pair{sem: a.Semantic, red: termReduction(q.Terms, a.Semantic)}
			result.Aggregates[a.Alias] = aggregate(matching, resolved, p, a.Reduction)
			if e.metrics != nil {
				e.metrics.AggregatesServed.WithLabelValues(a.Reduction.String()).Inc()
			}
		}
	}

	if q.wantsDevices() {
		orderRows(matching, q.OrderBy)
		result.Devices = slicePage(matching, q.Page)
	}

	e.logger.Debug("query executed",
		"workspace_id", q.WorkspaceID,
		"candidates", len(candidates),
		"total", result.Total,
		"aggregates", len(q.Aggregates),
	)

	return result, nil
}

// ResolveDevice resolves one device's semantic value with its per-field
// breakdown, for the device-detail surface.
func (e *Engine) ResolveDevice(ctx context.Context, deviceID string, sem semantic.Semantic, red semantic.Reduction) (*float64, []FieldValue, error) {
	device, err := e.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, nil, qerrors.Upstream("get device", err)
	}
	return e.resolver.ResolveFields(ctx, device, sem, red)
}

// neededPairs collects every (semantic, per-device reduction) the query
// needs resolved: one per filter term, plus one per aggregate whose semantic
// is not already covered by a term.
func neededPairs(q Query) []pair {
	seen := make(map[pair]struct{})
	var pairs []pair

	add := func(p pair) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}

	for _, t := range q.Terms {
		add(pair{sem: t.Semantic, red: t.Reduction})
	}
	for _, a := range q.Aggregates {
		add(pair{sem: a.Semantic, red: termReduction(q.Terms, a.Semantic)})
	}
	return pairs
}

// resolveAll resolves every needed pair for every candidate device, in
// parallel across devices. The result is the query's single consistent
// snapshot of semantic values, reused for filtering, totals, aggregates,
// and the returned page.
func (e *Engine) resolveAll(ctx context.Context, candidates []Device, pairs []pair) (map[string]map[pair]*float64, error) {
	resolved := make(map[string]map[pair]*float64, len(candidates))
	if len(pairs) == 0 {
		return resolved, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, d := range candidates {
		g.Go(func() error {
			values := make(map[pair]*float64, len(pairs))
			for _, p := range pairs {
				v, err := e.resolver.Resolve(gctx, d, p.sem, p.red)
				if err != nil {
					e.recordResolution(p.sem, "error")
					return err
				}
				if v == nil {
					e.recordResolution(p.sem, "absent")
				} else {
					e.recordResolution(p.sem, "value")
				}
				values[p] = v
			}

			mu.Lock()
			resolved[d.ID] = values
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// rowValues extracts the per-semantic values a device row should carry: one
// entry per semantic the query touched, resolved with the term's reduction
// when the semantic was filtered and the AVG default otherwise.
func rowValues(values map[pair]*float64, q Query) map[semantic.Semantic]*float64 {
	if !q.wantsDevices() {
		return nil
	}

	row := make(map[semantic.Semantic]*float64)
	for _, t := range q.Terms {
		row[t.Semantic] = values[pair{sem: t.Semantic, red: t.Reduction}]
	}
	for _, a := range q.Aggregates {
		if _, ok := row[a.Semantic]; !ok {
			row[a.Semantic] = values[pair{sem: a.Semantic, red: termReduction(q.Terms, a.Semantic)}]
		}
	}
	return row
}

func (e *Engine) recordResolution(sem semantic.Semantic, outcome string) {
	if e.metrics != nil {
		e.metrics.ResolutionsTotal.WithLabelValues(sem.String(), outcome).Inc()
	}
}

func (e *Engine) recordOutcome(err error) {
	if e.metrics == nil {
		return
	}
	switch {
	case err == nil:
		e.metrics.QueriesTotal.WithLabelValues("success").Inc()
	case qerrors.IsValidation(err):
		e.metrics.QueriesTotal.WithLabelValues("invalid").Inc()
	case qerrors.IsNotFound(err):
		e.metrics.QueriesTotal.WithLabelValues("not_found").Inc()
	default:
		e.metrics.QueriesTotal.WithLabelValues("upstream_error").Inc()
	}
}
