// Package api exposes the query engine over HTTP as a JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetquery.dev/fleetquery/internal/engine"
	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
	"fleetquery.dev/fleetquery/pkg/metrics"
)

// QueryEngine is the engine surface the HTTP handlers consume.
type QueryEngine interface {
	Execute(ctx context.Context, q engine.Query) (*engine.Result, error)
	ResolveDevice(ctx context.Context, deviceID string, sem semantic.Semantic, red semantic.Reduction) (*float64, []engine.FieldValue, error)
}

// Handlers holds the HTTP handlers for the query API.
type Handlers struct {
	logger  *slog.Logger
	engine  QueryEngine
	metrics *metrics.APIMetrics // Optional metrics
}

// NewHandlers creates the API handlers.
func NewHandlers(logger *slog.Logger, eng QueryEngine, m *metrics.APIMetrics) (*Handlers, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if eng == nil {
		return nil, errors.New("engine cannot be nil")
	}
	return &Handlers{logger: logger, engine: eng, metrics: m}, nil
}

// Router builds the chi router for the API.
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/workspaces/{workspaceID}/devices/query", h.handleQuery)
		r.Get("/devices/{deviceID}/semantics/{semantic}", h.handleDeviceSemantic)
	})

	return r
}

// queryRequest is the JSON body of a device query. Filters are keyed by
// semantic name; all predicates combine with AND.
type queryRequest struct {
	Filters      map[string]filterSpec `json:"filters"`
	TagsContains []string              `json:"tagsContains"`
	TagsOverlap  []string              `json:"tagsOverlap"`
	Online       *bool                 `json:"online"`
	Search       string                `json:"search"`
	Aggregates   []aggregateSpec       `json:"aggregates"`
	All          bool                  `json:"all"`
	Page         *pageSpec             `json:"page"`
	OrderBy      string                `json:"orderBy"`
}

// filterSpec is one per-semantic predicate. Aggregation selects the
// per-device reduction applied before comparison; empty means AVG.
type filterSpec struct {
	GT          *float64   `json:"gt"`
	GTE         *float64   `json:"gte"`
	LT          *float64   `json:"lt"`
	LTE         *float64   `json:"lte"`
	Range       *rangeSpec `json:"range"`
	Aggregation string     `json:"aggregation"`
}

// rangeSpec is an inclusive interval.
type rangeSpec struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type aggregateSpec struct {
	Alias       string `json:"alias"`
	Semantic    string `json:"semantic"`
	Aggregation string `json:"aggregation"`
}

type pageSpec struct {
	Number int `json:"number"`
	Size   int `json:"size"`
}

// queryResponse mirrors engine.Result. Devices is null when the query did
// not request device details, and an empty array when it did but the page
// landed past the end.
type queryResponse struct {
	Total      int                 `json:"total"`
	Devices    []deviceRow         `json:"devices"`
	Aggregates map[string]*float64 `json:"aggregates,omitempty"`
}

type deviceRow struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	ProductID string              `json:"productId"`
	Online    bool                `json:"online"`
	LastHeard time.Time           `json:"lastHeard"`
	Tags      []string            `json:"tags"`
	Values    map[string]*float64 `json:"values"`
}

type deviceSemanticResponse struct {
	DeviceID    string       `json:"deviceId"`
	Semantic    string       `json:"semantic"`
	Aggregation string       `json:"aggregation"`
	Value       *float64     `json:"value"`
	Fields      []fieldValue `json:"fields"`
}

type fieldValue struct {
	Field string   `json:"field"`
	Unit  string   `json:"unit,omitempty"`
	Value *float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth reports liveness.
func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQuery executes one device query against a workspace.
func (h *Handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	h.logger.Debug("handling device query", "workspace_id", workspaceID)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, qerrors.Validationf("invalid request body: %v", err))
		return
	}

	q, err := req.toQuery(workspaceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.engine.Execute(r.Context(), q)
	if err != nil {
		h.logger.Error("query failed", "workspace_id", workspaceID, "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toQueryResponse(result))
}

// handleDeviceSemantic resolves one semantic value for a single device,
// with the per-field breakdown.
func (h *Handlers) handleDeviceSemantic(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	sem, err := semantic.Parse(chi.URLParam(r, "semantic"))
	if err != nil {
		h.writeError(w, qerrors.Validationf("%v", err))
		return
	}

	red, err := semantic.ParseReduction(r.URL.Query().Get("aggregation"))
	if err != nil {
		h.writeError(w, qerrors.Validationf("%v", err))
		return
	}

	value, fields, err := h.engine.ResolveDevice(r.Context(), deviceID, sem, red)
	if err != nil {
		h.logger.Error("device resolution failed", "device_id", deviceID, "error", err)
		h.writeError(w, err)
		return
	}

	resp := deviceSemanticResponse{
		DeviceID:    deviceID,
		Semantic:    sem.String(),
		Aggregation: red.String(),
		Value:       value,
		Fields:      make([]fieldValue, 0, len(fields)),
	}
	for _, f := range fields {
		resp.Fields = append(resp.Fields, fieldValue{Field: f.FieldName, Unit: f.Unit, Value: f.Value})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// toQuery converts the JSON request into an engine query.
func (r *queryRequest) toQuery(workspaceID string) (engine.Query, error) {
	q := engine.Query{
		WorkspaceID:  workspaceID,
		TagsContains: r.TagsContains,
		TagsOverlap:  r.TagsOverlap,
		Online:       r.Online,
		Search:       r.Search,
		All:          r.All,
		OrderBy:      engine.OrderBy(r.OrderBy),
	}

	for name, spec := range r.Filters {
		sem, err := semantic.Parse(name)
		if err != nil {
			return engine.Query{}, qerrors.Validationf("%v", err)
		}
		red, err := semantic.ParseReduction(spec.Aggregation)
		if err != nil {
			return engine.Query{}, qerrors.Validationf("%v", err)
		}
		term := engine.FilterTerm{
			Semantic:  sem,
			Reduction: red,
			GT:        spec.GT,
			GTE:       spec.GTE,
			LT:        spec.LT,
			LTE:       spec.LTE,
		}
		if spec.Range != nil {
			term.Range = &engine.Range{Start: spec.Range.Start, End: spec.Range.End}
		}
		q.Terms = append(q.Terms, term)
	}

	for _, a := range r.Aggregates {
		sem, err := semantic.Parse(a.Semantic)
		if err != nil {
			return engine.Query{}, qerrors.Validationf("%v", err)
		}
		red, err := semantic.ParseReduction(a.Aggregation)
		if err != nil {
			return engine.Query{}, qerrors.Validationf("%v", err)
		}
		q.Aggregates = append(q.Aggregates, engine.AggregateRequest{
			Alias:     a.Alias,
			Semantic:  sem,
			Reduction: red,
		})
	}

	if r.Page != nil {
		q.Page = &engine.Page{Number: r.Page.Number, Size: r.Page.Size}
	}

	return q, nil
}

// toQueryResponse converts an engine result to the wire shape.
func toQueryResponse(result *engine.Result) queryResponse {
	resp := queryResponse{
		Total:      result.Total,
		Aggregates: result.Aggregates,
	}

	for _, row := range result.Devices {
		values := make(map[string]*float64, len(row.Values))
		for sem, v := range row.Values {
			values[sem.String()] = v
		}
		tags := row.Tags
		if tags == nil {
			tags = []string{}
		}
		resp.Devices = append(resp.Devices, deviceRow{
			ID:        row.ID,
			Name:      row.Name,
			ProductID: row.ProductID,
			Online:    row.Online,
			LastHeard: row.LastHeard,
			Tags:      tags,
			Values:    values,
		})
	}

	if result.Devices != nil && resp.Devices == nil {
		// Details were requested but the page landed past the end.
		resp.Devices = []deviceRow{}
	}

	return resp
}

// writeError maps the error taxonomy to HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case qerrors.IsValidation(err):
		status = http.StatusBadRequest
	case qerrors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case qerrors.IsUpstream(err):
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
