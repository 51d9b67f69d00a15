package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"seisreview/internal/domain"
	"seisreview/internal/engine"
	"seisreview/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *Metrics
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_claimable"`
	Message string         `json:"message" example:"event is not awaiting review"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"event_id\":42}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine  engine.Engine
	metrics *Metrics
	log     *slog.Logger
}

// New returns an HTTP handler exposing the catalog API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Engine.DB == nil {
		return nil, errors.New("server: engine has no database")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(metrics.middleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("Seismic Review Catalog API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, metrics: metrics, log: logger}
	registerHealth(group)
	h.registerEvents(group)
	h.registerReview(group)
	h.registerAudit(group)
	registerMe(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrNotClaimable):
		return newAPIError(http.StatusConflict, "not_claimable", err.Error(), nil)
	case errors.Is(err, engine.ErrNotHolder):
		return newAPIError(http.StatusConflict, "not_holder", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type eventPath struct {
	ID int64 `path:"id" minimum:"1"`
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-unreviewed-events",
		Method:      http.MethodGet,
		Path:        "/events/unreviewed",
		Summary:     "List events awaiting review, oldest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UnreviewedListResponse `json:"body"`
	}, error) {
		items, err := h.engine.ListUnreviewed(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnreviewedListResponse `json:"body"`
		}{Body: UnreviewedListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List all events with per-state statistics",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State string `query:"state"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		items, err := h.engine.ListEvents(ctx, input.State)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := h.engine.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items, Stats: statsResponse(counts), State: input.State}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recorded-data",
		Method:      http.MethodGet,
		Path:        "/events/{id}/recorded-data",
		Summary:     "Recorded classification of an event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body domain.RecordedClassification `json:"body"`
	}, error) {
		rc, err := h.engine.RecordedData(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RecordedClassification `json:"body"`
		}{Body: rc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-seismograms",
		Method:      http.MethodGet,
		Path:        "/events/{id}/seismograms",
		Summary:     "Waveform sets per station",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body SeismogramsResponse `json:"body"`
	}, error) {
		sets, err := h.engine.Seismograms(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeismogramsResponse `json:"body"`
		}{Body: SeismogramsResponse{EventID: input.ID, Stations: sets}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event-history",
		Method:      http.MethodGet,
		Path:        "/events/{id}/history",
		Summary:     "State changes of an event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		changes, err := h.engine.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{EventID: input.ID, Changes: changes}}, nil
	})
}

func (h handlers) registerReview(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-event",
		Method:      http.MethodPost,
		Path:        "/events/{id}/claim",
		Summary:     "Block an event for review by the caller",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		operator, authErr := operatorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := h.engine.ClaimEvent(ctx, input.ID, operator)
		h.metrics.claim(resultLabel(err))
		if err != nil {
			h.log.Info("claim refused", "event_id", input.ID, "operator_id", operator, "err", err)
			return nil, handleError(err)
		}
		h.log.Info("event claimed", "event_id", input.ID, "operator_id", operator)
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{Event: ev}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-event",
		Method:      http.MethodPost,
		Path:        "/events/{id}/reject",
		Summary:     "Reject an event held by the caller",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *eventPath) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		operator, authErr := operatorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := h.engine.RejectEvent(ctx, input.ID, operator)
		h.metrics.reject(resultLabel(err))
		if err != nil {
			h.log.Info("reject refused", "event_id", input.ID, "operator_id", operator, "err", err)
			return nil, handleError(err)
		}
		h.log.Info("event rejected", "event_id", input.ID, "operator_id", operator)
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{Event: ev}}, nil
	})
}

func (h handlers) registerAudit(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Page through the catalog audit log",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0"`
		Limit int   `query:"limit" default:"50"`
	}) (*struct {
		Body AuditPageResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		entries, err := h.engine.Audit(ctx, input.After, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AuditPageResponse{Items: []AuditEntryResponse{}}
		if len(entries) > limit {
			entries = entries[:limit]
			resp.NextAfter = entries[limit-1].ID
		}
		for _, e := range entries {
			resp.Items = append(resp.Items, auditEntryResponse(e))
		}
		return &struct {
			Body AuditPageResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated operator",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{OperatorID: p.OperatorID, Source: p.Source}}, nil
	})
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrNotClaimable), errors.Is(err, engine.ErrNotHolder):
		return "conflict"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
