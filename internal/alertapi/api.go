package alertapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/ingest"
	"github.com/t77yq/nats-alerts/internal/storage"
)

const maxBodyBytes = 1 << 20

// CommandHandler applies a normalized command. *engine.Engine satisfies it.
type CommandHandler interface {
	Handle(ctx context.Context, cmd ingest.Command) error
}

// IntervalController reads and changes the digest period.
// *aggregator.Aggregator satisfies it.
type IntervalController interface {
	Interval() time.Duration
	SetIntervalMinutes(minutes int) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   *zap.Logger
	ingestor *ingest.Ingestor
	handler  CommandHandler
	store    storage.AlertStore
	interval IntervalController
}

// New creates a new API handler. interval may be nil, in which case the
// aggregator endpoints are not registered.
func New(logger *zap.Logger, ingestor *ingest.Ingestor, handler CommandHandler, store storage.AlertStore, interval IntervalController) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ingestor == nil || handler == nil || store == nil {
		panic("alertapi: ingestor, handler and store are required")
	}
	return &API{
		logger:   logger.Named("alertapi"),
		ingestor: ingestor,
		handler:  handler,
		store:    store,
		interval: interval,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/notices", a.handleRaiseNotice)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Post("/alerts/{id}/dismiss", a.handleDismiss)
		if a.interval != nil {
			r.Get("/aggregator/interval", a.handleGetInterval)
			r.Put("/aggregator/interval", a.handleSetInterval)
		}
	})
}

// NewRouter builds the full HTTP surface: the API plus /metrics served
// from gatherer.
func NewRouter(a *API, gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	a.RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
