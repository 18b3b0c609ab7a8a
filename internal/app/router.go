package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mise-platform/mise/internal/alerts"
	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/menu"
	"github.com/mise-platform/mise/internal/observability"
	"github.com/mise-platform/mise/internal/orders"
	"github.com/mise-platform/mise/internal/platform/httpx"
	"github.com/mise-platform/mise/internal/rbac"
	"github.com/mise-platform/mise/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	RBACMiddleware   rbac.Middleware
	Metrics          *observability.Metrics
	Ready            func(ctx context.Context) error
	MenuHandler      *menu.Handler
	InventoryHandler *inventory.Handler
	OrdersHandler    *orders.Handler
	AlertsHandler    *alerts.Handler
	JobHandler       *jobs.Handler
	EventStream      http.Handler
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewRouter constructs the chi.Router with mise defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		RBAC:    params.RBACMiddleware,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			if err := params.Ready(r.Context()); err != nil {
				logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.EventStream != nil {
		r.Method(http.MethodGet, "/events/stream", params.EventStream)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestTimeout(params.Config))
		if params.MenuHandler != nil {
			r.Route("/menu", params.MenuHandler.MountMenuRoutes)
			r.Route("/eighty-six", params.MenuHandler.MountEightySixRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.AlertsHandler != nil {
			r.Route("/alerts", params.AlertsHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
