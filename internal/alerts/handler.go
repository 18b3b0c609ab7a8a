package alerts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/mise-platform/mise/internal/platform/httpx"
	"github.com/mise-platform/mise/internal/rbac"
)

// Handler wires HTTP endpoints for low-stock notifications.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	monitor    *Monitor
	rbac       rbac.Middleware
	sweepLimit int
}

// NewHandler constructs alerts handler.
func NewHandler(logger *slog.Logger, service *Service, monitor *Monitor, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, monitor: monitor, rbac: rbac, sweepLimit: 3}
}

// MountRoutes registers /alerts routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.RoleManager, rbac.RoleKitchen))
		r.Get("/", h.handleList)
		r.Post("/{id}/dismiss", h.handleDismiss)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.RoleManager))
		r.Use(httprate.Limit(h.sweepLimit, time.Minute,
			httprate.WithKeyFuncs(sweepLimitKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "low-stock sweep rate limit reached")
			}),
		))
		r.Post("/low-stock/sweep", h.handleSweep)
	})
}

type triggerResponse struct {
	Queued bool `json:"queued"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Active(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.Dismiss(r.Context(), id, rbac.ActorID(r))
	if err != nil {
		h.fail(w, "dismiss", err)
		return
	}
	httpx.JSON(w, http.StatusOK, n)
}

// handleSweep runs a sweep inline. With ?async=true the running loop is
// asked for one instead.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		httpx.JSON(w, http.StatusAccepted, triggerResponse{Queued: h.monitor.TriggerSweep()})
		return
	}
	report, err := h.monitor.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, ErrSweepContended) {
			httpx.RespondError(w, err)
			return
		}
		h.fail(w, "sweep", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func sweepLimitKey(r *http.Request) (string, error) {
	if id := rbac.ActorID(r); id != nil {
		return "staff:" + strconv.FormatInt(*id, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("alerts request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
