package menu

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mise-platform/mise/internal/platform/httpx"
	"github.com/mise-platform/mise/internal/rbac"
)

// Handler wires HTTP endpoints for the menu and the 86 list.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs menu handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountMenuRoutes registers /menu routes.
func (h *Handler) MountMenuRoutes(r chi.Router) {
	r.Get("/", h.handleMenu)
	r.Get("/{id}/availability", h.handleAvailability)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.RoleManager, rbac.RoleKitchen))
		r.Get("/{id}/evaluation", h.handleEvaluation)
		r.Post("/{id}/reconcile", h.handleReconcile)
	})
}

// MountEightySixRoutes registers /eighty-six routes.
func (h *Handler) MountEightySixRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.RoleManager, rbac.RoleKitchen))
		r.Post("/", h.handleEightySix)
		r.Delete("/{menuItemId}", h.handleRemove)
	})
}

type eightySixRequest struct {
	MenuItemID int64  `json:"menuItemId" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

type availabilityResponse struct {
	MenuItemID            int64 `json:"menuItemId"`
	EffectiveAvailability bool  `json:"effectiveAvailability"`
}

func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.FullMenu(r.Context())
	if err != nil {
		h.fail(w, "full menu", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	available, err := h.service.EffectiveAvailability(r.Context(), id)
	if err != nil {
		h.fail(w, "availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, availabilityResponse{MenuItemID: id, EffectiveAvailability: available})
}

func (h *Handler) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	eval, err := h.service.Evaluate(r.Context(), id)
	if err != nil {
		h.fail(w, "evaluate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, eval)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.EightySixList(r.Context())
	if err != nil {
		h.fail(w, "86 list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleEightySix(w http.ResponseWriter, r *http.Request) {
	var req eightySixRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.EightySix(r.Context(), req.MenuItemID, req.Reason, rbac.ActorID(r))
	if err != nil {
		h.fail(w, "manual 86", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "menuItemId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RemoveEightySix(r.Context(), id, rbac.ActorID(r))
	if err != nil {
		h.fail(w, "remove 86", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("menu request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
