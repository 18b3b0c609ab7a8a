package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/platform/httpx"
	"github.com/mise-platform/mise/internal/rbac"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.RoleManager, rbac.RoleKitchen))
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/movements", h.handleMovements)
		r.Post("/{id}/restock", h.handleRestock)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.RoleManager))
		r.Post("/{id}/adjust", h.handleAdjust)
		r.Put("/requirements", h.handleSetRequirement)
		r.Delete("/requirements/{menuItemId}/{inventoryItemId}", h.handleRemoveRequirement)
	})
}

type restockRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note" validate:"max=500"`
}

type adjustRequest struct {
	NewStock decimal.Decimal `json:"newStock"`
	Note     string          `json:"note" validate:"max=500"`
}

type requirementRequest struct {
	MenuItemID      int64           `json:"menuItemId" validate:"required,gt=0"`
	InventoryItemID int64           `json:"inventoryItemId" validate:"required,gt=0"`
	QuantityPerUnit decimal.Decimal `json:"quantityPerUnit"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.fail(w, "list inventory", err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get inventory item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), id, limit)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req restockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Restock(r.Context(), RestockInput{
		InventoryItemID: id,
		Quantity:        req.Quantity,
		Note:            req.Note,
		ActorID:         rbac.ActorID(r),
	})
	if err != nil {
		h.fail(w, "restock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Adjust(r.Context(), AdjustInput{
		InventoryItemID: id,
		NewStock:        req.NewStock,
		Note:            req.Note,
		ActorID:         rbac.ActorID(r),
	})
	if err != nil {
		h.fail(w, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleSetRequirement(w http.ResponseWriter, r *http.Request) {
	var req requirementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	requirement := Requirement{
		MenuItemID:      req.MenuItemID,
		InventoryItemID: req.InventoryItemID,
		QuantityPerUnit: req.QuantityPerUnit,
	}
	if err := h.service.SetRequirement(r.Context(), requirement); err != nil {
		h.fail(w, "set requirement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requirement)
}

func (h *Handler) handleRemoveRequirement(w http.ResponseWriter, r *http.Request) {
	menuItemID, err := httpx.IDParam(r, "menuItemId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inventoryItemID, err := httpx.IDParam(r, "inventoryItemId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveRequirement(r.Context(), menuItemID, inventoryItemID); err != nil {
		h.fail(w, "remove requirement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("inventory request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
