// Package orders tracks guest orders through the kitchen. Completion is the
// only event that consumes inventory.
package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/shared"
)

// Status enumerates order states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Order is a guest order.
type Order struct {
	ID          int64           `json:"id"`
	Status      Status          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Lines       []Line          `json:"lines"`
	CreatedBy   *int64          `json:"createdBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Line is one order line with the price locked in at creation.
type Line struct {
	ID           int64           `json:"id"`
	MenuItemID   int64           `json:"menuItemId"`
	MenuItemName string          `json:"menuItemName"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
}

// MenuSnapshot is what order intake needs to know about a menu item.
type MenuSnapshot struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Available bool
}

// LineRequest is one requested line.
type LineRequest struct {
	MenuItemID int64 `json:"menuItemId" validate:"required,gt=0"`
	Quantity   int   `json:"quantity" validate:"required,gt=0,lte=100"`
}

// CreateOrderRequest is the intake payload.
type CreateOrderRequest struct {
	Lines []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// OrderCompletedEvent is handed to the integration hook after the completed
// status has been committed.
type OrderCompletedEvent struct {
	OrderID     int64
	Lines       []Line
	CompletedAt time.Time
}

var (
	// ErrOrderNotFound indicates an unknown order.
	ErrOrderNotFound = fmt.Errorf("order %w", shared.ErrNotFound)
	// ErrInvalidStatus indicates an illegal status transition.
	ErrInvalidStatus = fmt.Errorf("order: invalid status transition: %w", shared.ErrConflict)
	// ErrItemUnavailable rejects lines for items that are 86'd or missing.
	ErrItemUnavailable = fmt.Errorf("order: menu item unavailable: %w", shared.ErrConflict)
	// ErrEmptyOrder rejects orders without lines.
	ErrEmptyOrder = fmt.Errorf("order: at least one line required: %w", shared.ErrValidation)
)
