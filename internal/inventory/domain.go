package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/shared"
)

// Item is a stocked ingredient. Items are never deleted, only adjusted.
type Item struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	CurrentStock decimal.Decimal `json:"currentStock"`
	ParLevel     decimal.Decimal `json:"parLevel"`
	Unit         string          `json:"unit"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// MovementType classifies ledger movements.
type MovementType string

const (
	// MovementRestock is an inbound delivery.
	MovementRestock MovementType = "restock"
	// MovementDeduction is consumption by a completed order.
	MovementDeduction MovementType = "deduction"
	// MovementAdjustment is an absolute stock-take correction.
	MovementAdjustment MovementType = "adjustment"
)

// Movement is one auditable change to an item's stock. Quantity is signed.
type Movement struct {
	ID              int64           `json:"id"`
	InventoryItemID int64           `json:"inventoryItemId"`
	Type            MovementType    `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	BalanceAfter    decimal.Decimal `json:"balanceAfter"`
	Reference       string          `json:"reference,omitempty"`
	Note            string          `json:"note,omitempty"`
	ActorID         *int64          `json:"actorId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Requirement says how much of an ingredient one unit of a menu item consumes.
type Requirement struct {
	MenuItemID      int64           `json:"menuItemId"`
	InventoryItemID int64           `json:"inventoryItemId"`
	QuantityPerUnit decimal.Decimal `json:"quantityPerUnit"`
}

// RestockInput adds Quantity to an item.
type RestockInput struct {
	InventoryItemID int64
	Quantity        decimal.Decimal
	Note            string
	ActorID         *int64
}

// AdjustInput sets an item to an absolute count.
type AdjustInput struct {
	InventoryItemID int64
	NewStock        decimal.Decimal
	Note            string
	ActorID         *int64
}

// LineUsage is one order line as seen by the ledger.
type LineUsage struct {
	MenuItemID int64
	Quantity   int
}

// OrderUsage describes everything an order consumed.
type OrderUsage struct {
	OrderID int64
	Lines   []LineUsage
}

// Consumption is the aggregated deduction for one ingredient.
type Consumption struct {
	InventoryItemID int64
	Name            string
	Unit            string
	Requested       decimal.Decimal
	Before          decimal.Decimal
	After           decimal.Decimal
}

// Floored reports whether the deduction hit the zero floor.
func (c Consumption) Floored() bool {
	return c.Before.LessThan(c.Requested)
}

// Deduction is the committed result of DeductForOrder.
type Deduction struct {
	OrderID     int64
	Consumed    []Consumption
	CommittedAt time.Time
}

// InventoryItemIDs lists the ingredients touched by the deduction.
func (d Deduction) InventoryItemIDs() []int64 {
	ids := make([]int64, 0, len(d.Consumed))
	for _, c := range d.Consumed {
		ids = append(ids, c.InventoryItemID)
	}
	return ids
}

// StockChangedEvent is published after a restock or adjustment commits.
type StockChangedEvent struct {
	InventoryItemID int64
	Type            MovementType
	Balance         decimal.Decimal
	OccurredAt      time.Time
}

var (
	// ErrItemNotFound indicates an unknown inventory item.
	ErrItemNotFound = fmt.Errorf("inventory item %w", shared.ErrNotFound)
	// ErrMenuItemNotFound indicates an unknown menu item in a requirement edit.
	ErrMenuItemNotFound = fmt.Errorf("menu item %w", shared.ErrNotFound)
	// ErrRequirementNotFound indicates the requirement pair does not exist.
	ErrRequirementNotFound = fmt.Errorf("requirement %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive restock or requirement quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	// ErrNegativeStock indicates an adjustment below zero.
	ErrNegativeStock = fmt.Errorf("inventory: stock cannot be negative: %w", shared.ErrValidation)
)

func validID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("inventory: id must be positive: %w", shared.ErrValidation)
	}
	return nil
}
