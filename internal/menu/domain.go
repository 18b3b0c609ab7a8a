// Package menu decides whether menu items can be sold and maintains the
// 86 list that records why they cannot.
package menu

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/shared"
)

// Item is a sellable menu item. IsAvailable is staff intent;
// EffectiveAvailability also accounts for an active 86 entry.
type Item struct {
	ID                    int64           `json:"id"`
	Name                  string          `json:"name"`
	Category              string          `json:"category"`
	Price                 decimal.Decimal `json:"price"`
	IsAvailable           bool            `json:"isAvailable"`
	EffectiveAvailability bool            `json:"effectiveAvailability"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Effective derives the public availability from intent and the active entry.
func Effective(isAvailable bool, active *Entry) bool {
	return active == nil && isAvailable
}

// Entry is one line of the 86 list. RemovedAt is nil while active.
type Entry struct {
	ID              int64      `json:"id"`
	MenuItemID      int64      `json:"menuItemId"`
	MenuItemName    string     `json:"menuItemName"`
	Reason          string     `json:"reason"`
	CreatedBy       *int64     `json:"createdBy,omitempty"`
	IsAutoGenerated bool       `json:"isAutoGenerated"`
	CreatedAt       time.Time  `json:"createdAt"`
	RemovedAt       *time.Time `json:"removedAt,omitempty"`
}

// Active reports whether the entry is still on the list.
func (e Entry) Active() bool { return e.RemovedAt == nil }

// RequirementStock pairs one requirement with the ingredient's current stock.
type RequirementStock struct {
	InventoryItemID int64
	Name            string
	Unit            string
	Required        decimal.Decimal
	Available       decimal.Decimal
}

// Shortfall describes one failing requirement.
type Shortfall struct {
	InventoryItemID int64           `json:"inventoryItemId"`
	Name            string          `json:"name"`
	Required        decimal.Decimal `json:"required"`
	Available       decimal.Decimal `json:"available"`
	Unit            string          `json:"unit"`
}

func (s Shortfall) String() string {
	return fmt.Sprintf("insufficient %s (need %s %s, have %s %s)",
		s.Name, s.Required.String(), s.Unit, s.Available.String(), s.Unit)
}

// Evaluation is the verdict for one menu item.
type Evaluation struct {
	MenuItemID int64       `json:"menuItemId"`
	Available  bool        `json:"available"`
	Shortfalls []Shortfall `json:"shortfalls"`
}

// Reason renders every shortfall into a single human readable line.
func (e Evaluation) Reason() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "; ")
}

// Transition names the direction of an availability change.
type Transition string

const (
	TransitionNone        Transition = ""
	TransitionEightySixed Transition = "eighty_sixed"
	TransitionRestored    Transition = "restored"
)

var (
	// ErrItemNotFound indicates an unknown menu item.
	ErrItemNotFound = fmt.Errorf("menu item %w", shared.ErrNotFound)
	// ErrNotEightySixed is returned when removing an entry that does not exist.
	ErrNotEightySixed = fmt.Errorf("menu item is not on the 86 list: %w", shared.ErrNotFound)
	// ErrAlreadyEightySixed is returned when a manual entry is already active.
	ErrAlreadyEightySixed = fmt.Errorf("menu item already 86'd by staff: %w", shared.ErrConflict)
	// ErrReasonRequired rejects manual entries without a reason.
	ErrReasonRequired = fmt.Errorf("menu: reason required: %w", shared.ErrValidation)
)
