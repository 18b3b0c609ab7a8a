// Package alerts runs the Low-Stock Monitor and keeps the notifications it
// raises for management and kitchen staff.
package alerts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/shared"
)

// Severity grades a low-stock notification.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var hundred = decimal.NewFromInt(100)

// Candidate is an inventory item at or under its par level.
type Candidate struct {
	InventoryItemID int64
	Name            string
	Category        string
	Unit            string
	CurrentStock    decimal.Decimal
	ParLevel        decimal.Decimal
}

// Percentage is current stock as a share of par, rounded to two places for
// display.
func (c Candidate) Percentage() decimal.Decimal {
	return c.share().Round(2)
}

func (c Candidate) share() decimal.Decimal {
	if !c.ParLevel.IsPositive() {
		return decimal.Zero
	}
	return c.CurrentStock.Div(c.ParLevel).Mul(hundred)
}

// Severity is critical at or below criticalPercent of par. The unrounded
// share is compared.
func (c Candidate) Severity(criticalPercent decimal.Decimal) Severity {
	if c.share().LessThanOrEqual(criticalPercent) {
		return SeverityCritical
	}
	return SeverityWarning
}

// Message renders the human readable notification text.
func (c Candidate) Message() string {
	return fmt.Sprintf("Low stock: %s at %s %s (%s%% of par %s %s)",
		c.Name, c.CurrentStock.String(), c.Unit, c.Percentage().String(), c.ParLevel.String(), c.Unit)
}

// Metadata is the structured payload stored with a notification and sent
// with its broadcast.
type Metadata struct {
	ItemID       int64           `json:"itemId"`
	ItemName     string          `json:"itemName"`
	CurrentStock decimal.Decimal `json:"currentStock"`
	ParLevel     decimal.Decimal `json:"parLevel"`
	Unit         string          `json:"unit"`
	Category     string          `json:"category"`
	Percentage   decimal.Decimal `json:"percentage"`
}

func (c Candidate) metadata() Metadata {
	return Metadata{
		ItemID:       c.InventoryItemID,
		ItemName:     c.Name,
		CurrentStock: c.CurrentStock,
		ParLevel:     c.ParLevel,
		Unit:         c.Unit,
		Category:     c.Category,
		Percentage:   c.Percentage(),
	}
}

// Notification is a persisted low-stock alert.
type Notification struct {
	ID              int64      `json:"id"`
	InventoryItemID int64      `json:"inventoryItemId"`
	Severity        Severity   `json:"severity"`
	Message         string     `json:"message"`
	TargetRoles     []string   `json:"targetRoles"`
	Metadata        Metadata   `json:"metadata"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	Dismissed       bool       `json:"dismissed"`
	DismissedAt     *time.Time `json:"dismissedAt,omitempty"`
	DismissedBy     *int64     `json:"dismissedBy,omitempty"`
}

// Event converts the notification into an inventory-alert broadcast.
func (n Notification) Event() broadcast.Event {
	return broadcast.NewInventoryAlert(broadcast.InventoryAlertPayload{
		ItemID:   n.InventoryItemID,
		Severity: broadcast.Severity(n.Severity),
		Message:  n.Message,
		Metadata: map[string]any{
			"itemId":       n.Metadata.ItemID,
			"itemName":     n.Metadata.ItemName,
			"currentStock": n.Metadata.CurrentStock,
			"parLevel":     n.Metadata.ParLevel,
			"unit":         n.Metadata.Unit,
			"category":     n.Metadata.Category,
			"percentage":   n.Metadata.Percentage,
		},
	}, n.TargetRoles, n.CreatedAt)
}

// SweepReport summarises one pass of the monitor.
type SweepReport struct {
	StartedAt  time.Time      `json:"startedAt"`
	Candidates int            `json:"candidates"`
	Created    []Notification `json:"created"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Halted     bool           `json:"halted"`
}

var (
	// ErrNotificationNotFound indicates an unknown notification id.
	ErrNotificationNotFound = fmt.Errorf("notification %w", shared.ErrNotFound)
	// ErrSweepContended indicates another process holds the sweep lock.
	ErrSweepContended = fmt.Errorf("alerts: low-stock sweep already running: %w", shared.ErrConflict)
)
