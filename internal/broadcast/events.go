// Package broadcast turns engine state changes into events and fans them out
// to connected clients through pluggable transports.
package broadcast

import (
	"time"

	"github.com/google/uuid"
)

// Name identifies an event kind on the wire.
type Name string

const (
	// MenuStateChanged is emitted whenever a menu item's effective availability flips.
	MenuStateChanged Name = "menu-state-changed"
	// InventoryAlert is the narrower manager/kitchen alert.
	InventoryAlert Name = "inventory-alert"
	// LowStockSummary is emitted after every low-stock sweep.
	LowStockSummary Name = "low-stock-summary"
)

// Severity grades inventory alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the transport-neutral envelope handed to sinks. An empty Audience
// means every connected client.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Name       Name      `json:"event"`
	Audience   []string  `json:"audience,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// RosterEntry is one active line of the 86 list as seen by clients.
type RosterEntry struct {
	MenuItemID      int64     `json:"menuItemId"`
	MenuItemName    string    `json:"menuItemName"`
	Reason          string    `json:"reason"`
	IsAutoGenerated bool      `json:"isAutoGenerated"`
	CreatedAt       time.Time `json:"createdAt"`
}

// MenuStatePayload carries the new state of one menu item plus the full roster.
type MenuStatePayload struct {
	MenuItemID    int64         `json:"menuItemId"`
	MenuItemName  string        `json:"menuItemName"`
	Available     bool          `json:"available"`
	Reason        string        `json:"reason,omitempty"`
	EightySixList []RosterEntry `json:"eightySixList"`
}

// InventoryAlertPayload is shared by reconcile alerts and low-stock notifications.
type InventoryAlertPayload struct {
	ItemID   int64          `json:"itemId"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// LowStockSummaryPayload counts items at or under par after a sweep.
type LowStockSummaryPayload struct {
	Count int `json:"count"`
}

func newEvent(name Name, audience []string, at time.Time, payload any) Event {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var aud []string
	if len(audience) > 0 {
		aud = append(aud, audience...)
	}
	return Event{ID: uuid.New(), Name: name, Audience: aud, OccurredAt: at, Payload: payload}
}

// NewMenuStateChanged builds a menu-state-changed event for every client.
func NewMenuStateChanged(p MenuStatePayload, at time.Time) Event {
	if p.EightySixList == nil {
		p.EightySixList = []RosterEntry{}
	}
	return newEvent(MenuStateChanged, nil, at, p)
}

// NewInventoryAlert builds an inventory-alert addressed to audience.
func NewInventoryAlert(p InventoryAlertPayload, audience []string, at time.Time) Event {
	return newEvent(InventoryAlert, audience, at, p)
}

// NewLowStockSummary builds a low-stock-summary addressed to audience.
func NewLowStockSummary(count int, audience []string, at time.Time) Event {
	return newEvent(LowStockSummary, audience, at, LowStockSummaryPayload{Count: count})
}

// Visible reports whether a client holding roles may receive e.
func (e Event) Visible(roles []string) bool {
	if len(e.Audience) == 0 {
		return true
	}
	for _, want := range e.Audience {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}
