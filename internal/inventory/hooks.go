package inventory

import "context"

// IntegrationHandler receives committed ledger changes so dependent menu
// items can be reconciled.
type IntegrationHandler interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
	HandleRequirementChanged(ctx context.Context, menuItemID int64) error
}
