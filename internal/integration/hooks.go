package integration

import (
	"context"

	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/orders"
)

// Hooks adapts the processors to the inventory and orders integration
// interfaces. Processing is detached from the caller's cancellation: once a
// trigger has committed, the follow-up work runs to completion.
type Hooks struct {
	completion *OrderCompletionProcessor
	restock    *RestockProcessor
	single     fanout
}

var (
	_ inventory.IntegrationHandler = (*Hooks)(nil)
	_ orders.IntegrationHandler    = (*Hooks)(nil)
)

// NewHooks constructs integration hooks.
func NewHooks(completion *OrderCompletionProcessor, restock *RestockProcessor) *Hooks {
	return &Hooks{completion: completion, restock: restock, single: restock.fanout}
}

// HandleOrderCompleted implements orders.IntegrationHandler.
func (h *Hooks) HandleOrderCompleted(ctx context.Context, evt orders.OrderCompletedEvent) error {
	if h == nil || h.completion == nil {
		return nil
	}
	_, err := h.completion.OnOrderCompleted(context.WithoutCancel(ctx), evt)
	return err
}

// HandleStockChanged implements inventory.IntegrationHandler.
func (h *Hooks) HandleStockChanged(ctx context.Context, evt inventory.StockChangedEvent) error {
	if h == nil || h.restock == nil {
		return nil
	}
	_, err := h.restock.OnInventoryReplenished(context.WithoutCancel(ctx), evt.InventoryItemID)
	return err
}

// HandleRequirementChanged implements inventory.IntegrationHandler.
func (h *Hooks) HandleRequirementChanged(ctx context.Context, menuItemID int64) error {
	if h == nil || h.restock == nil {
		return nil
	}
	return h.single.reconcileOne(context.WithoutCancel(ctx), menuItemID).Err()
}
