package integration

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// RestockProcessor reconciles the menu items that depend on replenished
// stock. It never mutates stock itself.
type RestockProcessor struct {
	ledger  Ledger
	catalog Catalog
	fanout  fanout
	logger  *slog.Logger
}

// RestockConfig groups RestockProcessor dependencies.
type RestockConfig struct {
	Ledger      Ledger
	Catalog     Catalog
	Reconciler  Reconciler
	Dispatcher  Dispatcher
	Concurrency int
	Logger      *slog.Logger
}

// NewRestockProcessor constructs the processor.
func NewRestockProcessor(cfg RestockConfig) *RestockProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("processor", "restock"))
	return &RestockProcessor{
		ledger:  cfg.Ledger,
		catalog: cfg.Catalog,
		fanout:  newFanout(cfg.Reconciler, cfg.Dispatcher, cfg.Concurrency, logger),
		logger:  logger,
	}
}

// OnInventoryReplenished reconciles every menu item using the ingredient.
// Unknown ingredients are rejected with a not-found error.
func (p *RestockProcessor) OnInventoryReplenished(ctx context.Context, inventoryItemID int64) (BatchReport, error) {
	ctx, span := p.fanout.startSpan(ctx, "integration.inventory_replenished", attribute.Int64("inventory_item.id", inventoryItemID))
	defer span.End()

	if _, err := p.ledger.GetItem(ctx, inventoryItemID); err != nil {
		return BatchReport{}, err
	}
	ids, err := p.ledger.MenuItemsUsing(ctx, inventoryItemID)
	if err != nil {
		span.RecordError(err)
		return BatchReport{}, err
	}
	report := p.fanout.reconcileMany(ctx, ids)
	p.logger.Info("restock fan-out complete",
		slog.Int64("inventory_item_id", inventoryItemID),
		slog.Int("menu_items", len(ids)),
		slog.Int("changed", report.Changed()),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// ReconcileAll reconciles every menu item with requirements. It closes the
// window left when a process stops between a deduction and its reconciles.
func (p *RestockProcessor) ReconcileAll(ctx context.Context) (BatchReport, error) {
	ctx, span := p.fanout.startSpan(ctx, "integration.reconcile_all")
	defer span.End()

	ids, err := p.catalog.ReconcilableItems(ctx)
	if err != nil {
		span.RecordError(err)
		return BatchReport{}, err
	}
	report := p.fanout.reconcileMany(ctx, ids)
	p.logger.Info("convergence pass complete",
		slog.Int("menu_items", len(ids)),
		slog.Int("changed", report.Changed()),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}
