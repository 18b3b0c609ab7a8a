package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/orders"
	"github.com/mise-platform/mise/internal/shared"
)

// Idempotency claims trigger keys.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CompletionSource lists completed orders whose deduction never committed.
type CompletionSource interface {
	UndeductedCompletions(ctx context.Context, since time.Time, limit int) ([]orders.OrderCompletedEvent, error)
}

const replayBatch = 200

// CompletionReport describes one processed completion.
type CompletionReport struct {
	OrderID   int64                   `json:"orderId"`
	Duplicate bool                    `json:"duplicate"`
	Consumed  []inventory.Consumption `json:"-"`
	BatchReport
}

// OrderCompletionProcessor deducts what a completed order consumed and then
// reconciles every affected menu item. The deduction commits first; each
// reconcile is its own transaction afterwards.
type OrderCompletionProcessor struct {
	ledger      Ledger
	idempotency Idempotency
	source      CompletionSource
	fanout      fanout
	logger      *slog.Logger
}

// CompletionConfig groups OrderCompletionProcessor dependencies.
type CompletionConfig struct {
	Ledger      Ledger
	Reconciler  Reconciler
	Dispatcher  Dispatcher
	Idempotency Idempotency
	Source      CompletionSource
	Concurrency int
	Logger      *slog.Logger
}

// NewOrderCompletionProcessor constructs the processor. Idempotency and Source
// may be nil.
func NewOrderCompletionProcessor(cfg CompletionConfig) *OrderCompletionProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("processor", "order_completion"))
	return &OrderCompletionProcessor{
		ledger:      cfg.Ledger,
		idempotency: cfg.Idempotency,
		source:      cfg.Source,
		fanout:      newFanout(cfg.Reconciler, cfg.Dispatcher, cfg.Concurrency, logger),
		logger:      logger,
	}
}

// OnOrderCompleted processes a completion at most once per order.
func (p *OrderCompletionProcessor) OnOrderCompleted(ctx context.Context, evt orders.OrderCompletedEvent) (CompletionReport, error) {
	report := CompletionReport{OrderID: evt.OrderID}
	ctx, span := p.fanout.startSpan(ctx, "integration.order_completed", attribute.Int64("order.id", evt.OrderID))
	defer span.End()

	key := shared.OrderCompletedKey(evt.OrderID)
	if p.idempotency != nil {
		if err := p.idempotency.CheckAndInsert(ctx, key, "orders"); err != nil {
			if errors.Is(err, shared.ErrAlreadyProcessed) {
				p.logger.Info("order completion already processed", slog.Int64("order_id", evt.OrderID))
				report.Duplicate = true
				return report, nil
			}
			return report, err
		}
	}

	usage := inventory.OrderUsage{OrderID: evt.OrderID, Lines: make([]inventory.LineUsage, 0, len(evt.Lines))}
	orderItems := make([]int64, 0, len(evt.Lines))
	for _, l := range evt.Lines {
		usage.Lines = append(usage.Lines, inventory.LineUsage{MenuItemID: l.MenuItemID, Quantity: l.Quantity})
		orderItems = append(orderItems, l.MenuItemID)
	}

	deduction, err := p.ledger.DeductForOrder(ctx, usage)
	if err != nil {
		span.RecordError(err)
		if p.idempotency != nil {
			if derr := p.idempotency.Delete(ctx, key); derr != nil {
				p.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return report, fmt.Errorf("integration: deduct order %d: %w", evt.OrderID, err)
	}
	report.Consumed = deduction.Consumed

	dependents, err := p.ledger.MenuItemsUsing(ctx, deduction.InventoryItemIDs()...)
	if err != nil {
		p.logger.Warn("dependent lookup failed, reconciling ordered items only",
			slog.Int64("order_id", evt.OrderID),
			slog.Any("error", err),
		)
		dependents = nil
	}
	affected := distinctSorted(orderItems, dependents)
	report.BatchReport = p.fanout.reconcileMany(ctx, affected)

	p.logger.Info("order completion processed",
		slog.Int64("order_id", evt.OrderID),
		slog.Int("ingredients", len(deduction.Consumed)),
		slog.Int("menu_items", len(affected)),
		slog.Int("changed", report.Changed()),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// ReplayReport summarises one replay pass.
type ReplayReport struct {
	Orders   int `json:"orders"`
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// ReplayMissed re-runs completions committed since the cutoff whose deduction
// never landed, such as one whose claim was released after a failed deduct.
func (p *OrderCompletionProcessor) ReplayMissed(ctx context.Context, since time.Time) (ReplayReport, error) {
	var report ReplayReport
	if p.source == nil {
		return report, nil
	}
	pending, err := p.source.UndeductedCompletions(ctx, since, replayBatch)
	if err != nil {
		return report, fmt.Errorf("integration: list undeducted completions: %w", err)
	}
	report.Orders = len(pending)
	for _, evt := range pending {
		res, err := p.OnOrderCompleted(ctx, evt)
		if err != nil {
			report.Failed++
			p.logger.Error("replay order completion",
				slog.Int64("order_id", evt.OrderID),
				slog.Any("error", err),
			)
			continue
		}
		if !res.Duplicate {
			report.Replayed++
		}
	}
	if report.Orders > 0 {
		p.logger.Info("order completion replay finished",
			slog.Int("orders", report.Orders),
			slog.Int("replayed", report.Replayed),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}
