// Package integration connects ledger and order events to the 86-List
// Manager: deductions and restocks fan out into per-menu-item reconciles.
package integration

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/menu"
)

// Ledger is the inventory surface the processors need.
type Ledger interface {
	GetItem(ctx context.Context, id int64) (inventory.Item, error)
	DeductForOrder(ctx context.Context, usage inventory.OrderUsage) (inventory.Deduction, error)
	MenuItemsUsing(ctx context.Context, inventoryItemIDs ...int64) ([]int64, error)
}

// Reconciler applies one reconcile in its own transaction.
type Reconciler interface {
	Reconcile(ctx context.Context, menuItemID int64) (menu.Result, error)
}

// Catalog lists menu items that depend on inventory.
type Catalog interface {
	ReconcilableItems(ctx context.Context) ([]int64, error)
}

// Dispatcher publishes committed events.
type Dispatcher interface {
	Dispatch(events ...broadcast.Event)
}

// ItemResult is the outcome for one menu item of a batch.
type ItemResult struct {
	MenuItemID int64           `json:"menuItemId"`
	Available  bool            `json:"available"`
	Changed    bool            `json:"changed"`
	Transition menu.Transition `json:"transition,omitempty"`
	Error      string          `json:"error,omitempty"`

	err error
}

// Err returns the reconcile error, if any.
func (r ItemResult) Err() error { return r.err }

// BatchReport lists per-item results of a fan-out.
type BatchReport struct {
	Results []ItemResult `json:"results"`
	Failed  int          `json:"failed"`
}

// Changed counts items whose availability flipped.
func (b BatchReport) Changed() int {
	n := 0
	for _, r := range b.Results {
		if r.Changed {
			n++
		}
	}
	return n
}

// fanout reconciles items independently. One failing item never stops its
// siblings; its error is reported in the result list.
type fanout struct {
	reconciler  Reconciler
	dispatcher  Dispatcher
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

func newFanout(reconciler Reconciler, dispatcher Dispatcher, concurrency int, logger *slog.Logger) fanout {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return fanout{
		reconciler:  reconciler,
		dispatcher:  dispatcher,
		concurrency: concurrency,
		logger:      logger,
		tracer:      otel.Tracer("mise/integration"),
	}
}

func (f fanout) reconcileMany(ctx context.Context, menuItemIDs []int64) BatchReport {
	results := make([]ItemResult, len(menuItemIDs))
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, id := range menuItemIDs {
		g.Go(func() error {
			results[i] = f.reconcileOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Results: results}
	for _, r := range results {
		if r.err != nil {
			report.Failed++
		}
	}
	return report
}

func (f fanout) reconcileOne(ctx context.Context, menuItemID int64) ItemResult {
	res, err := f.reconciler.Reconcile(ctx, menuItemID)
	if err != nil {
		f.logger.Error("reconcile failed",
			slog.Int64("menu_item_id", menuItemID),
			slog.Any("error", err),
		)
		return ItemResult{MenuItemID: menuItemID, Error: err.Error(), err: err}
	}
	if f.dispatcher != nil && len(res.Events) > 0 {
		f.dispatcher.Dispatch(res.Events...)
	}
	return ItemResult{
		MenuItemID: menuItemID,
		Available:  res.Available,
		Changed:    res.Changed,
		Transition: res.Transition,
	}
}

func (f fanout) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return f.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func distinctSorted(groups ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, g := range groups {
		for _, id := range g {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
