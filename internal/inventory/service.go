package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListItems(ctx context.Context) ([]Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListMovements(ctx context.Context, inventoryItemID int64, limit int) ([]Movement, error)
	RequirementsFor(ctx context.Context, menuItemIDs []int64) ([]Requirement, error)
	MenuItemsUsing(ctx context.Context, inventoryItemIDs []int64) ([]int64, error)
}

// Service owns the Inventory Ledger and the Requirement Map.
type Service struct {
	repo        RepositoryPort
	integration IntegrationHandler
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       func() time.Time
}

// NewService builds Service. integration may be nil.
func NewService(repo RepositoryPort, integration IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		integration: integration,
		logger:      logger.With(slog.String("module", "inventory")),
		tracer:      otel.Tracer("mise/inventory"),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// SetIntegration installs the downstream hook after construction, used when
// the hook itself depends on this service.
func (s *Service) SetIntegration(h IntegrationHandler) {
	s.integration = h
}

// ListItems returns every inventory item ordered by name.
func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.repo.ListItems(ctx)
}

// GetItem returns a single item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if err := validID(id); err != nil {
		return Item{}, err
	}
	return s.repo.GetItem(ctx, id)
}

// Movements lists the latest ledger movements for an item.
func (s *Service) Movements(ctx context.Context, inventoryItemID int64, limit int) ([]Movement, error) {
	if err := validID(inventoryItemID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if _, err := s.repo.GetItem(ctx, inventoryItemID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, inventoryItemID, limit)
}

// Restock adds stock to an item and notifies the integration hook once the
// change is durable.
func (s *Service) Restock(ctx context.Context, input RestockInput) (Item, error) {
	if err := validID(input.InventoryItemID); err != nil {
		return Item{}, err
	}
	if !input.Quantity.IsPositive() {
		return Item{}, ErrInvalidQuantity
	}
	now := s.clock()
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.IncrementStock(ctx, input.InventoryItemID, input.Quantity, now)
		if err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, Movement{
			InventoryItemID: item.ID,
			Type:            MovementRestock,
			Quantity:        input.Quantity,
			BalanceAfter:    item.CurrentStock,
			Note:            input.Note,
			ActorID:         input.ActorID,
			CreatedAt:       now,
		})
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.logger.Info("inventory restocked",
		slog.Int64("inventory_item_id", item.ID),
		slog.String("quantity", input.Quantity.String()),
		slog.String("balance", item.CurrentStock.String()),
	)
	s.notifyStockChanged(ctx, StockChangedEvent{
		InventoryItemID: item.ID,
		Type:            MovementRestock,
		Balance:         item.CurrentStock,
		OccurredAt:      now,
	})
	return item, nil
}

// Adjust records a stock take: the item's stock becomes NewStock.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Item, error) {
	if err := validID(input.InventoryItemID); err != nil {
		return Item{}, err
	}
	if input.NewStock.IsNegative() {
		return Item{}, ErrNegativeStock
	}
	now := s.clock()
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockItem(ctx, input.InventoryItemID)
		if err != nil {
			return err
		}
		delta := input.NewStock.Sub(current.CurrentStock)
		if err := tx.SetStock(ctx, current.ID, input.NewStock, now); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			InventoryItemID: current.ID,
			Type:            MovementAdjustment,
			Quantity:        delta,
			BalanceAfter:    input.NewStock,
			Note:            input.Note,
			ActorID:         input.ActorID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		item = current
		item.CurrentStock = input.NewStock
		item.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.logger.Info("inventory adjusted",
		slog.Int64("inventory_item_id", item.ID),
		slog.String("balance", item.CurrentStock.String()),
	)
	s.notifyStockChanged(ctx, StockChangedEvent{
		InventoryItemID: item.ID,
		Type:            MovementAdjustment,
		Balance:         item.CurrentStock,
		OccurredAt:      now,
	})
	return item, nil
}

// DeductForOrder subtracts everything an order consumed in one transaction.
// Consumption is aggregated per ingredient and applied in ascending id order
// so concurrent completions lock rows in the same sequence. Stock is floored
// at zero.
func (s *Service) DeductForOrder(ctx context.Context, usage OrderUsage) (Deduction, error) {
	if err := validID(usage.OrderID); err != nil {
		return Deduction{}, err
	}
	ctx, span := s.tracer.Start(ctx, "inventory.deduct_for_order",
		trace.WithAttributes(attribute.Int64("order.id", usage.OrderID)))
	defer span.End()

	menuIDs := make([]int64, 0, len(usage.Lines))
	seen := make(map[int64]bool, len(usage.Lines))
	for _, line := range usage.Lines {
		if line.Quantity <= 0 {
			return Deduction{}, fmt.Errorf("inventory: line quantity must be positive: %w", ErrInvalidQuantity)
		}
		if !seen[line.MenuItemID] {
			seen[line.MenuItemID] = true
			menuIDs = append(menuIDs, line.MenuItemID)
		}
	}

	requirements, err := s.repo.RequirementsFor(ctx, menuIDs)
	if err != nil {
		return Deduction{}, err
	}
	totals := aggregateConsumption(usage.Lines, requirements)
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := s.clock()
	result := Deduction{OrderID: usage.OrderID, CommittedAt: now}
	ref := "order:" + strconv.FormatInt(usage.OrderID, 10)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		consumed := make([]Consumption, 0, len(ids))
		for _, id := range ids {
			c, err := tx.DecrementStock(ctx, id, totals[id], now)
			if err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, Movement{
				InventoryItemID: id,
				Type:            MovementDeduction,
				Quantity:        c.After.Sub(c.Before),
				BalanceAfter:    c.After,
				Reference:       ref,
				CreatedAt:       now,
			}); err != nil {
				return err
			}
			consumed = append(consumed, c)
		}
		result.Consumed = consumed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Deduction{}, err
	}
	for _, c := range result.Consumed {
		if c.Floored() {
			s.logger.Warn("deduction floored at zero",
				slog.Int64("order_id", usage.OrderID),
				slog.Int64("inventory_item_id", c.InventoryItemID),
				slog.String("requested", c.Requested.String()),
				slog.String("available", c.Before.String()),
			)
		}
	}
	return result, nil
}

func aggregateConsumption(lines []LineUsage, requirements []Requirement) map[int64]decimal.Decimal {
	byMenu := make(map[int64][]Requirement)
	for _, r := range requirements {
		byMenu[r.MenuItemID] = append(byMenu[r.MenuItemID], r)
	}
	totals := make(map[int64]decimal.Decimal)
	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, r := range byMenu[line.MenuItemID] {
			totals[r.InventoryItemID] = totals[r.InventoryItemID].Add(r.QuantityPerUnit.Mul(qty))
		}
	}
	return totals
}

// RequirementsFor returns the requirement rows of one menu item.
func (s *Service) RequirementsFor(ctx context.Context, menuItemID int64) ([]Requirement, error) {
	if err := validID(menuItemID); err != nil {
		return nil, err
	}
	return s.repo.RequirementsFor(ctx, []int64{menuItemID})
}

// MenuItemsUsing returns the distinct menu items that consume any of the
// given ingredients, ascending.
func (s *Service) MenuItemsUsing(ctx context.Context, inventoryItemIDs ...int64) ([]int64, error) {
	if len(inventoryItemIDs) == 0 {
		return nil, nil
	}
	return s.repo.MenuItemsUsing(ctx, inventoryItemIDs)
}

// SetRequirement creates or replaces a requirement row.
func (s *Service) SetRequirement(ctx context.Context, req Requirement) error {
	if err := validID(req.MenuItemID); err != nil {
		return err
	}
	if err := validID(req.InventoryItemID); err != nil {
		return err
	}
	if !req.QuantityPerUnit.IsPositive() {
		return ErrInvalidQuantity
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.MenuItemExists(ctx, req.MenuItemID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMenuItemNotFound
		}
		if _, err := tx.LockItem(ctx, req.InventoryItemID); err != nil {
			return err
		}
		return tx.UpsertRequirement(ctx, req)
	})
	if err != nil {
		return err
	}
	s.notifyRequirementChanged(ctx, req.MenuItemID)
	return nil
}

// RemoveRequirement deletes a requirement row.
func (s *Service) RemoveRequirement(ctx context.Context, menuItemID, inventoryItemID int64) error {
	if err := validID(menuItemID); err != nil {
		return err
	}
	if err := validID(inventoryItemID); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.DeleteRequirement(ctx, menuItemID, inventoryItemID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrRequirementNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyRequirementChanged(ctx, menuItemID)
	return nil
}

func (s *Service) notifyStockChanged(ctx context.Context, evt StockChangedEvent) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleStockChanged(ctx, evt); err != nil {
		s.logger.Error("stock change integration failed",
			slog.Int64("inventory_item_id", evt.InventoryItemID),
			slog.String("movement", string(evt.Type)),
			slog.Any("error", err),
		)
	}
}

func (s *Service) notifyRequirementChanged(ctx context.Context, menuItemID int64) {
	if s.integration == nil {
		return
	}
	if err := s.integration.HandleRequirementChanged(ctx, menuItemID); err != nil {
		s.logger.Error("requirement change integration failed",
			slog.Int64("menu_item_id", menuItemID),
			slog.Any("error", err),
		)
	}
}
