package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
}

// Service coordinates order intake and the status machine.
type Service struct {
	repo        RepositoryPort
	integration IntegrationHandler
	logger      *slog.Logger
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
		logger:      logger.With(slog.String("module", "orders")),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder records a pending order. Prices are locked from the menu and
// every line must be effectively available at intake.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest, actor *int64) (Order, error) {
	if len(req.Lines) == 0 {
		return Order{}, ErrEmptyOrder
	}
	ids := make([]int64, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l.MenuItemID <= 0 || l.Quantity <= 0 {
			return Order{}, fmt.Errorf("order: invalid line %d x%d: %w", l.MenuItemID, l.Quantity, ErrEmptyOrder)
		}
		ids = append(ids, l.MenuItemID)
	}

	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snapshots, err := tx.MenuSnapshots(ctx, ids)
		if err != nil {
			return err
		}
		now := s.clock()
		order = Order{Status: StatusPending, CreatedBy: actor, CreatedAt: now, UpdatedAt: now, Total: decimal.Zero}
		for _, l := range req.Lines {
			snap, ok := snapshots[l.MenuItemID]
			if !ok || !snap.Available {
				return fmt.Errorf("%w: %d", ErrItemUnavailable, l.MenuItemID)
			}
			order.Lines = append(order.Lines, Line{
				MenuItemID:   snap.ID,
				MenuItemName: snap.Name,
				Quantity:     l.Quantity,
				UnitPrice:    snap.Price,
			})
			order.Total = order.Total.Add(snap.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
		order, err = tx.InsertOrder(ctx, order)
		return err
	})
	if err != nil {
		return Order{}, err
	}
	s.logger.Info("order created", slog.Int64("order_id", order.ID), slog.Int("lines", len(order.Lines)))
	return order, nil
}

// GetOrder loads an order with its lines.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	if id <= 0 {
		return Order{}, ErrOrderNotFound
	}
	return s.repo.GetOrder(ctx, id)
}

// UpdateStatus moves an order along the status machine. The order row is
// locked, so a completion is committed at most once; the integration hook
// runs after the commit.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status, actor *int64) (Order, error) {
	if !to.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, to)
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, current.Status, to)
		}
		now := s.clock()
		if err := tx.UpdateStatus(ctx, id, to, now); err != nil {
			return err
		}
		order = current
		order.Status = to
		order.UpdatedAt = now
		if to == StatusCompleted {
			order.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	attrs := []any{slog.Int64("order_id", id), slog.String("status", string(to))}
	if actor != nil {
		attrs = append(attrs, slog.Int64("actor_id", *actor))
	}
	s.logger.Info("order status updated", attrs...)

	if to == StatusCompleted && s.integration != nil {
		evt := OrderCompletedEvent{OrderID: order.ID, Lines: order.Lines, CompletedAt: *order.CompletedAt}
		if err := s.integration.HandleOrderCompleted(ctx, evt); err != nil {
			s.logger.Error("order completion integration failed", slog.Int64("order_id", id), slog.Any("error", err))
		}
	}
	return order, nil
}
