package menu

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/mise-platform/mise/internal/broadcast"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	TxRunner
	EvaluatorRepository
	ListMenu(ctx context.Context) ([]Item, error)
	ListActiveEntries(ctx context.Context) ([]Entry, error)
	MenuItemsWithRequirements(ctx context.Context) ([]int64, error)
}

// Dispatcher publishes committed events.
type Dispatcher interface {
	Dispatch(events ...broadcast.Event)
}

// Service is the public face of the menu module: read views plus the staff
// operations, with events dispatched after commit.
type Service struct {
	repo       RepositoryPort
	evaluator  *Evaluator
	manager    *Manager
	dispatcher Dispatcher
	reads      singleflight.Group
}

// NewService builds Service. dispatcher may be nil.
func NewService(repo RepositoryPort, manager *Manager, dispatcher Dispatcher) *Service {
	return &Service{
		repo:       repo,
		evaluator:  NewEvaluator(repo),
		manager:    manager,
		dispatcher: dispatcher,
	}
}

// FullMenu lists every menu item with its effective availability. Concurrent
// callers share one query.
func (s *Service) FullMenu(ctx context.Context) ([]Item, error) {
	v, err, _ := s.reads.Do("menu", func() (any, error) {
		return s.repo.ListMenu(ctx)
	})
	if err != nil {
		return nil, err
	}
	items := v.([]Item)
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

// EffectiveAvailability answers the single question clients ask most.
func (s *Service) EffectiveAvailability(ctx context.Context, menuItemID int64) (bool, error) {
	if menuItemID <= 0 {
		return false, ErrItemNotFound
	}
	item, err := s.repo.GetMenuItem(ctx, menuItemID)
	if err != nil {
		return false, err
	}
	return item.EffectiveAvailability, nil
}

// EightySixList returns the active roster, oldest first.
func (s *Service) EightySixList(ctx context.Context) ([]Entry, error) {
	return s.repo.ListActiveEntries(ctx)
}

// Evaluate runs the evaluator for one item.
func (s *Service) Evaluate(ctx context.Context, menuItemID int64) (Evaluation, error) {
	return s.evaluator.Evaluate(ctx, menuItemID)
}

// Reconcile reconciles one item and publishes the resulting events. The
// returned Result no longer carries them.
func (s *Service) Reconcile(ctx context.Context, menuItemID int64) (Result, error) {
	res, err := s.manager.Reconcile(ctx, menuItemID)
	if err != nil {
		return res, err
	}
	return s.publish(res), nil
}

// EightySix records a manual entry.
func (s *Service) EightySix(ctx context.Context, menuItemID int64, reason string, actor *int64) (Result, error) {
	res, err := s.manager.EightySix(ctx, menuItemID, reason, actor)
	if err != nil {
		return res, err
	}
	return s.publish(res), nil
}

// RemoveEightySix closes the active entry and re-evaluates.
func (s *Service) RemoveEightySix(ctx context.Context, menuItemID int64, actor *int64) (Result, error) {
	res, err := s.manager.Remove(ctx, menuItemID, actor)
	if err != nil {
		return res, err
	}
	return s.publish(res), nil
}

// ReconcilableItems lists menu items that have at least one requirement.
func (s *Service) ReconcilableItems(ctx context.Context) ([]int64, error) {
	return s.repo.MenuItemsWithRequirements(ctx)
}

// Manager exposes the underlying manager for batch processors, which publish
// the returned events themselves.
func (s *Service) Manager() *Manager {
	return s.manager
}

// publish hands the result's events to the dispatcher and returns the result
// without them, so nothing downstream can publish them a second time.
func (s *Service) publish(res Result) Result {
	if s.dispatcher != nil && len(res.Events) > 0 {
		s.dispatcher.Dispatch(res.Events...)
	}
	res.Events = nil
	return res
}
