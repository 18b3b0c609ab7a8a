package menu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mise-platform/mise/internal/broadcast"
)

// TxRepository exposes the locked, transactional operations of the 86-List Manager.
type TxRepository interface {
	LockMenuItem(ctx context.Context, id int64) (Item, error)
	RequirementsWithStock(ctx context.Context, menuItemID int64) ([]RequirementStock, error)
	ActiveEntry(ctx context.Context, menuItemID int64) (*Entry, error)
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	CloseEntry(ctx context.Context, entryID int64, at time.Time) error
	SetAvailability(ctx context.Context, menuItemID int64, available bool, at time.Time) error
	ListActiveEntries(ctx context.Context) ([]Entry, error)
}

// TxRunner runs fn in one transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TransitionRecorder counts availability flips.
type TransitionRecorder interface {
	AddMenuTransition(direction string)
}

// Result is the outcome of a manager operation. Events are returned, not
// published: the caller dispatches them once the transaction has committed.
type Result struct {
	MenuItemID int64             `json:"menuItemId"`
	Available  bool              `json:"available"`
	Changed    bool              `json:"changed"`
	Transition Transition        `json:"transition,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Events     []broadcast.Event `json:"-"`
}

// ManagerConfig groups optional settings.
type ManagerConfig struct {
	AlertRoles []string
	Logger     *slog.Logger
	Metrics    TransitionRecorder
}

// Manager is the authority on the 86 list. Every transition locks the menu
// item row, so operations on one item serialise while different items
// proceed in parallel.
type Manager struct {
	repo       TxRunner
	alertRoles []string
	logger     *slog.Logger
	metrics    TransitionRecorder
	tracer     trace.Tracer
	clock      func() time.Time
}

// NewManager constructs the 86-List Manager.
func NewManager(repo TxRunner, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	roles := cfg.AlertRoles
	if len(roles) == 0 {
		roles = []string{"manager", "kitchen"}
	}
	return &Manager{
		repo:       repo,
		alertRoles: roles,
		logger:     logger.With(slog.String("module", "menu")),
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("mise/menu"),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile brings the item's 86 state in line with the evaluator verdict:
//
//	unavailable, no active entry   -> open an automatic entry, isAvailable=false
//	available, automatic entry     -> close it, isAvailable=true
//	anything else                  -> no mutation
//
// Manual entries are never closed here.
func (m *Manager) Reconcile(ctx context.Context, menuItemID int64) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "menu.reconcile",
		trace.WithAttributes(attribute.Int64("menu_item.id", menuItemID)))
	defer span.End()

	var res Result
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res = Result{MenuItemID: menuItemID}
		item, err := tx.LockMenuItem(ctx, menuItemID)
		if err != nil {
			return err
		}
		active, err := tx.ActiveEntry(ctx, menuItemID)
		if err != nil {
			return err
		}
		eval, err := m.evaluate(ctx, tx, menuItemID)
		if err != nil {
			return err
		}
		now := m.clock()

		switch {
		case !eval.Available && active == nil:
			res.Reason = eval.Reason()
			if _, err := m.openEntry(ctx, tx, item, res.Reason, nil, true, now); err != nil {
				return err
			}
			res.Changed, res.Transition, res.Available = true, TransitionEightySixed, false
		case eval.Available && active != nil && active.IsAutoGenerated:
			if err := m.closeEntry(ctx, tx, *active, now); err != nil {
				return err
			}
			res.Changed, res.Transition, res.Available = true, TransitionRestored, true
		default:
			res.Available = Effective(item.IsAvailable, active)
			return nil
		}

		roster, err := tx.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		res.Events = m.reconcileEvents(item, res, eval, roster, now)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Result{MenuItemID: menuItemID}, err
	}
	m.recordTransition(res)
	return res, nil
}

// EightySix puts an item on the list by hand. An active automatic entry is
// replaced so staff intent wins; an active manual entry is a conflict.
func (m *Manager) EightySix(ctx context.Context, menuItemID int64, reason string, actor *int64) (Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Result{MenuItemID: menuItemID}, ErrReasonRequired
	}
	var res Result
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res = Result{MenuItemID: menuItemID, Reason: reason}
		item, err := tx.LockMenuItem(ctx, menuItemID)
		if err != nil {
			return err
		}
		active, err := tx.ActiveEntry(ctx, menuItemID)
		if err != nil {
			return err
		}
		now := m.clock()
		wasAvailable := Effective(item.IsAvailable, active)
		if active != nil {
			if !active.IsAutoGenerated {
				return ErrAlreadyEightySixed
			}
			if err := tx.CloseEntry(ctx, active.ID, now); err != nil {
				return err
			}
		}
		if _, err := m.openEntry(ctx, tx, item, reason, actor, false, now); err != nil {
			return err
		}
		res.Changed = true
		if wasAvailable {
			res.Transition = TransitionEightySixed
		}
		roster, err := tx.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		res.Events = []broadcast.Event{broadcast.NewMenuStateChanged(broadcast.MenuStatePayload{
			MenuItemID:    item.ID,
			MenuItemName:  item.Name,
			Available:     false,
			Reason:        reason,
			EightySixList: toRoster(roster),
		}, now)}
		return nil
	})
	if err != nil {
		return Result{MenuItemID: menuItemID}, err
	}
	m.logger.Info("menu item 86'd by staff", slog.Int64("menu_item_id", menuItemID), slog.String("reason", reason))
	m.recordTransition(res)
	return res, nil
}

// Remove takes an item off the list, restores staff intent and re-evaluates
// in the same transaction: an item still short of stock is immediately
// re-listed with an automatic entry. Re-listing leaves effective availability
// unchanged, so the result reports Changed=false and carries only the
// menu-state-changed event with the refreshed roster and reason.
func (m *Manager) Remove(ctx context.Context, menuItemID int64, actor *int64) (Result, error) {
	var res Result
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res = Result{MenuItemID: menuItemID}
		item, err := tx.LockMenuItem(ctx, menuItemID)
		if err != nil {
			return err
		}
		active, err := tx.ActiveEntry(ctx, menuItemID)
		if err != nil {
			return err
		}
		if active == nil {
			return ErrNotEightySixed
		}
		now := m.clock()
		if err := m.closeEntry(ctx, tx, *active, now); err != nil {
			return err
		}
		eval, err := m.evaluate(ctx, tx, menuItemID)
		if err != nil {
			return err
		}
		if eval.Available {
			res.Changed, res.Transition, res.Available = true, TransitionRestored, true
		} else {
			res.Reason = eval.Reason()
			if _, err := m.openEntry(ctx, tx, item, res.Reason, nil, true, now); err != nil {
				return err
			}
			res.Available = false
		}
		roster, err := tx.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		if res.Changed {
			res.Events = m.reconcileEvents(item, res, eval, roster, now)
		} else {
			res.Events = []broadcast.Event{m.stateEvent(item, res, roster, now)}
		}
		return nil
	})
	if err != nil {
		return Result{MenuItemID: menuItemID}, err
	}
	attrs := []any{slog.Int64("menu_item_id", menuItemID), slog.Bool("available", res.Available)}
	if actor != nil {
		attrs = append(attrs, slog.Int64("actor_id", *actor))
	}
	m.logger.Info("86 entry removed", attrs...)
	m.recordTransition(res)
	return res, nil
}

func (m *Manager) evaluate(ctx context.Context, tx TxRepository, menuItemID int64) (Evaluation, error) {
	reqs, err := tx.RequirementsWithStock(ctx, menuItemID)
	if err != nil {
		return Evaluation{}, err
	}
	return EvaluateRequirements(menuItemID, reqs), nil
}

func (m *Manager) openEntry(ctx context.Context, tx TxRepository, item Item, reason string, actor *int64, auto bool, now time.Time) (Entry, error) {
	entry, err := tx.InsertEntry(ctx, Entry{
		MenuItemID:      item.ID,
		MenuItemName:    item.Name,
		Reason:          reason,
		CreatedBy:       actor,
		IsAutoGenerated: auto,
		CreatedAt:       now,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("menu: open 86 entry for %d: %w", item.ID, err)
	}
	if err := tx.SetAvailability(ctx, item.ID, false, now); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (m *Manager) closeEntry(ctx context.Context, tx TxRepository, entry Entry, now time.Time) error {
	if err := tx.CloseEntry(ctx, entry.ID, now); err != nil {
		return fmt.Errorf("menu: close 86 entry %d: %w", entry.ID, err)
	}
	return tx.SetAvailability(ctx, entry.MenuItemID, true, now)
}

func (m *Manager) stateEvent(item Item, res Result, roster []Entry, now time.Time) broadcast.Event {
	return broadcast.NewMenuStateChanged(broadcast.MenuStatePayload{
		MenuItemID:    item.ID,
		MenuItemName:  item.Name,
		Available:     res.Available,
		Reason:        res.Reason,
		EightySixList: toRoster(roster),
	}, now)
}

func (m *Manager) reconcileEvents(item Item, res Result, eval Evaluation, roster []Entry, now time.Time) []broadcast.Event {
	state := m.stateEvent(item, res, roster, now)

	severity := broadcast.SeverityInfo
	message := fmt.Sprintf("%s is available again", item.Name)
	if !res.Available {
		severity = broadcast.SeverityWarning
		message = fmt.Sprintf("%s 86'd: %s", item.Name, res.Reason)
	}
	alert := broadcast.NewInventoryAlert(broadcast.InventoryAlertPayload{
		ItemID:   item.ID,
		Severity: severity,
		Message:  message,
		Metadata: map[string]any{
			"menuItemName": item.Name,
			"available":    res.Available,
			"shortfalls":   eval.Shortfalls,
		},
	}, m.alertRoles, now)
	return []broadcast.Event{state, alert}
}

func (m *Manager) recordTransition(res Result) {
	if res.Transition == TransitionNone {
		return
	}
	m.logger.Info("menu availability changed",
		slog.Int64("menu_item_id", res.MenuItemID),
		slog.String("transition", string(res.Transition)),
		slog.String("reason", res.Reason),
	)
	if m.metrics != nil {
		m.metrics.AddMenuTransition(string(res.Transition))
	}
}

func toRoster(entries []Entry) []broadcast.RosterEntry {
	roster := make([]broadcast.RosterEntry, 0, len(entries))
	for _, e := range entries {
		roster = append(roster, broadcast.RosterEntry{
			MenuItemID:      e.MenuItemID,
			MenuItemName:    e.MenuItemName,
			Reason:          e.Reason,
			IsAutoGenerated: e.IsAutoGenerated,
			CreatedAt:       e.CreatedAt,
		})
	}
	return roster
}
