package menu

import "context"

// EvaluateRequirements is the pure availability rule: every requirement must
// have stock >= quantity per unit. Items without requirements are always
// available. All shortfalls are collected, not just the first.
func EvaluateRequirements(menuItemID int64, reqs []RequirementStock) Evaluation {
	eval := Evaluation{MenuItemID: menuItemID, Available: true, Shortfalls: []Shortfall{}}
	for _, r := range reqs {
		if r.Available.GreaterThanOrEqual(r.Required) {
			continue
		}
		eval.Available = false
		eval.Shortfalls = append(eval.Shortfalls, Shortfall{
			InventoryItemID: r.InventoryItemID,
			Name:            r.Name,
			Required:        r.Required,
			Available:       r.Available,
			Unit:            r.Unit,
		})
	}
	return eval
}

// EvaluatorRepository is the read side the Evaluator needs.
type EvaluatorRepository interface {
	GetMenuItem(ctx context.Context, id int64) (Item, error)
	RequirementsWithStock(ctx context.Context, menuItemID int64) ([]RequirementStock, error)
}

// Evaluator answers availability questions without side effects.
type Evaluator struct {
	repo EvaluatorRepository
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(repo EvaluatorRepository) *Evaluator {
	return &Evaluator{repo: repo}
}

// Evaluate loads the item's requirements and applies EvaluateRequirements.
func (e *Evaluator) Evaluate(ctx context.Context, menuItemID int64) (Evaluation, error) {
	if menuItemID <= 0 {
		return Evaluation{}, ErrItemNotFound
	}
	if _, err := e.repo.GetMenuItem(ctx, menuItemID); err != nil {
		return Evaluation{}, err
	}
	reqs, err := e.repo.RequirementsWithStock(ctx, menuItemID)
	if err != nil {
		return Evaluation{}, err
	}
	return EvaluateRequirements(menuItemID, reqs), nil
}
