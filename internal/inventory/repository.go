package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/platform/db"
)

// Repository persists the ledger and requirement map in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockItem(ctx context.Context, id int64) (Item, error)
	IncrementStock(ctx context.Context, id int64, qty decimal.Decimal, at time.Time) (Item, error)
	DecrementStock(ctx context.Context, id int64, qty decimal.Decimal, at time.Time) (Consumption, error)
	SetStock(ctx context.Context, id int64, stock decimal.Decimal, at time.Time) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	MenuItemExists(ctx context.Context, id int64) (bool, error)
	UpsertRequirement(ctx context.Context, req Requirement) error
	DeleteRequirement(ctx context.Context, menuItemID, inventoryItemID int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Stock rows
// are serialised with row locks, not snapshot isolation.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const itemColumns = `id, name, category, current_stock, par_level, unit, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.CurrentStock, &it.ParLevel, &it.Unit, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, db.Classify(err)
}

// ListItems returns all items ordered by name.
func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY name, id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, db.Classify(rows.Err())
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
}

// ListMovements returns the newest movements first.
func (r *Repository) ListMovements(ctx context.Context, inventoryItemID int64, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, inventory_item_id, movement_type, quantity, balance_after,
		COALESCE(reference, ''), COALESCE(note, ''), actor_id, created_at
		FROM inventory_movements WHERE inventory_item_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, inventoryItemID, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var typ string
		if err := rows.Scan(&m.ID, &m.InventoryItemID, &typ, &m.Quantity, &m.BalanceAfter, &m.Reference, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		m.Type = MovementType(typ)
		out = append(out, m)
	}
	return out, db.Classify(rows.Err())
}

// RequirementsFor returns requirement rows for the given menu items.
func (r *Repository) RequirementsFor(ctx context.Context, menuItemIDs []int64) ([]Requirement, error) {
	if len(menuItemIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT menu_item_id, inventory_item_id, quantity_per_unit
		FROM inventory_requirements WHERE menu_item_id = ANY($1)
		ORDER BY menu_item_id, inventory_item_id`, menuItemIDs)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Requirement
	for rows.Next() {
		var req Requirement
		if err := rows.Scan(&req.MenuItemID, &req.InventoryItemID, &req.QuantityPerUnit); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, req)
	}
	return out, db.Classify(rows.Err())
}

// MenuItemsUsing returns distinct menu item ids depending on any ingredient.
func (r *Repository) MenuItemsUsing(ctx context.Context, inventoryItemIDs []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT menu_item_id FROM inventory_requirements
		WHERE inventory_item_id = ANY($1) ORDER BY menu_item_id`, inventoryItemIDs)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, db.Classify(err)
		}
		ids = append(ids, id)
	}
	return ids, db.Classify(rows.Err())
}

func (t *txRepo) LockItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) IncrementStock(ctx context.Context, id int64, qty decimal.Decimal, at time.Time) (Item, error) {
	return scanItem(t.tx.QueryRow(ctx, `UPDATE inventory_items
		SET current_stock = current_stock + $2, updated_at = $3
		WHERE id = $1 RETURNING `+itemColumns, id, qty, at))
}

func (t *txRepo) DecrementStock(ctx context.Context, id int64, qty decimal.Decimal, at time.Time) (Consumption, error) {
	c := Consumption{InventoryItemID: id, Requested: qty}
	err := t.tx.QueryRow(ctx, `WITH prev AS (
			SELECT id, current_stock FROM inventory_items WHERE id = $1 FOR UPDATE
		)
		UPDATE inventory_items i
		SET current_stock = GREATEST(i.current_stock - $2, 0), updated_at = $3
		FROM prev WHERE i.id = prev.id
		RETURNING i.name, i.unit, prev.current_stock, i.current_stock`, id, qty, at).
		Scan(&c.Name, &c.Unit, &c.Before, &c.After)
	if errors.Is(err, pgx.ErrNoRows) {
		return Consumption{}, ErrItemNotFound
	}
	return c, db.Classify(err)
}

func (t *txRepo) SetStock(ctx context.Context, id int64, stock decimal.Decimal, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory_items SET current_stock = $2, updated_at = $3 WHERE id = $1`, id, stock, at)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inventory_movements
		(inventory_item_id, movement_type, quantity, balance_after, reference, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8) RETURNING id`,
		m.InventoryItemID, string(m.Type), m.Quantity, m.BalanceAfter, m.Reference, m.Note, m.ActorID, m.CreatedAt).Scan(&id)
	return id, db.Classify(err)
}

func (t *txRepo) MenuItemExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM menu_items WHERE id = $1)`, id).Scan(&ok)
	return ok, db.Classify(err)
}

func (t *txRepo) UpsertRequirement(ctx context.Context, req Requirement) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_requirements (menu_item_id, inventory_item_id, quantity_per_unit)
		VALUES ($1, $2, $3)
		ON CONFLICT (menu_item_id, inventory_item_id) DO UPDATE SET quantity_per_unit = EXCLUDED.quantity_per_unit`,
		req.MenuItemID, req.InventoryItemID, req.QuantityPerUnit)
	return db.Classify(err)
}

func (t *txRepo) DeleteRequirement(ctx context.Context, menuItemID, inventoryItemID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM inventory_requirements WHERE menu_item_id = $1 AND inventory_item_id = $2`,
		menuItemID, inventoryItemID)
	if err != nil {
		return false, db.Classify(err)
	}
	return tag.RowsAffected() > 0, nil
}
