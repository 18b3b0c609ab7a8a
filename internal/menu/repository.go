package menu

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-platform/mise/internal/platform/db"
)

// Repository persists menu items and the 86 list in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn at read committed. The menu item row lock taken by
// LockMenuItem is what serialises transitions for one item; snapshot
// isolation would only turn those waits into serialisation failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectMenuItem = `SELECT m.id, m.name, m.category, m.price, m.is_available,
	(m.is_available AND NOT EXISTS (
		SELECT 1 FROM eighty_six_entries e WHERE e.menu_item_id = m.id AND e.removed_at IS NULL
	)) AS effective, m.updated_at
	FROM menu_items m`

func scanMenuItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Price, &it.IsAvailable, &it.EffectiveAvailability, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, db.Classify(err)
}

// GetMenuItem loads one item with its effective availability.
func (r *Repository) GetMenuItem(ctx context.Context, id int64) (Item, error) {
	return scanMenuItem(r.pool.QueryRow(ctx, selectMenuItem+` WHERE m.id = $1`, id))
}

// ListMenu returns the full menu ordered by category and name.
func (r *Repository) ListMenu(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, selectMenuItem+` ORDER BY m.category, m.name, m.id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		it, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, db.Classify(rows.Err())
}

// RequirementsWithStock joins requirements with current stock.
func (r *Repository) RequirementsWithStock(ctx context.Context, menuItemID int64) ([]RequirementStock, error) {
	return requirementsWithStock(ctx, r.pool, menuItemID)
}

// ListActiveEntries returns the current 86 roster.
func (r *Repository) ListActiveEntries(ctx context.Context) ([]Entry, error) {
	return listActiveEntries(ctx, r.pool)
}

// MenuItemsWithRequirements lists menu items with at least one requirement.
func (r *Repository) MenuItemsWithRequirements(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT menu_item_id FROM inventory_requirements ORDER BY menu_item_id`)
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

func requirementsWithStock(ctx context.Context, q querier, menuItemID int64) ([]RequirementStock, error) {
	rows, err := q.Query(ctx, `SELECT i.id, i.name, i.unit, r.quantity_per_unit, i.current_stock
		FROM inventory_requirements r
		JOIN inventory_items i ON i.id = r.inventory_item_id
		WHERE r.menu_item_id = $1
		ORDER BY i.id`, menuItemID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []RequirementStock
	for rows.Next() {
		var rs RequirementStock
		if err := rows.Scan(&rs.InventoryItemID, &rs.Name, &rs.Unit, &rs.Required, &rs.Available); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, rs)
	}
	return out, db.Classify(rows.Err())
}

const selectEntry = `SELECT e.id, e.menu_item_id, m.name, e.reason, e.created_by, e.is_auto_generated, e.created_at, e.removed_at
	FROM eighty_six_entries e JOIN menu_items m ON m.id = e.menu_item_id`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.MenuItemID, &e.MenuItemName, &e.Reason, &e.CreatedBy, &e.IsAutoGenerated, &e.CreatedAt, &e.RemovedAt)
	return e, err
}

func listActiveEntries(ctx context.Context, q querier) ([]Entry, error) {
	rows, err := q.Query(ctx, selectEntry+` WHERE e.removed_at IS NULL ORDER BY e.created_at, e.id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		entries = append(entries, e)
	}
	return entries, db.Classify(rows.Err())
}

func (t *txRepo) LockMenuItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `SELECT id, name, category, price, is_available, updated_at
		FROM menu_items WHERE id = $1 FOR UPDATE`, id).
		Scan(&it.ID, &it.Name, &it.Category, &it.Price, &it.IsAvailable, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, db.Classify(err)
}

func (t *txRepo) RequirementsWithStock(ctx context.Context, menuItemID int64) ([]RequirementStock, error) {
	return requirementsWithStock(ctx, t.tx, menuItemID)
}

func (t *txRepo) ActiveEntry(ctx context.Context, menuItemID int64) (*Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, selectEntry+` WHERE e.menu_item_id = $1 AND e.removed_at IS NULL`, menuItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err)
	}
	return &e, nil
}

func (t *txRepo) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO eighty_six_entries
		(menu_item_id, reason, created_by, is_auto_generated, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.MenuItemID, e.Reason, e.CreatedBy, e.IsAutoGenerated, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return Entry{}, db.Classify(err)
	}
	return e, nil
}

func (t *txRepo) CloseEntry(ctx context.Context, entryID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE eighty_six_entries SET removed_at = $2 WHERE id = $1 AND removed_at IS NULL`, entryID, at)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEightySixed
	}
	return nil
}

func (t *txRepo) SetAvailability(ctx context.Context, menuItemID int64, available bool, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE menu_items SET is_available = $2, updated_at = $3 WHERE id = $1`, menuItemID, available, at)
	return db.Classify(err)
}

func (t *txRepo) ListActiveEntries(ctx context.Context) ([]Entry, error) {
	return listActiveEntries(ctx, t.tx)
}
