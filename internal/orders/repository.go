package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-platform/mise/internal/platform/db"
	"github.com/mise-platform/mise/internal/shared"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	MenuSnapshots(ctx context.Context, menuItemIDs []int64) (map[int64]MenuSnapshot, error)
	InsertOrder(ctx context.Context, o Order) (Order, error)
	LockOrder(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return loadOrder(ctx, r.pool, id, false)
}

// UndeductedCompletions lists orders completed since the cutoff that hold no
// completion idempotency key, i.e. whose deduction never committed.
func (r *Repository) UndeductedCompletions(ctx context.Context, since time.Time, limit int) ([]OrderCompletedEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT o.id FROM orders o
		WHERE o.status = 'completed' AND o.completed_at >= $1
		AND NOT EXISTS (SELECT 1 FROM idempotency_keys k WHERE k.key = $2 || o.id::text)
		ORDER BY o.completed_at, o.id
		LIMIT $3`, since, shared.OrderCompletedKeyPrefix, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, db.Classify(err)
	}
	out := make([]OrderCompletedEvent, 0, len(ids))
	for _, id := range ids {
		o, err := r.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.CompletedAt == nil {
			continue
		}
		out = append(out, OrderCompletedEvent{OrderID: o.ID, Lines: o.Lines, CompletedAt: *o.CompletedAt})
	}
	return out, nil
}

func loadOrder(ctx context.Context, q querier, id int64, lock bool) (Order, error) {
	sql := `SELECT id, status, total, created_by, created_at, updated_at, completed_at FROM orders WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var o Order
	var status string
	err := q.QueryRow(ctx, sql, id).Scan(&o.ID, &status, &o.Total, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, db.Classify(err)
	}
	o.Status = Status(status)

	rows, err := q.Query(ctx, `SELECT l.id, l.menu_item_id, m.name, l.quantity, l.unit_price
		FROM order_lines l JOIN menu_items m ON m.id = l.menu_item_id
		WHERE l.order_id = $1 ORDER BY l.id`, id)
	if err != nil {
		return Order{}, db.Classify(err)
	}
	defer rows.Close()
	o.Lines = []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.MenuItemID, &l.MenuItemName, &l.Quantity, &l.UnitPrice); err != nil {
			return Order{}, db.Classify(err)
		}
		o.Lines = append(o.Lines, l)
	}
	return o, db.Classify(rows.Err())
}

// MenuSnapshots reads price and effective availability, holding a share lock
// so an item cannot be 86'd between the check and the insert.
func (t *txRepo) MenuSnapshots(ctx context.Context, menuItemIDs []int64) (map[int64]MenuSnapshot, error) {
	rows, err := t.tx.Query(ctx, `SELECT m.id, m.name, m.price,
		(m.is_available AND NOT EXISTS (
			SELECT 1 FROM eighty_six_entries e WHERE e.menu_item_id = m.id AND e.removed_at IS NULL
		))
		FROM menu_items m WHERE m.id = ANY($1) ORDER BY m.id FOR SHARE OF m`, menuItemIDs)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := make(map[int64]MenuSnapshot, len(menuItemIDs))
	for rows.Next() {
		var s MenuSnapshot
		if err := rows.Scan(&s.ID, &s.Name, &s.Price, &s.Available); err != nil {
			return nil, db.Classify(err)
		}
		out[s.ID] = s
	}
	return out, db.Classify(rows.Err())
}

func (t *txRepo) InsertOrder(ctx context.Context, o Order) (Order, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (status, total, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		string(o.Status), o.Total, o.CreatedBy, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return Order{}, db.Classify(err)
	}
	for i := range o.Lines {
		l := &o.Lines[i]
		err := t.tx.QueryRow(ctx, `INSERT INTO order_lines (order_id, menu_item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4) RETURNING id`, o.ID, l.MenuItemID, l.Quantity, l.UnitPrice).Scan(&l.ID)
		if err != nil {
			return Order{}, db.Classify(err)
		}
	}
	return o, nil
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3,
		completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
		WHERE id = $1`, id, string(status), at)
	return db.Classify(err)
}
