package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mise-platform/mise/internal/platform/db"
	"github.com/mise-platform/mise/internal/shared"
)

// TxRepository is the transactional surface used to raise one notification.
type TxRepository interface {
	LockItem(ctx context.Context, inventoryItemID int64) error
	HasRecent(ctx context.Context, inventoryItemID int64, since time.Time) (bool, error)
	Insert(ctx context.Context, n Notification) (Notification, error)
}

// Repository persists low-stock notifications in PostgreSQL.
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

// WithTx runs fn at read committed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Candidates lists items at or under par, most depleted first.
func (r *Repository) Candidates(ctx context.Context) ([]Candidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, category, unit, current_stock, par_level
		FROM inventory_items
		WHERE par_level > 0 AND current_stock <= par_level
		ORDER BY current_stock / par_level ASC, id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.InventoryItemID, &c.Name, &c.Category, &c.Unit, &c.CurrentStock, &c.ParLevel); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, c)
	}
	return out, db.Classify(rows.Err())
}

const selectNotification = `SELECT id, inventory_item_id, severity, message, target_roles, metadata,
	created_at, expires_at, dismissed, dismissed_at, dismissed_by
	FROM low_stock_notifications`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.InventoryItemID, &n.Severity, &n.Message, &n.TargetRoles, &n.Metadata,
		&n.CreatedAt, &n.ExpiresAt, &n.Dismissed, &n.DismissedAt, &n.DismissedBy)
	return n, err
}

// ListActive returns undismissed, unexpired notifications. A non-empty role
// restricts the result to notifications targeting it.
func (r *Repository) ListActive(ctx context.Context, role string, now time.Time) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, selectNotification+`
		WHERE NOT dismissed AND expires_at > $1 AND ($2 = '' OR $2 = ANY(target_roles))
		ORDER BY created_at DESC, id DESC`, now, role)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, n)
	}
	return out, db.Classify(rows.Err())
}

// Dismiss marks a notification dismissed. Dismissing twice keeps the first
// timestamp and actor.
func (r *Repository) Dismiss(ctx context.Context, id int64, actor *int64, at time.Time) (Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `UPDATE low_stock_notifications
		SET dismissed = TRUE,
			dismissed_at = COALESCE(dismissed_at, $2),
			dismissed_by = COALESCE(dismissed_by, $3)
		WHERE id = $1
		RETURNING id, inventory_item_id, severity, message, target_roles, metadata,
			created_at, expires_at, dismissed, dismissed_at, dismissed_by`, id, at, actor))
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNotificationNotFound
	}
	return n, db.Classify(err)
}

// PurgeExpired deletes notifications whose expiry has passed.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM low_stock_notifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, db.Classify(err)
	}
	return tag.RowsAffected(), nil
}

// LockItem takes a transaction-scoped advisory lock so concurrent sweeps
// cannot both pass the dedup check for the same item.
func (t *txRepo) LockItem(ctx context.Context, inventoryItemID int64) error {
	ns, key := shared.LowStockAdvisoryKey(inventoryItemID)
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, ns, key)
	return db.Classify(err)
}

func (t *txRepo) HasRecent(ctx context.Context, inventoryItemID int64, since time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM low_stock_notifications
		WHERE inventory_item_id = $1 AND NOT dismissed AND created_at > $2
	)`, inventoryItemID, since).Scan(&exists)
	return exists, db.Classify(err)
}

func (t *txRepo) Insert(ctx context.Context, n Notification) (Notification, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO low_stock_notifications
		(inventory_item_id, severity, message, target_roles, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		n.InventoryItemID, n.Severity, n.Message, n.TargetRoles, n.Metadata, n.CreatedAt, n.ExpiresAt).Scan(&n.ID)
	if err != nil {
		return Notification{}, db.Classify(err)
	}
	return n, nil
}
