package alerts

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/shared"
)

type memoryRepo struct {
	mu            sync.Mutex
	items         map[int64]Candidate
	notifications []Notification
	failOn        int64
	candidatesErr error
	onInsert      func(inventoryItemID int64)
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]Candidate)}
}

func (r *memoryRepo) addItem(id int64, name, stock, par, unit string) {
	r.items[id] = Candidate{
		InventoryItemID: id, Name: name, Category: "protein", Unit: unit,
		CurrentStock: decimal.RequireFromString(stock), ParLevel: decimal.RequireFromString(par),
	}
}

func (r *memoryRepo) stored() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

func (r *memoryRepo) Candidates(ctx context.Context) ([]Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.candidatesErr != nil {
		return nil, r.candidatesErr
	}
	var out []Candidate
	for _, c := range r.items {
		if c.ParLevel.IsPositive() && c.CurrentStock.LessThanOrEqual(c.ParLevel) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri := out[i].CurrentStock.Div(out[i].ParLevel)
		rj := out[j].CurrentStock.Div(out[j].ParLevel)
		if ri.Equal(rj) {
			return out[i].InventoryItemID < out[j].InventoryItemID
		}
		return ri.LessThan(rj)
	})
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	snapshot := append([]Notification(nil), r.notifications...)
	r.mu.Unlock()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.mu.Lock()
		r.notifications = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (tx *memoryTx) LockItem(ctx context.Context, inventoryItemID int64) error {
	if tx.repo.failOn == inventoryItemID {
		return shared.ErrTransient
	}
	return nil
}

func (tx *memoryTx) HasRecent(ctx context.Context, inventoryItemID int64, since time.Time) (bool, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, n := range tx.repo.notifications {
		if n.InventoryItemID == inventoryItemID && !n.Dismissed && n.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) Insert(ctx context.Context, n Notification) (Notification, error) {
	if tx.repo.onInsert != nil {
		tx.repo.onInsert(n.InventoryItemID)
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	n.ID = int64(len(tx.repo.notifications) + 1)
	tx.repo.notifications = append(tx.repo.notifications, n)
	return n, nil
}

func (r *memoryRepo) ListActive(ctx context.Context, role string, now time.Time) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Notification{}
	for _, n := range r.notifications {
		if n.Dismissed || !n.ExpiresAt.After(now) {
			continue
		}
		if role != "" && !contains(n.TargetRoles, role) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *memoryRepo) Dismiss(ctx context.Context, id int64, actor *int64, at time.Time) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notifications {
		n := &r.notifications[i]
		if n.ID != id {
			continue
		}
		if !n.Dismissed {
			n.Dismissed, n.DismissedAt, n.DismissedBy = true, &at, actor
		}
		return *n, nil
	}
	return Notification{}, ErrNotificationNotFound
}

func (r *memoryRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.notifications[:0]
	var purged int64
	for _, n := range r.notifications {
		if !n.ExpiresAt.After(now) {
			purged++
			continue
		}
		kept = append(kept, n)
	}
	r.notifications = kept
	return purged, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (d *recordingDispatcher) Dispatch(events ...broadcast.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
}

func (d *recordingDispatcher) all() []broadcast.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]broadcast.Event(nil), d.events...)
}

type alertCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *alertCounter) AddLowStockAlerts(severity string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[severity] += count
}

type stubLocker struct {
	held     bool
	unlocked int
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	return true, nil
}

func (l *stubLocker) Unlock(ctx context.Context, key string) error {
	l.unlocked++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// kitchenRepo seeds beef at 10% of par, buns at 50%, lettuce above par and
// an untracked garnish with no par.
func kitchenRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.addItem(1, "Ground Beef", "0.5", "5", "lb")
	repo.addItem(2, "Brioche Bun", "10", "20", "each")
	repo.addItem(3, "Lettuce", "8", "4", "head")
	repo.addItem(4, "Parsley", "0", "0", "bunch")
	return repo
}

func newTestMonitor(repo MonitorRepository, d Dispatcher, cfg MonitorConfig) *Monitor {
	cfg.Logger = discardLogger()
	return NewMonitor(repo, d, cfg)
}
