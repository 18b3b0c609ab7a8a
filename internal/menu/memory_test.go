package menu

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/shared"
)

type stockRow struct {
	name  string
	unit  string
	stock decimal.Decimal
}

type memoryRepo struct {
	mu      sync.Mutex
	items   map[int64]Item
	stock   map[int64]stockRow
	reqs    map[int64]map[int64]decimal.Decimal
	entries []Entry
	nextID  int64
	failOn  string
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items: make(map[int64]Item),
		stock: make(map[int64]stockRow),
		reqs:  make(map[int64]map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) addItem(id int64, name string) {
	r.items[id] = Item{ID: id, Name: name, Category: "mains", Price: decimal.RequireFromString("12.50"), IsAvailable: true}
}

func (r *memoryRepo) addStock(id int64, name, qty, unit string) {
	r.stock[id] = stockRow{name: name, unit: unit, stock: decimal.RequireFromString(qty)}
}

func (r *memoryRepo) setStock(id int64, qty string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.stock[id]
	row.stock = decimal.RequireFromString(qty)
	r.stock[id] = row
}

func (r *memoryRepo) addRequirement(menuID, invID int64, qty string) {
	if r.reqs[menuID] == nil {
		r.reqs[menuID] = make(map[int64]decimal.Decimal)
	}
	r.reqs[menuID][invID] = decimal.RequireFromString(qty)
}

func (r *memoryRepo) active() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

func (r *memoryRepo) activeLocked() []Entry {
	out := []Entry{}
	for _, e := range r.entries {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

// WithTx serialises transactions like a row lock and restores the snapshot
// when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make(map[int64]Item, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items, r.entries, r.nextID = items, entries, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) effective(it Item) Item {
	var active *Entry
	for _, e := range r.entries {
		if e.MenuItemID == it.ID && e.Active() {
			e := e
			active = &e
		}
	}
	it.EffectiveAvailability = Effective(it.IsAvailable, active)
	return it
}

func (r *memoryRepo) GetMenuItem(ctx context.Context, id int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return r.effective(it), nil
}

func (r *memoryRepo) ListMenu(ctx context.Context) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, r.effective(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) requirementsLocked(menuItemID int64) []RequirementStock {
	var out []RequirementStock
	for invID, qty := range r.reqs[menuItemID] {
		row := r.stock[invID]
		out = append(out, RequirementStock{InventoryItemID: invID, Name: row.name, Unit: row.unit, Required: qty, Available: row.stock})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryItemID < out[j].InventoryItemID })
	return out
}

func (r *memoryRepo) RequirementsWithStock(ctx context.Context, menuItemID int64) ([]RequirementStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requirementsLocked(menuItemID), nil
}

func (r *memoryRepo) ListActiveEntries(ctx context.Context) ([]Entry, error) {
	return r.active(), nil
}

func (r *memoryRepo) MenuItemsWithRequirements(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, reqs := range r.reqs {
		if len(reqs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memoryTx) fail(op string) error {
	if tx.repo.failOn == op {
		return shared.ErrTransient
	}
	return nil
}

func (tx *memoryTx) LockMenuItem(ctx context.Context, id int64) (Item, error) {
	it, ok := tx.repo.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (tx *memoryTx) RequirementsWithStock(ctx context.Context, menuItemID int64) ([]RequirementStock, error) {
	return tx.repo.requirementsLocked(menuItemID), nil
}

func (tx *memoryTx) ActiveEntry(ctx context.Context, menuItemID int64) (*Entry, error) {
	for _, e := range tx.repo.entries {
		if e.MenuItemID == menuItemID && e.Active() {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	if err := tx.fail("InsertEntry"); err != nil {
		return Entry{}, err
	}
	for _, existing := range tx.repo.entries {
		if existing.MenuItemID == e.MenuItemID && existing.Active() {
			return Entry{}, shared.ErrConflict
		}
	}
	tx.repo.nextID++
	e.ID = tx.repo.nextID
	tx.repo.entries = append(tx.repo.entries, e)
	return e, nil
}

func (tx *memoryTx) CloseEntry(ctx context.Context, entryID int64, at time.Time) error {
	for i := range tx.repo.entries {
		if tx.repo.entries[i].ID == entryID && tx.repo.entries[i].Active() {
			tx.repo.entries[i].RemovedAt = &at
			return nil
		}
	}
	return ErrNotEightySixed
}

func (tx *memoryTx) SetAvailability(ctx context.Context, menuItemID int64, available bool, at time.Time) error {
	if err := tx.fail("SetAvailability"); err != nil {
		return err
	}
	it := tx.repo.items[menuItemID]
	it.IsAvailable = available
	it.UpdatedAt = at
	tx.repo.items[menuItemID] = it
	return nil
}

func (tx *memoryTx) ListActiveEntries(ctx context.Context) ([]Entry, error) {
	return tx.repo.activeLocked(), nil
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

func (d *recordingDispatcher) names() []broadcast.Name {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]broadcast.Name, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Name)
	}
	return out
}

type transitionCounter struct {
	mu    sync.Mutex
	count map[string]int
}

func (c *transitionCounter) AddMenuTransition(direction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = make(map[string]int)
	}
	c.count[direction]++
}
