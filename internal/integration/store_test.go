package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mise-platform/mise/internal/alerts"
	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/menu"
	"github.com/mise-platform/mise/internal/orders"
	"github.com/mise-platform/mise/internal/shared"
)

// kitchen is an in-memory store shared by the inventory and menu ports, so
// a deduction made through one is visible to reconciles made through the
// other. One mutex serialises every transaction.
type kitchen struct {
	mu        sync.Mutex
	stock     map[int64]inventory.Item
	menuItems map[int64]menu.Item
	reqs      map[int64]map[int64]decimal.Decimal
	entries   []menu.Entry
	movements []inventory.Movement
	nextEntry int64
	failMenu  map[int64]bool
	failStock map[int64]bool
	notices   []alerts.Notification
}

func newKitchen() *kitchen {
	return &kitchen{
		stock:     make(map[int64]inventory.Item),
		menuItems: make(map[int64]menu.Item),
		reqs:      make(map[int64]map[int64]decimal.Decimal),
		failMenu:  make(map[int64]bool),
		failStock: make(map[int64]bool),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (k *kitchen) addIngredient(id int64, name, qty, par, unit string) {
	k.stock[id] = inventory.Item{ID: id, Name: name, CurrentStock: dec(qty), ParLevel: dec(par), Unit: unit}
}

func (k *kitchen) addDish(id int64, name string) {
	k.menuItems[id] = menu.Item{ID: id, Name: name, Category: "mains", Price: dec("14.00"), IsAvailable: true}
}

func (k *kitchen) addRequirement(menuID, invID int64, qty string) {
	if k.reqs[menuID] == nil {
		k.reqs[menuID] = make(map[int64]decimal.Decimal)
	}
	k.reqs[menuID][invID] = dec(qty)
}

func (k *kitchen) stockOf(id int64) decimal.Decimal {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stock[id].CurrentStock
}

func (k *kitchen) setFailStock(id int64, fail bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failStock[id] = fail
}

func (k *kitchen) activeEntries() []menu.Entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.activeLocked()
}

func (k *kitchen) activeLocked() []menu.Entry {
	out := []menu.Entry{}
	for _, e := range k.entries {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

func (k *kitchen) activeFor(menuItemID int64) *menu.Entry {
	for _, e := range k.entries {
		if e.MenuItemID == menuItemID && e.Active() {
			e := e
			return &e
		}
	}
	return nil
}

func (k *kitchen) snapshot() func() {
	stock := make(map[int64]inventory.Item, len(k.stock))
	for id, it := range k.stock {
		stock[id] = it
	}
	items := make(map[int64]menu.Item, len(k.menuItems))
	for id, it := range k.menuItems {
		items[id] = it
	}
	entries := append([]menu.Entry(nil), k.entries...)
	moves := append([]inventory.Movement(nil), k.movements...)
	next := k.nextEntry
	return func() {
		k.stock, k.menuItems, k.entries, k.movements, k.nextEntry = stock, items, entries, moves, next
	}
}

func (k *kitchen) inventoryPort() *inventoryPort { return &inventoryPort{k: k} }
func (k *kitchen) menuPort() *menuPort           { return &menuPort{k: k} }
func (k *kitchen) alertsPort() *alertsPort       { return &alertsPort{k: k} }

// inventoryPort implements inventory.RepositoryPort.
type inventoryPort struct{ k *kitchen }

func (p *inventoryPort) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	restore := p.k.snapshot()
	if err := fn(ctx, &inventoryTx{k: p.k}); err != nil {
		restore()
		return err
	}
	return nil
}

func (p *inventoryPort) ListItems(ctx context.Context) ([]inventory.Item, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	out := make([]inventory.Item, 0, len(p.k.stock))
	for _, it := range p.k.stock {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *inventoryPort) GetItem(ctx context.Context, id int64) (inventory.Item, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	it, ok := p.k.stock[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return it, nil
}

func (p *inventoryPort) ListMovements(ctx context.Context, id int64, limit int) ([]inventory.Movement, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	var out []inventory.Movement
	for _, m := range p.k.movements {
		if m.InventoryItemID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *inventoryPort) RequirementsFor(ctx context.Context, menuItemIDs []int64) ([]inventory.Requirement, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	var out []inventory.Requirement
	for _, menuID := range menuItemIDs {
		for invID, qty := range p.k.reqs[menuID] {
			out = append(out, inventory.Requirement{MenuItemID: menuID, InventoryItemID: invID, QuantityPerUnit: qty})
		}
	}
	return out, nil
}

func (p *inventoryPort) MenuItemsUsing(ctx context.Context, inventoryItemIDs []int64) ([]int64, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	want := make(map[int64]bool, len(inventoryItemIDs))
	for _, id := range inventoryItemIDs {
		want[id] = true
	}
	var ids []int64
	for menuID, reqs := range p.k.reqs {
		for invID := range reqs {
			if want[invID] {
				ids = append(ids, menuID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type inventoryTx struct{ k *kitchen }

func (tx *inventoryTx) LockItem(ctx context.Context, id int64) (inventory.Item, error) {
	it, ok := tx.k.stock[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return it, nil
}

func (tx *inventoryTx) IncrementStock(ctx context.Context, id int64, qty decimal.Decimal, at time.Time) (inventory.Item, error) {
	it, ok := tx.k.stock[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	it.CurrentStock = it.CurrentStock.Add(qty)
	it.UpdatedAt = at
	tx.k.stock[id] = it
	return it, nil
}

func (tx *inventoryTx) DecrementStock(ctx context.Context, id int64, qty decimal.Decimal, at time.Time) (inventory.Consumption, error) {
	if tx.k.failStock[id] {
		return inventory.Consumption{}, fmt.Errorf("decrement stock %d: %w", id, shared.ErrTransient)
	}
	it, ok := tx.k.stock[id]
	if !ok {
		return inventory.Consumption{}, inventory.ErrItemNotFound
	}
	c := inventory.Consumption{InventoryItemID: id, Name: it.Name, Unit: it.Unit, Requested: qty, Before: it.CurrentStock}
	it.CurrentStock = decimal.Max(it.CurrentStock.Sub(qty), decimal.Zero)
	it.UpdatedAt = at
	tx.k.stock[id] = it
	c.After = it.CurrentStock
	return c, nil
}

func (tx *inventoryTx) SetStock(ctx context.Context, id int64, stock decimal.Decimal, at time.Time) error {
	it, ok := tx.k.stock[id]
	if !ok {
		return inventory.ErrItemNotFound
	}
	it.CurrentStock = stock
	it.UpdatedAt = at
	tx.k.stock[id] = it
	return nil
}

func (tx *inventoryTx) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	m.ID = int64(len(tx.k.movements) + 1)
	tx.k.movements = append(tx.k.movements, m)
	return m.ID, nil
}

func (tx *inventoryTx) MenuItemExists(ctx context.Context, id int64) (bool, error) {
	_, ok := tx.k.menuItems[id]
	return ok, nil
}

func (tx *inventoryTx) UpsertRequirement(ctx context.Context, req inventory.Requirement) error {
	tx.k.addRequirement(req.MenuItemID, req.InventoryItemID, req.QuantityPerUnit.String())
	return nil
}

func (tx *inventoryTx) DeleteRequirement(ctx context.Context, menuItemID, inventoryItemID int64) (bool, error) {
	if _, ok := tx.k.reqs[menuItemID][inventoryItemID]; !ok {
		return false, nil
	}
	delete(tx.k.reqs[menuItemID], inventoryItemID)
	return true, nil
}

// menuPort implements menu.RepositoryPort.
type menuPort struct{ k *kitchen }

func (p *menuPort) WithTx(ctx context.Context, fn func(context.Context, menu.TxRepository) error) error {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	restore := p.k.snapshot()
	if err := fn(ctx, &menuTx{k: p.k}); err != nil {
		restore()
		return err
	}
	return nil
}

func (p *menuPort) effective(it menu.Item) menu.Item {
	it.EffectiveAvailability = menu.Effective(it.IsAvailable, p.k.activeFor(it.ID))
	return it
}

func (p *menuPort) GetMenuItem(ctx context.Context, id int64) (menu.Item, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	it, ok := p.k.menuItems[id]
	if !ok {
		return menu.Item{}, menu.ErrItemNotFound
	}
	return p.effective(it), nil
}

func (p *menuPort) ListMenu(ctx context.Context) ([]menu.Item, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	out := make([]menu.Item, 0, len(p.k.menuItems))
	for _, it := range p.k.menuItems {
		out = append(out, p.effective(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (k *kitchen) requirementsLocked(menuItemID int64) []menu.RequirementStock {
	var out []menu.RequirementStock
	for invID, qty := range k.reqs[menuItemID] {
		row := k.stock[invID]
		out = append(out, menu.RequirementStock{
			InventoryItemID: invID, Name: row.Name, Unit: row.Unit,
			Required: qty, Available: row.CurrentStock,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryItemID < out[j].InventoryItemID })
	return out
}

func (p *menuPort) RequirementsWithStock(ctx context.Context, menuItemID int64) ([]menu.RequirementStock, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return p.k.requirementsLocked(menuItemID), nil
}

func (p *menuPort) ListActiveEntries(ctx context.Context) ([]menu.Entry, error) {
	return p.k.activeEntries(), nil
}

func (p *menuPort) MenuItemsWithRequirements(ctx context.Context) ([]int64, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	var ids []int64
	for id, reqs := range p.k.reqs {
		if len(reqs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type menuTx struct{ k *kitchen }

func (tx *menuTx) LockMenuItem(ctx context.Context, id int64) (menu.Item, error) {
	if tx.k.failMenu[id] {
		return menu.Item{}, fmt.Errorf("lock menu item %d: %w", id, shared.ErrTransient)
	}
	it, ok := tx.k.menuItems[id]
	if !ok {
		return menu.Item{}, menu.ErrItemNotFound
	}
	return it, nil
}

func (tx *menuTx) RequirementsWithStock(ctx context.Context, menuItemID int64) ([]menu.RequirementStock, error) {
	return tx.k.requirementsLocked(menuItemID), nil
}

func (tx *menuTx) ActiveEntry(ctx context.Context, menuItemID int64) (*menu.Entry, error) {
	return tx.k.activeFor(menuItemID), nil
}

func (tx *menuTx) InsertEntry(ctx context.Context, e menu.Entry) (menu.Entry, error) {
	if tx.k.activeFor(e.MenuItemID) != nil {
		return menu.Entry{}, shared.ErrConflict
	}
	tx.k.nextEntry++
	e.ID = tx.k.nextEntry
	tx.k.entries = append(tx.k.entries, e)
	return e, nil
}

func (tx *menuTx) CloseEntry(ctx context.Context, entryID int64, at time.Time) error {
	for i := range tx.k.entries {
		if tx.k.entries[i].ID == entryID && tx.k.entries[i].Active() {
			tx.k.entries[i].RemovedAt = &at
			return nil
		}
	}
	return menu.ErrNotEightySixed
}

func (tx *menuTx) SetAvailability(ctx context.Context, menuItemID int64, available bool, at time.Time) error {
	it := tx.k.menuItems[menuItemID]
	it.IsAvailable = available
	it.UpdatedAt = at
	tx.k.menuItems[menuItemID] = it
	return nil
}

func (tx *menuTx) ListActiveEntries(ctx context.Context) ([]menu.Entry, error) {
	return tx.k.activeLocked(), nil
}

// alertsPort implements alerts.MonitorRepository over the kitchen stock.
type alertsPort struct{ k *kitchen }

func (p *alertsPort) Candidates(ctx context.Context) ([]alerts.Candidate, error) {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	var out []alerts.Candidate
	for _, it := range p.k.stock {
		if it.ParLevel.IsPositive() && it.CurrentStock.LessThanOrEqual(it.ParLevel) {
			out = append(out, alerts.Candidate{
				InventoryItemID: it.ID, Name: it.Name, Unit: it.Unit,
				CurrentStock: it.CurrentStock, ParLevel: it.ParLevel,
			})
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

func (p *alertsPort) WithTx(ctx context.Context, fn func(context.Context, alerts.TxRepository) error) error {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	saved := append([]alerts.Notification(nil), p.k.notices...)
	if err := fn(ctx, &alertsTx{k: p.k}); err != nil {
		p.k.notices = saved
		return err
	}
	return nil
}

func (p *alertsPort) stored() []alerts.Notification {
	p.k.mu.Lock()
	defer p.k.mu.Unlock()
	return append([]alerts.Notification(nil), p.k.notices...)
}

type alertsTx struct{ k *kitchen }

func (tx *alertsTx) LockItem(ctx context.Context, inventoryItemID int64) error {
	if _, ok := tx.k.stock[inventoryItemID]; !ok {
		return inventory.ErrItemNotFound
	}
	return nil
}

func (tx *alertsTx) HasRecent(ctx context.Context, inventoryItemID int64, since time.Time) (bool, error) {
	for _, n := range tx.k.notices {
		if n.InventoryItemID == inventoryItemID && !n.Dismissed && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *alertsTx) Insert(ctx context.Context, n alerts.Notification) (alerts.Notification, error) {
	n.ID = int64(len(tx.k.notices) + 1)
	tx.k.notices = append(tx.k.notices, n)
	return n, nil
}

// completionLog implements CompletionSource: an order is undeducted while
// its completion key is unclaimed.
type completionLog struct {
	mu     sync.Mutex
	idem   *memoryIdempotency
	orders []orders.OrderCompletedEvent
}

func (c *completionLog) record(evt orders.OrderCompletedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, evt)
}

func (c *completionLog) UndeductedCompletions(ctx context.Context, since time.Time, limit int) ([]orders.OrderCompletedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []orders.OrderCompletedEvent
	for _, evt := range c.orders {
		if evt.CompletedAt.Before(since) || c.idem.claimed(shared.OrderCompletedKey(evt.OrderID)) {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			break
		}
	}
	return out, nil
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

func (d *recordingDispatcher) count(name broadcast.Name) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// menuStates returns the menu-state-changed payloads for one item in order.
func (d *recordingDispatcher) menuStates(menuItemID int64) []broadcast.MenuStatePayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []broadcast.MenuStatePayload
	for _, e := range d.events {
		if p, ok := e.Payload.(broadcast.MenuStatePayload); ok && e.Name == broadcast.MenuStateChanged && p.MenuItemID == menuItemID {
			out = append(out, p)
		}
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrAlreadyProcessed
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) claimed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
