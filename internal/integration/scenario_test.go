package integration

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mise-platform/mise/internal/alerts"
	"github.com/mise-platform/mise/internal/inventory"
	"github.com/mise-platform/mise/internal/menu"
)

func (k *kitchen) setPar(id int64, par string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	it := k.stock[id]
	it.ParLevel = dec(par)
	k.stock[id] = it
}

func TestEngineBroadcastsEachTransitionOnce(t *testing.T) {
	h := newHarness(t, "0.3")
	ctx := context.Background()

	_, err := h.completion.OnOrderCompleted(ctx, completed(520, line(burgerID, 1)))
	require.NoError(t, err)
	require.Len(t, h.dispatcher.menuStates(burgerID), 1)
	require.Len(t, h.dispatcher.menuStates(cheeseID), 1)

	_, err = h.inventory.Restock(ctx, inventory.RestockInput{InventoryItemID: beefID, Quantity: dec("1")})
	require.NoError(t, err)
	require.Len(t, h.dispatcher.menuStates(burgerID), 2)
	require.Len(t, h.dispatcher.menuStates(cheeseID), 2)
}

func TestServiceReconcilerIsNotPublishedTwice(t *testing.T) {
	h := newHarness(t, "10")
	ctx := context.Background()
	p := NewRestockProcessor(RestockConfig{
		Ledger: h.inventory, Catalog: h.menu, Reconciler: h.menu, Dispatcher: h.dispatcher, Logger: discardLogger(),
	})

	h.kitchen.mu.Lock()
	beef := h.kitchen.stock[beefID]
	beef.CurrentStock = dec("0.1")
	h.kitchen.stock[beefID] = beef
	h.kitchen.mu.Unlock()

	report, err := p.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Changed())
	require.Len(t, h.dispatcher.menuStates(burgerID), 1)
	require.Len(t, h.dispatcher.menuStates(cheeseID), 1)
}

// A dinner rush drains the beef: five burgers need 1.25 lb against 1 lb on
// hand. Stock floors at zero, both beef dishes are 86'd, the next sweep
// raises a critical alert and a restock brings the dishes back.
func TestDinnerRushEightySixesAndRestockRestores(t *testing.T) {
	h := newHarness(t, "1.0")
	h.kitchen.setPar(beefID, "0.5")
	ctx := context.Background()

	report, err := h.completion.OnOrderCompleted(ctx, completed(530, line(burgerID, 5)))
	require.NoError(t, err)
	require.True(t, h.kitchen.stockOf(beefID).IsZero())
	require.True(t, h.kitchen.stockOf(bunID).Equal(dec("35")))
	for _, c := range report.Consumed {
		if c.InventoryItemID == beefID {
			require.True(t, c.Requested.Equal(dec("1.25")))
			require.True(t, c.Floored())
		}
	}

	burger := resultFor(t, report.BatchReport, burgerID)
	require.Equal(t, menu.TransitionEightySixed, burger.Transition)
	require.False(t, burger.Available)
	avail, err := h.menu.EffectiveAvailability(ctx, burgerID)
	require.NoError(t, err)
	require.False(t, avail)

	states := h.dispatcher.menuStates(burgerID)
	require.Len(t, states, 1)
	require.False(t, states[0].Available)
	require.Equal(t, "insufficient Ground Beef (need 0.25 lb, have 0 lb)", states[0].Reason)
	for _, e := range h.kitchen.activeEntries() {
		require.True(t, e.IsAutoGenerated)
		require.Contains(t, e.Reason, "Ground Beef")
	}

	monitor := alerts.NewMonitor(h.kitchen.alertsPort(), h.dispatcher, alerts.MonitorConfig{
		CriticalPercent: decimal.NewFromInt(25),
		Logger:          discardLogger(),
	})
	sweep, err := monitor.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Candidates)
	require.Len(t, sweep.Created, 1)
	notice := sweep.Created[0]
	require.Equal(t, beefID, notice.InventoryItemID)
	require.Equal(t, alerts.SeverityCritical, notice.Severity)
	require.True(t, notice.Metadata.Percentage.IsZero())
	require.Contains(t, notice.Message, "Ground Beef")
	require.Len(t, h.kitchen.alertsPort().stored(), 1)

	_, err = h.inventory.Restock(ctx, inventory.RestockInput{InventoryItemID: beefID, Quantity: dec("2.0")})
	require.NoError(t, err)
	require.True(t, h.kitchen.stockOf(beefID).Equal(dec("2")))
	require.Empty(t, h.kitchen.activeEntries())

	for _, id := range []int64{burgerID, cheeseID} {
		states := h.dispatcher.menuStates(id)
		require.Len(t, states, 2)
		require.False(t, states[0].Available)
		require.True(t, states[1].Available)
		require.Empty(t, states[1].Reason)
	}
}
