package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubFiltersByAudience(t *testing.T) {
	hub := NewHub(discardLogger())
	guest, unsubGuest := hub.Subscribe(4, nil)
	defer unsubGuest()
	cook, unsubCook := hub.Subscribe(4, []string{"kitchen"})
	defer unsubCook()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, NewMenuStateChanged(MenuStatePayload{MenuItemID: 7}, time.Time{})))
	require.NoError(t, hub.Publish(ctx, NewInventoryAlert(InventoryAlertPayload{ItemID: 7}, []string{"kitchen"}, time.Time{})))

	require.Len(t, guest.Events, 1)
	require.Len(t, cook.Events, 2)
	evt := <-guest.Events
	require.Equal(t, MenuStateChanged, evt.Name)
}

func TestHubSkipsLaggingSubscriber(t *testing.T) {
	hub := NewHub(discardLogger())
	sub, unsubscribe := hub.Subscribe(1, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, NewLowStockSummary(i, nil, time.Time{})))
	}
	require.Len(t, sub.Events, 1)

	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, hub.Len())
	_, open := <-sub.Events
	require.True(t, open)
	_, open = <-sub.Events
	require.False(t, open)
}

func TestHubCloseRejectsPublish(t *testing.T) {
	hub := NewHub(discardLogger())
	sub, _ := hub.Subscribe(1, nil)
	hub.Close()
	_, open := <-sub.Events
	require.False(t, open)
	require.ErrorIs(t, hub.Publish(context.Background(), NewLowStockSummary(0, nil, time.Time{})), ErrSinkClosed)
}
