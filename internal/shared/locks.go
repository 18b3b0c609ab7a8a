package shared

import "fmt"

// LowStockSweepLockKey is the redis key held while a low-stock sweep runs.
func LowStockSweepLockKey() string {
	return "mise:alerts:low-stock:sweep:lock"
}

// Advisory lock namespaces, passed as the first argument of the two-key
// pg_advisory_xact_lock form.
const (
	AdvisoryLowStock int32 = 86_01
)

// LowStockAdvisoryKey returns the advisory lock pair that serialises the
// dedup check for one inventory item.
func LowStockAdvisoryKey(inventoryItemID int64) (int32, int32) {
	return AdvisoryLowStock, int32(inventoryItemID)
}

// OrderCompletedKeyPrefix prefixes every order completion idempotency key.
const OrderCompletedKeyPrefix = "order-completed:"

// OrderCompletedKey is the idempotency key of an order completion.
func OrderCompletedKey(orderID int64) string {
	return fmt.Sprintf("%s%d", OrderCompletedKeyPrefix, orderID)
}
