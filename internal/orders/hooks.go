package orders

import "context"

// IntegrationHandler receives committed order completions.
type IntegrationHandler interface {
	HandleOrderCompleted(ctx context.Context, evt OrderCompletedEvent) error
}
