package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mise-platform/mise/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockSweep runs one Low-Stock Monitor pass.
	TaskLowStockSweep = "inventory:low_stock_sweep"
	// TaskReconcileAll reconciles every menu item that depends on stock.
	TaskReconcileAll = "menu:reconcile_all"
	// TaskPurgeNotifications removes expired notifications and idempotency keys.
	TaskPurgeNotifications = "alerts:purge_expired"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockSweepPayload carries scheduling metadata.
type LowStockSweepPayload struct {
	Reason string `json:"reason"`
}

// ReconcileAllPayload carries scheduling metadata.
type ReconcileAllPayload struct {
	Reason string `json:"reason"`
}

// PurgeNotificationsPayload tunes idempotency key retention.
type PurgeNotificationsPayload struct {
	KeyRetentionHours int `json:"key_retention_hours"`
}

// NewLowStockSweepTask constructs the sweep task.
func NewLowStockSweepTask(reason string) (*asynq.Task, error) {
	return newTask(TaskLowStockSweep, LowStockSweepPayload{Reason: reason}, asynq.Timeout(2*time.Minute))
}

// NewReconcileAllTask constructs the convergence task.
func NewReconcileAllTask(reason string) (*asynq.Task, error) {
	return newTask(TaskReconcileAll, ReconcileAllPayload{Reason: reason}, asynq.Timeout(5*time.Minute))
}

// NewPurgeNotificationsTask constructs the purge task.
func NewPurgeNotificationsTask(keyRetention time.Duration) (*asynq.Task, error) {
	hours := int(keyRetention / time.Hour)
	return newTask(TaskPurgeNotifications, PurgeNotificationsPayload{KeyRetentionHours: hours})
}

// NewTaskByName builds a task with default payload, for manual triggering.
func NewTaskByName(name string) (*asynq.Task, bool, error) {
	var (
		task *asynq.Task
		err  error
	)
	switch name {
	case TaskLowStockSweep:
		task, err = NewLowStockSweepTask("manual")
	case TaskReconcileAll:
		task, err = NewReconcileAllTask("manual")
	case TaskPurgeNotifications:
		task, err = NewPurgeNotificationsTask(defaultKeyRetention)
	default:
		return nil, false, nil
	}
	return task, true, err
}

func newTask(typ string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return asynq.NewTask(typ, body, opts...), nil
}
