package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mise-platform/mise/internal/jobs"
)

const defaultKeyRetention = 7 * 24 * time.Hour

// NotificationPurger removes expired notifications.
type NotificationPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// KeyCleaner removes old idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PurgeNotificationsJob performs nightly upkeep.
type PurgeNotificationsJob struct {
	Notifications NotificationPurger
	Keys          KeyCleaner
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// NewPurgeNotificationsJob initialises the purge handler. keys may be nil.
func NewPurgeNotificationsJob(notifications NotificationPurger, keys KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeNotificationsJob {
	return &PurgeNotificationsJob{Notifications: notifications, Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle executes the purge.
func (j *PurgeNotificationsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Notifications == nil {
		return errors.New("purge notifications: handler not configured")
	}
	var payload PurgeNotificationsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := time.Duration(payload.KeyRetentionHours) * time.Hour
	if retention <= 0 {
		retention = defaultKeyRetention
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskPurgeNotifications)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskPurgeNotifications))

	purged, err := j.Notifications.PurgeExpired(ctx)
	if err != nil {
		resultErr = err
		logger.Error("purge notifications", slog.Any("error", err))
		return resultErr
	}
	var keys int64
	if j.Keys != nil {
		keys, err = j.Keys.Cleanup(ctx, retention)
		if err != nil {
			resultErr = err
			logger.Error("cleanup idempotency keys", slog.Any("error", err))
			return resultErr
		}
	}
	logger.Info("completed purge",
		slog.Int64("notifications", purged),
		slog.Int64("idempotency_keys", keys),
	)
	return resultErr
}
