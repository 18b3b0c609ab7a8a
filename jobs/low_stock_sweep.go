package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mise-platform/mise/internal/alerts"
	jobmetrics "github.com/mise-platform/mise/internal/jobs"
)

// Sweeper runs one low-stock pass.
type Sweeper interface {
	Sweep(ctx context.Context) (alerts.SweepReport, error)
}

// LowStockSweepJob runs the Low-Stock Monitor from the queue, for
// deployments that schedule sweeps through the worker.
type LowStockSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLowStockSweepJob initialises the sweep handler.
func NewLowStockSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockSweepJob {
	return &LowStockSweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *LowStockSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("low stock sweep: handler not configured")
	}
	var payload LowStockSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskLowStockSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	report, err := j.Sweeper.Sweep(ctx)
	if errors.Is(err, alerts.ErrSweepContended) {
		logger.Info("sweep already running elsewhere")
		return nil
	}
	if err != nil {
		resultErr = err
		logger.Error("sweep failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed low stock sweep",
		slog.Int("candidates", report.Candidates),
		slog.Int("created", len(report.Created)),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *LowStockSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockSweep))
	}
	return slog.Default().With(slog.String("job", TaskLowStockSweep))
}

func (j *LowStockSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LowStockSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
