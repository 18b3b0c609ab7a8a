package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mise-platform/mise/internal/integration"
	jobmetrics "github.com/mise-platform/mise/internal/jobs"
)

// ConvergenceRunner reconciles every dependent menu item.
type ConvergenceRunner interface {
	ReconcileAll(ctx context.Context) (integration.BatchReport, error)
}

// CompletionReplayer re-runs order completions whose deduction never landed.
type CompletionReplayer interface {
	ReplayMissed(ctx context.Context, since time.Time) (integration.ReplayReport, error)
}

// ReconcileAllJob closes the window between a committed deduction and its
// reconciles when a process stopped in between. With a Replayer set it first
// re-runs completions from the last ReplayWindow whose deduction failed.
type ReconcileAllJob struct {
	Runner       ConvergenceRunner
	Replayer     CompletionReplayer
	ReplayWindow time.Duration
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

// NewReconcileAllJob initialises the convergence handler.
func NewReconcileAllJob(runner ConvergenceRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileAllJob {
	return &ReconcileAllJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle executes the convergence pass. Per-item failures are logged by the
// runner; the task fails only when every item failed, so asynq retries it.
func (j *ReconcileAllJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("reconcile all: handler not configured")
	}
	var payload ReconcileAllPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskReconcileAll)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskReconcileAll), slog.String("reason", payload.Reason))

	start := time.Now()
	var replayErr error
	if j.Replayer != nil && j.ReplayWindow > 0 {
		replay, err := j.Replayer.ReplayMissed(ctx, start.Add(-j.ReplayWindow))
		if err != nil {
			replayErr = err
			logger.Error("completion replay failed", slog.Any("error", err))
		} else if replay.Orders > 0 {
			logger.Info("replayed order completions",
				slog.Int("orders", replay.Orders),
				slog.Int("replayed", replay.Replayed),
				slog.Int("failed", replay.Failed),
			)
		}
	}

	report, err := j.Runner.ReconcileAll(ctx)
	if err != nil {
		resultErr = err
		logger.Error("convergence pass failed", slog.Any("error", err))
		return resultErr
	}
	if n := len(report.Results); n > 0 && report.Failed == n {
		resultErr = fmt.Errorf("reconcile all: all %d items failed", n)
		return resultErr
	}
	logger.Info("completed convergence pass",
		slog.Int("menu_items", len(report.Results)),
		slog.Int("changed", report.Changed()),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	resultErr = replayErr
	return resultErr
}
