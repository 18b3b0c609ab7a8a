package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mise-platform/mise/internal/broadcast"
	"github.com/mise-platform/mise/internal/shared"
)

// MonitorRepository is the persistence the monitor sweeps through.
type MonitorRepository interface {
	Candidates(ctx context.Context) ([]Candidate, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Dispatcher publishes committed events.
type Dispatcher interface {
	Dispatch(events ...broadcast.Event)
}

// AlertRecorder counts raised notifications.
type AlertRecorder interface {
	AddLowStockAlerts(severity string, count int)
}

// Locker guards a sweep across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// MonitorConfig tunes the Low-Stock Monitor.
type MonitorConfig struct {
	Interval        time.Duration
	DedupWindow     time.Duration
	Expiry          time.Duration
	CriticalPercent decimal.Decimal
	Roles           []string
	Locker          Locker
	Metrics         AlertRecorder
	Logger          *slog.Logger
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Hour
	}
	if c.Expiry <= 0 {
		c.Expiry = 24 * time.Hour
	}
	if !c.CriticalPercent.IsPositive() {
		c.CriticalPercent = decimal.NewFromInt(25)
	}
	if len(c.Roles) == 0 {
		c.Roles = []string{"manager", "kitchen"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Monitor periodically raises low-stock notifications. Sweeps never overlap:
// the timer, manual triggers and the job runner all go through Sweep.
type Monitor struct {
	repo       MonitorRepository
	dispatcher Dispatcher
	cfg        MonitorConfig
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      func() time.Time

	sweepMu sync.Mutex

	lifeMu  sync.Mutex
	running bool
	trigger chan struct{}
	halt    chan struct{}
	done    chan struct{}
}

// NewMonitor constructs the monitor. dispatcher may be nil.
func NewMonitor(repo MonitorRepository, dispatcher Dispatcher, cfg MonitorConfig) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     cfg.Logger.With(slog.String("module", "alerts")),
		tracer:     otel.Tracer("mise/alerts"),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the timer loop. An initial sweep runs immediately. Calling
// Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.trigger = make(chan struct{}, 1)
	m.halt = make(chan struct{})
	m.done = make(chan struct{})
	m.trigger <- struct{}{}

	go m.loop(context.WithoutCancel(ctx), m.trigger, m.halt, m.done)
	m.logger.Info("low-stock monitor started", slog.Duration("interval", m.cfg.Interval))
}

func (m *Monitor) loop(ctx context.Context, trigger <-chan struct{}, halt <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-halt:
			return
		case <-ticker.C:
		case <-trigger:
		}
		if _, err := m.sweep(ctx, halt); err != nil {
			if errors.Is(err, ErrSweepContended) {
				m.logger.Info("low-stock sweep skipped, another instance is sweeping")
				continue
			}
			m.logger.Error("low-stock sweep failed", slog.Any("error", err))
		}
	}
}

// TriggerSweep asks the running loop for an extra sweep. It reports false
// when the monitor is stopped or a sweep is already queued.
func (m *Monitor) TriggerSweep() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if !m.running {
		return false
	}
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop halts the loop. An in-flight sweep finishes its current item and
// then stops. Stop waits for that or for ctx to end.
func (m *Monitor) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	if !m.running {
		m.lifeMu.Unlock()
		return nil
	}
	m.running = false
	close(m.halt)
	done := m.done
	m.lifeMu.Unlock()

	select {
	case <-done:
		m.logger.Info("low-stock monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one pass synchronously.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	m.lifeMu.Lock()
	halt := m.halt
	if !m.running {
		halt = nil
	}
	m.lifeMu.Unlock()
	return m.sweep(ctx, halt)
}

const sweepLockTTL = 2 * time.Minute

func (m *Monitor) sweep(ctx context.Context, halt <-chan struct{}) (SweepReport, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "alerts.low_stock_sweep")
	defer span.End()

	report := SweepReport{StartedAt: m.clock()}
	if m.cfg.Locker != nil {
		key := shared.LowStockSweepLockKey()
		ok, err := m.cfg.Locker.TryLock(ctx, key, sweepLockTTL)
		if err != nil {
			m.logger.Warn("sweep lock unavailable, sweeping without it", slog.Any("error", err))
		} else if !ok {
			return report, ErrSweepContended
		} else {
			defer func() {
				if err := m.cfg.Locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					m.logger.Warn("release sweep lock", slog.Any("error", err))
				}
			}()
		}
	}

	candidates, err := m.repo.Candidates(ctx)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	bySeverity := make(map[Severity]int)
	for _, c := range candidates {
		if halted(halt) {
			report.Halted = true
			break
		}
		n, created, err := m.raise(ctx, c)
		if err != nil {
			report.Failed++
			m.logger.Error("low-stock notification failed",
				slog.Int64("inventory_item_id", c.InventoryItemID),
				slog.Any("error", err),
			)
			continue
		}
		if !created {
			report.Skipped++
			continue
		}
		report.Created = append(report.Created, n)
		bySeverity[n.Severity]++
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(n.Event())
		}
	}

	if m.dispatcher != nil {
		m.dispatcher.Dispatch(broadcast.NewLowStockSummary(report.Candidates, m.cfg.Roles, m.clock()))
	}
	if m.cfg.Metrics != nil {
		for sev, count := range bySeverity {
			m.cfg.Metrics.AddLowStockAlerts(string(sev), count)
		}
	}
	m.logger.Info("low-stock sweep complete",
		slog.Int("candidates", report.Candidates),
		slog.Int("created", len(report.Created)),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Bool("halted", report.Halted),
	)
	return report, nil
}

// raise records a notification for c unless one was raised recently. The
// item's work runs detached from ctx so a halt never splits a transaction.
func (m *Monitor) raise(ctx context.Context, c Candidate) (Notification, bool, error) {
	ctx = context.WithoutCancel(ctx)
	now := m.clock()
	n := Notification{
		InventoryItemID: c.InventoryItemID,
		Severity:        c.Severity(m.cfg.CriticalPercent),
		Message:         c.Message(),
		TargetRoles:     append([]string(nil), m.cfg.Roles...),
		Metadata:        c.metadata(),
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.cfg.Expiry),
	}
	created := false
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockItem(ctx, c.InventoryItemID); err != nil {
			return err
		}
		recent, err := tx.HasRecent(ctx, c.InventoryItemID, now.Add(-m.cfg.DedupWindow))
		if err != nil || recent {
			return err
		}
		n, err = tx.Insert(ctx, n)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return Notification{}, false, err
	}
	return n, created, nil
}

func halted(halt <-chan struct{}) bool {
	if halt == nil {
		return false
	}
	select {
	case <-halt:
		return true
	default:
		return false
	}
}
