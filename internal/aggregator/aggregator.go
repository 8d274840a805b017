// Package aggregator periodically republishes a digest of active alerts.
package aggregator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/metrics"
	"github.com/t77yq/nats-alerts/internal/model"
	"github.com/t77yq/nats-alerts/internal/publisher"
	"github.com/t77yq/nats-alerts/internal/storage"
)

// DefaultInterval is used when no interval is configured
const DefaultInterval = 24 * time.Hour

// MaxIntervalMinutes is the longest interval, in minutes, a time.Duration holds
const MaxIntervalMinutes = math.MaxInt64 / int64(time.Minute)

// Aggregator emits a digest of every active alert on a fixed period.
// The timer is armed at construction and released by Stop.
type Aggregator struct {
	logger    *zap.Logger
	store     storage.AlertStore
	publisher publisher.DigestPublisher
	metrics   *metrics.Metrics
	now       func() time.Time

	cron *cron.Cron
	job  cron.Job

	// mu guards the interval and the timer handle; both change together
	mu       sync.Mutex
	interval time.Duration
	entryID  cron.EntryID
	stopped  bool
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithMetrics counts periodic digests and store failures
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithClock overrides the digest timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an aggregator and arms its timer with interval as
// both the initial delay and the period
func NewAggregator(store storage.AlertStore, pub publisher.DigestPublisher, interval time.Duration, logger *zap.Logger, opts ...Option) (*Aggregator, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	logger = logger.Named("aggregator")
	cl := &cronLogger{logger: logger.Named("cron")}

	a := &Aggregator{
		logger:    logger,
		store:     store,
		publisher: pub,
		now:       time.Now,
		cron:      cron.New(cron.WithLogger(cl)),
		interval:  interval,
	}
	for _, opt := range opts {
		opt(a)
	}

	// one wrapped job shared by every schedule, so a tick still running
	// from a replaced timer is never overlapped by the new one
	a.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(a.tick))

	a.entryID = a.cron.Schedule(cron.Every(interval), a.job)
	a.cron.Start()

	a.logger.Info("Aggregator started", zap.Duration("interval", interval))
	return a, nil
}

// Interval returns the current aggregation interval
func (a *Aggregator) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// SetInterval cancels the pending timer and arms a new one whose initial
// delay and period are both d. A tick already running is allowed to finish.
func (a *Aggregator) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrStopped
	}

	a.cron.Remove(a.entryID)
	a.entryID = a.cron.Schedule(cron.Every(d), a.job)
	old := a.interval
	a.interval = d

	a.logger.Info("Aggregation interval changed",
		zap.Duration("old", old),
		zap.Duration("new", d))
	return nil
}

// SetIntervalMinutes is SetInterval expressed in whole minutes
func (a *Aggregator) SetIntervalMinutes(minutes int) error {
	if minutes <= 0 || int64(minutes) > MaxIntervalMinutes {
		return ErrInvalidInterval
	}
	return a.SetInterval(time.Duration(minutes) * time.Minute)
}

// Stop cancels the timer and waits for a running tick to return.
// No tick fires after Stop returns.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.cron.Remove(a.entryID)
	ctx := a.cron.Stop()
	a.mu.Unlock()

	<-ctx.Done()
	a.logger.Info("Aggregator stopped")
}

// RunOnce queries active alerts and publishes them as one digest.
// Nothing is published when no alert is active.
func (a *Aggregator) RunOnce(ctx context.Context) {
	alerts, err := a.store.Query(ctx, storage.ByStatus(model.AlertStatusActive))
	if err != nil {
		a.metrics.StoreError("query")
		a.logger.Error("Failed to query active alerts, skipping digest", zap.Error(err))
		return
	}

	if len(alerts) == 0 {
		a.logger.Debug("No active alerts, skipping digest")
		return
	}

	a.publisher.Publish(ctx, model.NewDigest(a.now(), alerts...))
	a.metrics.Digest(metrics.TriggerPeriodic)

	a.logger.Info("Periodic digest published", zap.Int("alerts", len(alerts)))
}

func (a *Aggregator) tick() {
	a.RunOnce(context.Background())
}

// armed returns the number of scheduled timers
func (a *Aggregator) armed() int {
	return len(a.cron.Entries())
}
