// Package engine deduplicates notices into alerts and drives the alert
// lifecycle. Every ingest and dismiss runs inside one critical section: the
// lookup of the active alert and the write that follows must not interleave
// with another command, whatever its dedup key.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/ingest"
	"github.com/t77yq/nats-alerts/internal/metrics"
	"github.com/t77yq/nats-alerts/internal/model"
	"github.com/t77yq/nats-alerts/internal/publisher"
	"github.com/t77yq/nats-alerts/internal/storage"
)

// Engine is the alert dedup and lifecycle state machine
type Engine struct {
	mu        sync.Mutex
	logger    *zap.Logger
	store     storage.AlertStore
	publisher publisher.DigestPublisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records engine metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source used for dismissal and digest times
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new alert engine
func NewEngine(store storage.AlertStore, pub publisher.DigestPublisher, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:    logger.Named("alert-engine"),
		store:     store,
		publisher: pub,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lock() {
	start := time.Now()
	e.mu.Lock()
	e.metrics.ObserveLockWait(time.Since(start).Seconds())
}

// Handle executes a normalized inbound command. Rejected commands are dropped.
func (e *Engine) Handle(ctx context.Context, cmd ingest.Command) error {
	switch c := cmd.(type) {
	case ingest.RaiseNotice:
		return e.Ingest(ctx, c.Notice)
	case ingest.Dismiss:
		return e.Dismiss(ctx, c.ID, c.DismissedBy)
	case ingest.Rejected:
		e.metrics.Notice("rejected")
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

// Ingest squashes the notice into the active alert for its dedup key, or
// creates a new alert and announces it with a single-alert digest.
func (e *Engine) Ingest(ctx context.Context, notice model.Notice) error {
	if notice.Source == "" {
		e.metrics.Notice("rejected")
		return ErrMissingSource
	}

	e.lock()
	defer e.mu.Unlock()

	p := storage.ActiveBySourceAndHost(notice.Source, notice.HostName)
	existing, err := e.store.Query(ctx, p)
	if err != nil {
		return e.storeFailure("query", err,
			zap.String("source", notice.Source),
			zap.String("host_name", notice.HostName))
	}

	if len(existing) > 0 {
		alert := existing[0]
		alert.Squash(notice)
		if err := e.store.Upsert(ctx, alert); err != nil {
			return e.storeFailure("upsert", err, zap.String("alert_id", alert.ID))
		}

		e.metrics.Notice("squashed")
		e.logger.Debug("Squashed notice into alert",
			zap.String("alert_id", alert.ID),
			zap.String("notice_id", notice.ID),
			zap.String("source", alert.Source),
			zap.String("host_name", alert.HostName),
			zap.Int64("count", alert.Count))
		return nil
	}

	alert := model.NewAlertFromNotice(notice)
	if err := e.store.Upsert(ctx, alert); err != nil {
		return e.storeFailure("upsert", err, zap.String("alert_id", alert.ID))
	}
	e.metrics.Notice("created")

	e.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("notice_id", notice.ID),
		zap.String("source", alert.Source),
		zap.String("host_name", alert.HostName),
		zap.Stringer("priority", alert.Priority),
		zap.String("title", alert.Title))

	e.publisher.Publish(ctx, model.NewDigest(e.now(), alert))
	e.metrics.Digest(metrics.TriggerFirstOccurrence)

	return nil
}

// Dismiss retires the alert with the given id. An empty dismissedBy or an
// unknown id is a no-op.
func (e *Engine) Dismiss(ctx context.Context, id, dismissedBy string) error {
	if dismissedBy == "" {
		e.metrics.Dismissal("anonymous")
		e.logger.Debug("Ignoring dismissal without dismissedBy", zap.String("alert_id", id))
		return nil
	}

	e.lock()
	defer e.mu.Unlock()

	found, err := e.store.Query(ctx, storage.ByID(id))
	if err != nil {
		return e.storeFailure("query", err, zap.String("alert_id", id))
	}
	if len(found) == 0 {
		e.metrics.Dismissal("unknown")
		e.logger.Debug("Could not find alert for dismissal", zap.String("alert_id", id))
		return nil
	}

	alert := found[0]
	if err := alert.Dismiss(dismissedBy, e.now()); err != nil {
		if errors.Is(err, model.ErrAlreadyDismissed) {
			e.metrics.Dismissal("already_dismissed")
			e.logger.Debug("Alert already dismissed",
				zap.String("alert_id", id),
				zap.String("dismissed_by", alert.DismissedBy))
			return nil
		}
		return err
	}

	if err := e.store.Upsert(ctx, alert); err != nil {
		return e.storeFailure("upsert", err, zap.String("alert_id", id))
	}
	e.metrics.Dismissal("dismissed")

	e.logger.Info("Alert dismissed",
		zap.String("alert_id", alert.ID),
		zap.String("dismissed_by", dismissedBy),
		zap.Int64("count", alert.Count))

	return nil
}

// storeFailure logs and counts a store error; the operation is abandoned
func (e *Engine) storeFailure(op string, err error, fields ...zap.Field) error {
	e.metrics.StoreError(op)
	e.logger.Error("Alert store "+op+" failed, dropping operation",
		append(fields, zap.Error(err))...)
	return fmt.Errorf("failed to %s alert: %w", op, err)
}
