// Package listener feeds notices and dismiss commands from the bus into the
// alert engine.
package listener

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/bus"
	"github.com/t77yq/nats-alerts/internal/ingest"
)

// CommandHandler executes normalized commands
type CommandHandler interface {
	Handle(ctx context.Context, cmd ingest.Command) error
}

// Listener subscribes to the notice and dismiss subjects
type Listener struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	ingestor *ingest.Ingestor
	handler  CommandHandler

	mu   sync.Mutex
	ctx  context.Context
	subs []*nats.Subscription
}

// NewListener creates a new listener
func NewListener(js nats.JetStreamContext, ingestor *ingest.Ingestor, handler CommandHandler, logger *zap.Logger) *Listener {
	return &Listener{
		logger:   logger.Named("listener"),
		js:       js,
		ingestor: ingestor,
		handler:  handler,
		ctx:      context.Background(),
	}
}

// Start subscribes to inbound subjects. ctx is passed to every command.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx = ctx

	subscriptions := []struct {
		subject string
		durable string
		channel ingest.Channel
	}{
		{subject: bus.NoticeSubjects, durable: "alertd-notices", channel: ingest.ChannelNotice},
		{subject: bus.DismissSubject, durable: "alertd-dismissals", channel: ingest.ChannelDismiss},
	}

	for _, s := range subscriptions {
		channel := s.channel
		sub, err := l.js.Subscribe(s.subject, func(msg *nats.Msg) {
			l.handleMessage(channel, msg)
		},
			nats.Durable(s.durable),
			nats.ManualAck(),
			nats.DeliverNew(),
		)
		if err != nil {
			l.unsubscribeLocked()
			return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
		}
		l.subs = append(l.subs, sub)
	}

	l.logger.Info("Listener started",
		zap.String("notices", bus.NoticeSubjects),
		zap.String("dismissals", bus.DismissSubject))

	return nil
}

// Stop unsubscribes from all subjects
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubscribeLocked()
}

func (l *Listener) unsubscribeLocked() {
	for _, sub := range l.subs {
		if err := sub.Unsubscribe(); err != nil {
			l.logger.Warn("Failed to unsubscribe",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}
	}
	l.subs = nil
}

// handleMessage normalizes and executes one inbound message. The message is
// acked whatever the outcome: failed commands are dropped, not redelivered.
func (l *Listener) handleMessage(channel ingest.Channel, msg *nats.Msg) {
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()

	l.logger.Debug("Received inbound message",
		zap.String("subject", msg.Subject),
		zap.Stringer("channel", channel))

	cmd := l.ingestor.Normalize(channel, msg.Data)
	if err := l.handler.Handle(ctx, cmd); err != nil {
		l.logger.Warn("Dropped inbound command",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}

	if err := msg.Ack(); err != nil {
		l.logger.Error("Failed to acknowledge message", zap.Error(err))
	}
}
