package publisher

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/bus"
	"github.com/t77yq/nats-alerts/internal/model"
)

// DigestPublisher hands a digest to the bus without waiting for delivery.
// Failures are logged by the implementation and never retried.
type DigestPublisher interface {
	Publish(ctx context.Context, digest *model.Digest)
}

// NATSDigestPublisher publishes digests on a JetStream subject
type NATSDigestPublisher struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	subject string
}

// NewNATSDigestPublisher creates a publisher for bus.DigestSubject
func NewNATSDigestPublisher(js nats.JetStreamContext, logger *zap.Logger) *NATSDigestPublisher {
	return &NATSDigestPublisher{
		logger:  logger.Named("digest-publisher"),
		js:      js,
		subject: bus.DigestSubject,
	}
}

// Publish implements DigestPublisher. The ack is not awaited; asynchronous
// failures surface through the JetStream context's error handler.
func (p *NATSDigestPublisher) Publish(ctx context.Context, digest *model.Digest) {
	data, err := json.Marshal(digest)
	if err != nil {
		p.logger.Error("Failed to marshal digest", zap.Error(err))
		return
	}

	if _, err := p.js.PublishAsync(p.subject, data); err != nil {
		p.logger.Error("Failed to publish digest",
			zap.String("subject", p.subject),
			zap.Int("alerts", len(digest.Alerts)),
			zap.Error(err))
		return
	}

	p.logger.Debug("Digest published",
		zap.String("subject", p.subject),
		zap.Int("alerts", len(digest.Alerts)))
}

// PublisherFunc adapts a function to DigestPublisher
type PublisherFunc func(ctx context.Context, digest *model.Digest)

// Publish implements DigestPublisher
func (f PublisherFunc) Publish(ctx context.Context, digest *model.Digest) {
	f(ctx, digest)
}
