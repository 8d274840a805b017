package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/model"
)

// WebhookConfig describes where digests are POSTed
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookDigestPublisher POSTs each digest as JSON to an HTTP endpoint.
// Requests run in the background; Close waits for those in flight.
type WebhookDigestPublisher struct {
	logger     *zap.Logger
	httpClient *http.Client
	config     WebhookConfig
	wg         sync.WaitGroup
}

// NewWebhookDigestPublisher creates a webhook publisher
func NewWebhookDigestPublisher(config WebhookConfig, logger *zap.Logger) *WebhookDigestPublisher {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookDigestPublisher{
		logger: logger.Named("webhook-publisher"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config: config,
	}
}

// Publish implements DigestPublisher
func (p *WebhookDigestPublisher) Publish(ctx context.Context, digest *model.Digest) {
	data, err := json.Marshal(digest)
	if err != nil {
		p.logger.Error("Failed to marshal digest", zap.Error(err))
		return
	}

	// the caller may return before the request completes
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.send(ctx, data); err != nil {
			p.logger.Error("Failed to deliver digest",
				zap.String("url", p.config.URL),
				zap.Int("alerts", len(digest.Alerts)),
				zap.Error(err))
			return
		}
		p.logger.Debug("Digest delivered",
			zap.String("url", p.config.URL),
			zap.Int("alerts", len(digest.Alerts)))
	}()
}

func (p *WebhookDigestPublisher) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded with status: %d", resp.StatusCode)
	}
	return nil
}

// Close waits for in-flight deliveries
func (p *WebhookDigestPublisher) Close() {
	p.wg.Wait()
}

// Fanout returns a DigestPublisher that hands each digest to every pub in order
func Fanout(pubs ...DigestPublisher) DigestPublisher {
	return PublisherFunc(func(ctx context.Context, digest *model.Digest) {
		for _, pub := range pubs {
			pub.Publish(ctx, digest)
		}
	})
}
