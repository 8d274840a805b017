package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/t77yq/nats-alerts/internal/model"
)

// DigestRecorder is a DigestPublisher that keeps every digest it receives
type DigestRecorder struct {
	mu      sync.Mutex
	digests []*model.Digest
	notify  chan struct{}
}

// NewDigestRecorder creates an empty recorder
func NewDigestRecorder() *DigestRecorder {
	return &DigestRecorder{notify: make(chan struct{}, 1)}
}

// Publish records the digest
func (r *DigestRecorder) Publish(_ context.Context, digest *model.Digest) {
	r.mu.Lock()
	r.digests = append(r.digests, digest)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Digests returns the recorded digests in publish order
func (r *DigestRecorder) Digests() []*model.Digest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Digest(nil), r.digests...)
}

// Len returns the number of recorded digests
func (r *DigestRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.digests)
}

// WaitFor blocks until at least n digests were recorded or the timeout expires
func (r *DigestRecorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if r.Len() >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Len() >= n
		}
	}
}
