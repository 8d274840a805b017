package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/engine"
	"github.com/t77yq/nats-alerts/internal/model"
	"github.com/t77yq/nats-alerts/internal/storage"
	"github.com/t77yq/nats-alerts/internal/testutil"
)

type recordingSink struct {
	mu      sync.Mutex
	notices []model.Notice
	err     error
}

func (s *recordingSink) Ingest(_ context.Context, n model.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return s.err
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notices)
}

func fixedSampler(cpu, memory float64) Sampler {
	return SamplerFunc(func(context.Context) (Sample, error) {
		return Sample{CPUUsage: cpu, MemoryUsage: memory}, nil
	})
}

func TestNewResourceWatcher_Validation(t *testing.T) {
	sink := &recordingSink{}

	_, err := NewResourceWatcher(sink, 0, Thresholds{CPU: 90}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewResourceWatcher(sink, time.Second, Thresholds{CPU: 120, Memory: -1}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Contains(t, err.Error(), "cpu")
	assert.Contains(t, err.Error(), "memory")
}

func TestResourceWatcher_Check(t *testing.T) {
	tests := []struct {
		name       string
		cpu, mem   float64
		thresholds Thresholds
		sources    []string
	}{
		{"below thresholds", 10, 20, Thresholds{CPU: 90, Memory: 90}, nil},
		{"cpu breach", 95, 20, Thresholds{CPU: 90, Memory: 90}, []string{SourceCPU}},
		{"memory breach", 10, 95, Thresholds{CPU: 90, Memory: 90}, []string{SourceMemory}},
		{"both", 95, 95, Thresholds{CPU: 90, Memory: 90}, []string{SourceCPU, SourceMemory}},
		{"disabled check", 95, 95, Thresholds{Memory: 90}, []string{SourceMemory}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			w, err := NewResourceWatcher(sink, time.Second, tt.thresholds, zap.NewNop(),
				WithSampler(fixedSampler(tt.cpu, tt.mem)),
				WithHost("H1", "10.0.0.1"))
			require.NoError(t, err)

			raised := w.Check(context.Background())
			var sources []string
			for _, n := range raised {
				sources = append(sources, n.Source)
				assert.Equal(t, model.NoticePriorityCritical, n.Priority)
				assert.Equal(t, "H1", n.HostName)
				assert.Equal(t, "10.0.0.1", n.HostAddress)
				assert.NotEmpty(t, n.ID)
				assert.Len(t, n.Details, 2)
			}
			assert.Equal(t, tt.sources, sources)
			assert.Equal(t, len(tt.sources), sink.Len())
		})
	}
}

func TestResourceWatcher_SamplerFailure(t *testing.T) {
	sink := &recordingSink{}
	w, err := NewResourceWatcher(sink, time.Second, Thresholds{CPU: 1}, zap.NewNop(),
		WithSampler(SamplerFunc(func(context.Context) (Sample, error) {
			return Sample{}, errors.New("no procfs")
		})))
	require.NoError(t, err)

	assert.Empty(t, w.Check(context.Background()))
	assert.Zero(t, sink.Len())
}

func TestResourceWatcher_SinkFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("store down")}
	w, err := NewResourceWatcher(sink, time.Second, Thresholds{CPU: 50}, zap.NewNop(),
		WithSampler(fixedSampler(99, 0)))
	require.NoError(t, err)

	assert.Len(t, w.Check(context.Background()), 1)
}

func TestResourceWatcher_RepeatedBreachesSquash(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	digests := testutil.NewDigestRecorder()
	eng := engine.NewEngine(store, digests, zap.NewNop())

	w, err := NewResourceWatcher(eng, 20*time.Millisecond, Thresholds{CPU: 50}, zap.NewNop(),
		WithSampler(fixedSampler(99, 0)),
		WithHost("H1", "10.0.0.1"))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		alerts, err := store.Query(context.Background(), storage.ActiveBySourceAndHost(SourceCPU, "H1"))
		return err == nil && len(alerts) == 1 && alerts[0].Count >= 3
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	w.Stop()

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, digests.Len())
}

func TestHostSampler(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping host sampling test")
	}

	sample, err := NewHostSampler(100 * time.Millisecond).Sample(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sample.CPUUsage, 0.0)
	assert.Greater(t, sample.MemoryUsage, 0.0)
}
