package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/ingest"
	"github.com/t77yq/nats-alerts/internal/model"
)

const (
	// SourceCPU is the notice source used for CPU threshold breaches
	SourceCPU = "monitor.cpu"
	// SourceMemory is the notice source used for memory threshold breaches
	SourceMemory = "monitor.memory"
)

var ErrInvalidThreshold = errors.New("threshold must be between 0 and 100")

// NoticeSink accepts notices raised by the watcher. *engine.Engine satisfies it.
type NoticeSink interface {
	Ingest(ctx context.Context, notice model.Notice) error
}

// Sample is one reading of host resource usage, in percent
type Sample struct {
	CPUUsage    float64
	MemoryUsage float64
}

// Sampler reads current resource usage
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a function to the Sampler interface
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

type hostSampler struct {
	window time.Duration
}

// NewHostSampler returns a Sampler backed by gopsutil. CPU usage is averaged
// over window.
func NewHostSampler(window time.Duration) Sampler {
	return &hostSampler{window: window}
}

func (s *hostSampler) Sample(ctx context.Context) (Sample, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, s.window, false)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) == 0 {
		return Sample{}, errors.New("failed to get CPU usage: no readings")
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory usage: %w", err)
	}

	return Sample{CPUUsage: cpuPercent[0], MemoryUsage: memInfo.UsedPercent}, nil
}

// Thresholds configures when the watcher raises a notice. A zero value
// disables the corresponding check.
type Thresholds struct {
	CPU    float64
	Memory float64
}

func (t Thresholds) validate() error {
	var errs []error
	if t.CPU < 0 || t.CPU > 100 {
		errs = append(errs, fmt.Errorf("cpu %.1f: %w", t.CPU, ErrInvalidThreshold))
	}
	if t.Memory < 0 || t.Memory > 100 {
		errs = append(errs, fmt.Errorf("memory %.1f: %w", t.Memory, ErrInvalidThreshold))
	}
	return errors.Join(errs...)
}

// ResourceWatcher samples host resources and raises a critical notice each
// time a threshold is exceeded. Repeated breaches collapse into one alert
// downstream since they share source and host.
type ResourceWatcher struct {
	logger      *zap.Logger
	sink        NoticeSink
	sampler     Sampler
	interval    time.Duration
	thresholds  Thresholds
	hostName    string
	hostAddress string

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Option configures a ResourceWatcher
type Option func(*ResourceWatcher)

// WithSampler replaces the gopsutil sampler
func WithSampler(s Sampler) Option {
	return func(w *ResourceWatcher) {
		w.sampler = s
	}
}

// WithHost sets the origin stamped on raised notices
func WithHost(name, address string) Option {
	return func(w *ResourceWatcher) {
		w.hostName = name
		w.hostAddress = address
	}
}

// NewResourceWatcher creates a watcher that samples every interval
func NewResourceWatcher(sink NoticeSink, interval time.Duration, thresholds Thresholds, logger *zap.Logger, opts ...Option) (*ResourceWatcher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid sample interval %s", interval)
	}
	if err := thresholds.validate(); err != nil {
		return nil, err
	}

	w := &ResourceWatcher{
		logger:     logger.Named("resource-watcher"),
		sink:       sink,
		sampler:    NewHostSampler(time.Second),
		interval:   interval,
		thresholds: thresholds,
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.hostName == "" {
		w.hostName, w.hostAddress = localHost()
	}

	return w, nil
}

// localHost prefers the gopsutil host name and falls back to the OS one
func localHost() (string, string) {
	name, address := ingest.LocalHost()
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		name = info.Hostname
	}
	return name, address
}

// Start launches the sampling loop. It stops when ctx is done or Stop is called.
func (w *ResourceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("resource watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	w.logger.Info("Starting resource watcher",
		zap.Duration("interval", w.interval),
		zap.Float64("cpu_threshold", w.thresholds.CPU),
		zap.Float64("memory_threshold", w.thresholds.Memory))

	go w.loop(ctx, w.stop, w.done)
	return nil
}

// Stop ends the sampling loop and waits for it to exit
func (w *ResourceWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("Resource watcher stopped")
}

func (w *ResourceWatcher) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check takes one sample and raises a notice for each exceeded threshold.
// It returns the notices that were handed to the sink.
func (w *ResourceWatcher) Check(ctx context.Context) []model.Notice {
	sample, err := w.sampler.Sample(ctx)
	if err != nil {
		w.logger.Error("Failed to sample resources", zap.Error(err))
		return nil
	}

	w.logger.Debug("Resources sampled",
		zap.Float64("cpu_usage", sample.CPUUsage),
		zap.Float64("memory_usage", sample.MemoryUsage))

	var raised []model.Notice
	if w.thresholds.CPU > 0 && sample.CPUUsage > w.thresholds.CPU {
		raised = append(raised, w.raise(ctx, SourceCPU, "CPU usage above threshold", "cpu_usage", sample.CPUUsage, w.thresholds.CPU))
	}
	if w.thresholds.Memory > 0 && sample.MemoryUsage > w.thresholds.Memory {
		raised = append(raised, w.raise(ctx, SourceMemory, "Memory usage above threshold", "memory_usage", sample.MemoryUsage, w.thresholds.Memory))
	}
	return raised
}

func (w *ResourceWatcher) raise(ctx context.Context, source, title, metric string, value, threshold float64) model.Notice {
	notice := model.NewNotice(source, model.NoticePriorityCritical, title, []string{
		fmt.Sprintf("%s=%.1f%%", metric, value),
		fmt.Sprintf("threshold=%.1f%%", threshold),
	})
	notice.HostName = w.hostName
	notice.HostAddress = w.hostAddress

	if err := w.sink.Ingest(ctx, notice); err != nil {
		w.logger.Error("Failed to raise resource notice",
			zap.String("source", source),
			zap.Error(err))
	} else {
		w.logger.Warn("Resource threshold exceeded",
			zap.String("source", source),
			zap.Float64(metric, value),
			zap.Float64("threshold", threshold))
	}
	return notice
}
