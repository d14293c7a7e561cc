package metrics

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/loykin/keepr/internal/process"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultUsageInterval = 5 * time.Second

var (
	usageCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the app's main process.",
		}, []string{"name"},
	)
	usageRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the app's main process.",
		}, []string{"name"},
	)
	usageThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "keepr",
			Subsystem: "app",
			Name:      "threads",
			Help:      "Thread count of the app's main process.",
		}, []string{"name"},
	)
)

// UsageCollector periodically samples resource usage of running apps and
// keeps the latest sample per app.
type UsageCollector struct {
	interval time.Duration
	logger   *slog.Logger
	sample   func(pid int) (process.Usage, error)

	mu     sync.RWMutex
	latest map[string]process.Usage

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewUsageCollector returns a collector sampling every interval
// (5s when interval is not positive).
func NewUsageCollector(interval time.Duration, logger *slog.Logger) *UsageCollector {
	if interval <= 0 {
		interval = defaultUsageInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageCollector{
		interval: interval,
		logger:   logger,
		sample:   process.Sample,
		latest:   make(map[string]process.Usage),
		stopCh:   make(chan struct{}),
	}
}

// RegisterUsage registers the usage gauges with r.
func RegisterUsage(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{usageCPU, usageRSS, usageThreads} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic collection. pids returns the live pid per app.
func (c *UsageCollector) Start(ctx context.Context, pids func() map[string]int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(pids())
			}
		}
	}()
}

// Stop stops the collection loop.
func (c *UsageCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect samples each pid once and drops apps that are no longer running.
func (c *UsageCollector) Collect(pids map[string]int) {
	results := make(map[string]process.Usage, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		u, err := c.sample(pid)
		if err != nil {
			c.logger.Debug("Failed to sample app usage", "app", name, "pid", pid, "error", err)
			continue
		}
		results[name] = u
	}

	c.mu.Lock()
	for name := range c.latest {
		if _, ok := results[name]; !ok {
			l := prometheus.Labels{"name": name}
			usageCPU.DeletePartialMatch(l)
			usageRSS.DeletePartialMatch(l)
			usageThreads.DeletePartialMatch(l)
		}
	}
	c.latest = results
	c.mu.Unlock()

	for name, u := range results {
		usageCPU.WithLabelValues(name).Set(u.CPUPercent)
		usageRSS.WithLabelValues(name).Set(float64(u.RSSBytes))
		usageThreads.WithLabelValues(name).Set(float64(u.Threads))
	}
}

// Get returns the latest sample for name.
func (c *UsageCollector) Get(name string) (process.Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[name]
	return u, ok
}

// All returns a copy of the latest samples.
func (c *UsageCollector) All() map[string]process.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.latest)
}
