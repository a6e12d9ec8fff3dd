package metrics

import (
	"context"
	"time"

	"github.com/wakegate/wakegate/logger"
)

// BackendStat is a point-in-time view of one backend
type BackendStat struct {
	Name     string
	Sessions int
}

// StatsProvider reports the current backends and their session counts
type StatsProvider interface {
	BackendStats() []BackendStat
}

// Collector periodically refreshes the backend gauges
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	known    map[string]struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
		known:    make(map[string]struct{}),
	}
}

// Start runs the collection loop until ctx is cancelled or Stop is called
func (c *Collector) Start(ctx context.Context) {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Info("[METRICS] collector started", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop signals the collector to stop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.provider.BackendStats()
	BackendsRegistered.Set(float64(len(stats)))

	seen := make(map[string]struct{}, len(stats))
	for _, s := range stats {
		BackendSessions.WithLabelValues(s.Name).Set(float64(s.Sessions))
		seen[s.Name] = struct{}{}
	}
	// Drop series for backends removed by a reload.
	for name := range c.known {
		if _, ok := seen[name]; !ok {
			BackendSessions.DeleteLabelValues(name)
		}
	}
	c.known = seen
}
