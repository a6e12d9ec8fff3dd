package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
)

// IdleScheduler powers off backends nobody is playing on. Every trigger
// schedules its own check; checks are never cancelled and simply re-look
// at the backend when they fire.
type IdleScheduler struct {
	registry *registry.Registry
	panel    panel.Client
	tracker  lifecycle.StartingSet
	sched    *scheduler.Scheduler
	pending  atomic.Int64
}

// OnDisconnect is called after a player left the proxy from lastServer
func (s *IdleScheduler) OnDisconnect(player Player, lastServer string) {
	s.vacated(player, lastServer, "disconnect")
}

// OnSwitch is called after a player moved away from previousServer
func (s *IdleScheduler) OnSwitch(player Player, previousServer string) {
	s.vacated(player, previousServer, "switch")
}

func (s *IdleScheduler) vacated(player Player, server, event string) {
	if server == "" {
		return
	}
	b, ok := s.registry.Resolve(server)
	if !ok {
		return
	}
	if !s.panel.IsServerEmpty(b.Name) {
		return
	}
	logger.Debug("[IDLE] Backend vacated", "server", b.Name, "player", player.Name, "event", event)
	s.Schedule(b)
}

// Schedule queues a shutdown check after the backend's idle timeout. It
// reports false when idle shutdown is disabled for the backend.
func (s *IdleScheduler) Schedule(b registry.Backend) bool {
	if !b.IdleShutdownEnabled() {
		return false
	}
	delay := time.Duration(b.IdleTimeout) * time.Second

	metrics.IdleTasksPending.Set(float64(s.pending.Add(1)))
	err := s.sched.After(delay, "idle:"+b.Name, func() {
		metrics.IdleTasksPending.Set(float64(s.pending.Add(-1)))
		s.check(b.Name)
	})
	if err != nil {
		metrics.IdleTasksPending.Set(float64(s.pending.Add(-1)))
		logger.Warn("[IDLE] Could not schedule shutdown", "server", b.Name, "error", err)
		return false
	}
	logger.Info("[IDLE] Shutdown scheduled", "server", b.Name, "in", delay)
	return true
}

// Pending returns the number of scheduled checks that have not fired
func (s *IdleScheduler) Pending() int {
	return int(s.pending.Load())
}

func (s *IdleScheduler) check(name string) {
	b, ok := s.registry.Resolve(name)
	if !ok || !b.IdleShutdownEnabled() {
		metrics.IdleShutdowns.WithLabelValues("cancelled").Inc()
		logger.Info("[IDLE] Shutdown cancelled, backend no longer managed", "server", name)
		return
	}
	if !s.panel.IsServerEmpty(name) {
		metrics.IdleShutdowns.WithLabelValues("cancelled").Inc()
		logger.Info("[IDLE] Shutdown cancelled, players present", "server", name)
		return
	}

	if s.tracker != nil && s.tracker.IsStarting(name) {
		metrics.IdleShutdowns.WithLabelValues("cancelled").Inc()
		logger.Info("[IDLE] Shutdown cancelled, backend is starting", "server", name)
		return
	}

	s.panel.PowerServer(panel.WithSource(context.Background(), "idle"), b, panel.SignalStop)
	metrics.IdleShutdowns.WithLabelValues("stopped").Inc()
	logger.Info("[IDLE] Shutting down server", "server", name)
}
