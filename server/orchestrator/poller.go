package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
)

// Poller waits for woken backends to come online and then completes the
// connections that were held back. Each pending connection is a chain of
// one-shot scheduler tasks; a chain has no attempt cap.
type Poller struct {
	registry  *registry.Registry
	panel     panel.Client
	tracker   lifecycle.StartingSet
	sessions  SessionView
	connector Connector
	messenger Messenger
	messages  config.MessagesConfig
	sched     *scheduler.Scheduler
	idle      *IdleScheduler
	recheck   time.Duration

	mu      sync.Mutex
	chains  map[string]*PendingConnection
	stopped atomic.Bool
}

// Enqueue starts a chain for player. The first check runs after the
// backend's join delay.
func (p *Poller) Enqueue(b registry.Backend, player Player) (*PendingConnection, error) {
	if p.stopped.Load() {
		return nil, scheduler.ErrStopped
	}
	pc := &PendingConnection{
		ID:         uuid.NewString(),
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Server:     b.Name,
		CreatedAt:  p.sched.Clock().Now(),
	}

	p.mu.Lock()
	p.chains[pc.ID] = pc
	metrics.PollerChainsActive.Set(float64(len(p.chains)))
	p.mu.Unlock()

	delay := time.Duration(b.JoinDelay) * time.Second
	if err := p.schedule(pc, delay); err != nil {
		p.end(pc, "schedule failed")
		return nil, err
	}
	logger.Debug("[POLLER] Chain started", "id", pc.ID, "server", b.Name, "player", player.Name, "first_check_in", delay)
	return pc, nil
}

func (p *Poller) schedule(pc *PendingConnection, d time.Duration) error {
	return p.sched.After(d, "poll:"+pc.Server, func() { p.tick(pc.ID) })
}

func (p *Poller) tick(id string) {
	p.mu.Lock()
	pc, ok := p.chains[id]
	if ok {
		pc.Attempts++
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	b, ok := p.registry.Resolve(pc.Server)
	if !ok {
		p.tracker.ClearStarting(pc.Server)
		metrics.PollerChecks.WithLabelValues("removed").Inc()
		p.end(pc, "backend removed")
		return
	}
	if p.stopped.Load() {
		p.end(pc, "poller stopped")
		return
	}

	ctx := context.Background()
	if !p.panel.RateLimit().CanMakeRequest() {
		metrics.PollerChecks.WithLabelValues("rate_limited").Inc()
		p.reschedule(pc)
		return
	}
	if !p.panel.IsServerOnline(ctx, b) {
		metrics.PollerChecks.WithLabelValues("offline").Inc()
		p.reschedule(pc)
		return
	}

	metrics.PollerChecks.WithLabelValues("online").Inc()
	p.complete(ctx, pc, b)
	p.end(pc, "completed")
}

func (p *Poller) reschedule(pc *PendingConnection) {
	if err := p.schedule(pc, p.recheck); err != nil {
		logger.Warn("[POLLER] Could not reschedule check", "id", pc.ID, "server", pc.Server, "error", err)
		p.end(pc, "schedule failed")
		return
	}
	logger.Debug("[POLLER] Backend not ready, checking again", "server", pc.Server, "attempt", pc.Attempts, "in", p.recheck)
}

// complete runs once the backend is confirmed online
func (p *Poller) complete(ctx context.Context, pc *PendingConnection, b registry.Backend) {
	current, ok := p.sessions.CurrentServer(pc.PlayerID)
	switch {
	case !ok:
		p.mu.Lock()
		pc.Detached = true
		p.mu.Unlock()
		logger.Info("[POLLER] Player left before backend was ready", "player", pc.PlayerName, "server", b.Name)
		if p.panel.IsServerEmpty(b.Name) {
			p.idle.Schedule(b)
		}
	case current == b.Name:
		logger.Debug("[POLLER] Player already on backend", "player", pc.PlayerName, "server", b.Name)
	default:
		p.connector.Connect(ctx, pc.player(), b.Name)
		p.messenger.Send(ctx, pc.player(), p.messages.Render(config.MsgServerReady, map[string]string{"server": b.Name, "player": pc.PlayerName}))
		logger.Info("[POLLER] Backend ready, moving player", "player", pc.PlayerName, "server", b.Name, "attempts", pc.Attempts)
	}
	p.tracker.ClearStarting(b.Name)
}

func (p *Poller) end(pc *PendingConnection, why string) {
	p.mu.Lock()
	delete(p.chains, pc.ID)
	metrics.PollerChainsActive.Set(float64(len(p.chains)))
	p.mu.Unlock()
	logger.Debug("[POLLER] Chain ended", "id", pc.ID, "server", pc.Server, "reason", why)
}

// Pending returns a copy of every live chain, oldest first
func (p *Poller) Pending() []PendingConnection {
	p.mu.Lock()
	out := make([]PendingConnection, 0, len(p.chains))
	for _, pc := range p.chains {
		out = append(out, *pc)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stop makes every chain end at its next tick
func (p *Poller) Stop() {
	p.stopped.Store(true)
}
