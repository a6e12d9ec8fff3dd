package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
)

var ErrUnknownServer = errors.New("server not found in configuration")

// Sessions is what the orchestrator needs from the session registry
type Sessions interface {
	SessionView
	Count(server string) int
}

// retainer is implemented by trackers that can forget removed backends
type retainer interface {
	Retain(keep func(name string) bool) []string
}

type Deps struct {
	Registry  *registry.Registry
	Panel     panel.Client
	Tracker   lifecycle.StartingSet
	Sessions  Sessions
	Connector Connector
	Messenger Messenger
	Scheduler *scheduler.Scheduler
	Messages  config.MessagesConfig
	// Recheck is the delay between readiness checks after the first one
	Recheck time.Duration
}

// Orchestrator ties the gate, the readiness poller and the idle scheduler
// to one registry and one panel client.
type Orchestrator struct {
	registry *registry.Registry
	panel    panel.Client
	tracker  lifecycle.StartingSet
	sessions Sessions
	sched    *scheduler.Scheduler

	Gate   *Gate
	Poller *Poller
	Idle   *IdleScheduler
}

func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case d.Panel == nil:
		return nil, errors.New("orchestrator: panel client is required")
	case d.Sessions == nil:
		return nil, errors.New("orchestrator: sessions are required")
	case d.Connector == nil || d.Messenger == nil:
		return nil, errors.New("orchestrator: connector and messenger are required")
	case d.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	}
	if d.Tracker == nil {
		d.Tracker = lifecycle.NewTracker()
	}
	if d.Recheck <= 0 {
		d.Recheck = time.Second
	}

	idle := &IdleScheduler{registry: d.Registry, panel: d.Panel, tracker: d.Tracker, sched: d.Scheduler}
	poller := &Poller{
		registry:  d.Registry,
		panel:     d.Panel,
		tracker:   d.Tracker,
		sessions:  d.Sessions,
		connector: d.Connector,
		messenger: d.Messenger,
		messages:  d.Messages,
		sched:     d.Scheduler,
		idle:      idle,
		recheck:   d.Recheck,
		chains:    make(map[string]*PendingConnection),
	}
	gate := &Gate{
		registry:  d.Registry,
		panel:     d.Panel,
		tracker:   d.Tracker,
		messenger: d.Messenger,
		messages:  d.Messages,
		poller:    poller,
	}
	metrics.BackendsRegistered.Set(float64(d.Registry.Len()))

	return &Orchestrator{
		registry: d.Registry,
		panel:    d.Panel,
		tracker:  d.Tracker,
		sessions: d.Sessions,
		sched:    d.Scheduler,
		Gate:     gate,
		Poller:   poller,
		Idle:     idle,
	}, nil
}

func (o *Orchestrator) PreConnect(ctx context.Context, player Player, server string) Decision {
	return o.Gate.PreConnect(ctx, player, server)
}

func (o *Orchestrator) OnDisconnect(player Player, lastServer string) {
	o.Idle.OnDisconnect(player, lastServer)
}

func (o *Orchestrator) OnSwitch(player Player, previousServer string) {
	o.Idle.OnSwitch(player, previousServer)
}

// Reload swaps in a new backend table. Backends that survive keep their
// Starting mark; removed ones lose it and their chains end on the next tick.
func (o *Orchestrator) Reload(backends []registry.Backend) registry.Diff {
	diff := o.registry.Replace(backends)
	metrics.BackendsRegistered.Set(float64(o.registry.Len()))

	if r, ok := o.tracker.(retainer); ok && len(diff.Removed) > 0 {
		dropped := r.Retain(func(name string) bool {
			_, ok := o.registry.Resolve(name)
			return ok
		})
		if len(dropped) > 0 {
			logger.Info("[REGISTRY] Cleared starting state of removed backends", "servers", dropped)
		}
	}

	logger.Info("[REGISTRY] Backends reloaded", "total", o.registry.Len(), "added", diff.Added, "removed", diff.Removed, "changed", diff.Changed)
	return diff
}

// BackendStatus is the admin view of one backend
type BackendStatus struct {
	registry.Backend
	Sessions int        `json:"sessions"`
	Starting bool       `json:"starting"`
	Online   *bool      `json:"online,omitempty"`
	Since    *time.Time `json:"starting_since,omitempty"`
}

// Status lists every registered backend without contacting the panel
func (o *Orchestrator) Status() []BackendStatus {
	since := o.startingSince()
	all := o.registry.All()
	out := make([]BackendStatus, 0, len(all))
	for _, b := range all {
		out = append(out, o.status(b, since))
	}
	return out
}

// ServerStatus returns one backend including a live online check
func (o *Orchestrator) ServerStatus(ctx context.Context, name string) (BackendStatus, error) {
	b, ok := o.registry.Resolve(name)
	if !ok {
		return BackendStatus{}, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	st := o.status(b, o.startingSince())
	online := o.panel.IsServerOnline(ctx, b)
	st.Online = &online
	return st, nil
}

func (o *Orchestrator) status(b registry.Backend, since map[string]time.Time) BackendStatus {
	st := BackendStatus{
		Backend:  b,
		Sessions: o.sessions.Count(b.Name),
		Starting: o.tracker.IsStarting(b.Name),
	}
	if t, ok := since[b.Name]; ok {
		st.Since = &t
	}
	return st
}

func (o *Orchestrator) startingSince() map[string]time.Time {
	tr, ok := o.tracker.(*lifecycle.Tracker)
	if !ok {
		return nil
	}
	out := make(map[string]time.Time)
	for _, e := range tr.Snapshot() {
		out[e.Name] = e.Since
	}
	return out
}

// Power sends a manual power command, bypassing the gate
func (o *Orchestrator) Power(ctx context.Context, name string, signal panel.Signal) error {
	b, ok := o.registry.Resolve(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	o.panel.PowerServer(panel.WithSource(context.WithoutCancel(ctx), "admin"), b, signal)
	return nil
}

// Pending returns the live poller chains
func (o *Orchestrator) Pending() []PendingConnection {
	return o.Poller.Pending()
}

func (o *Orchestrator) RateLimit() panel.RateLimitSnapshot {
	return o.panel.RateLimit().Snapshot()
}

// BackendStats feeds the periodic metrics collector
func (o *Orchestrator) BackendStats() []metrics.BackendStat {
	names := o.registry.Names()
	out := make([]metrics.BackendStat, 0, len(names))
	for _, name := range names {
		out = append(out, metrics.BackendStat{Name: name, Sessions: o.sessions.Count(name)})
	}
	return out
}

// Stop ends all chains at their next tick. The scheduler is owned by the
// caller and stopped separately.
func (o *Orchestrator) Stop() {
	o.Poller.Stop()
	logger.Info("[GATE] Orchestrator stopped", "pending_chains", len(o.Poller.Pending()), "idle_checks", o.Idle.Pending())
}
