package orchestrator

import (
	"context"

	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
)

// Gate evaluates pre-connect events.
type Gate struct {
	registry  *registry.Registry
	panel     panel.Client
	tracker   lifecycle.StartingSet
	messenger Messenger
	messages  config.MessagesConfig
	poller    *Poller
}

// PreConnect decides whether player may join server now. A denied player
// on the way to an offline backend triggers a power-on and a poller chain
// that moves them once it is up.
func (g *Gate) PreConnect(ctx context.Context, player Player, server string) Decision {
	d := g.decide(ctx, player, server)
	metrics.GateDecisions.WithLabelValues(d.Label()).Inc()
	logger.Info("[GATE] Pre-connect decision", "player", player.Name, "player_id", player.ID, "server", server, "decision", d.Label(), "pending_id", d.PendingID)
	return d
}

func (g *Gate) decide(ctx context.Context, player Player, server string) Decision {
	vars := map[string]string{"server": server, "player": player.Name}

	b, ok := g.registry.Resolve(server)
	if !ok {
		logger.Warn("[GATE] Server not found in configuration", "server", server)
		g.messenger.Send(ctx, player, g.messages.Render(config.MsgServerNotFound, vars))
		return Decision{Reason: ReasonNotFound}
	}

	// The quota is checked first so an exhausted limit never reaches the panel
	if g.panel.RateLimit().CanMakeRequest() && g.panel.IsServerOnline(ctx, b) {
		g.tracker.ClearStarting(b.Name)
		return Decision{Allow: true}
	}

	if !g.tracker.TryMarkStarting(b.Name) {
		g.messenger.Send(ctx, player, g.messages.Render(config.MsgServerAlreadyStarting, vars))
		return Decision{Reason: ReasonAlreadyStarting}
	}

	// The power-on outlives the hook request
	detached := context.WithoutCancel(ctx)
	g.panel.PowerServer(panel.WithSource(detached, "gate"), b, panel.SignalStart)
	g.messenger.Send(detached, player, g.messages.Render(config.MsgServerStarting, vars))

	pc, err := g.poller.Enqueue(b, player)
	if err != nil {
		// Nothing will clear the mark for us once the poller is gone
		g.tracker.ClearStarting(b.Name)
		logger.Error("[GATE] Failed to start readiness poller", "server", b.Name, "error", err)
		return Decision{Reason: ReasonStarting}
	}
	return Decision{Reason: ReasonStarting, PendingID: pc.ID}
}
