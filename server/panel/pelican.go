package panel

import (
	"context"
	"errors"
	"time"

	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/server/ping"
	"github.com/wakegate/wakegate/server/registry"
)

// pelicanClient prefers pinging the game port directly, which also catches
// servers the panel reports as running before they accept players.
type pelicanClient struct {
	*httpBase
	pingTimeout time.Duration
}

func (c *pelicanClient) Dialect() Dialect { return DialectPelican }

func (c *pelicanClient) PowerServer(ctx context.Context, b registry.Backend, signal Signal) {
	c.power(ctx, b, signal)
}

func (c *pelicanClient) IsServerOnline(ctx context.Context, b registry.Backend) bool {
	if b.Address == "" {
		return c.resourcesOnline(ctx, DialectPelican, b)
	}
	if c.closed.Load() {
		logger.Warn("[PANEL] Online check refused", "server", b.Name, "error", ErrClientClosed)
		return false
	}

	st, err := ping.Ping(ctx, b.Address, c.pingTimeout)
	if err != nil {
		result := "offline"
		if errors.Is(err, ping.ErrMalformedResponse) {
			result = "error"
		}
		metrics.PanelOnlineChecks.WithLabelValues(string(DialectPelican), result).Inc()
		logger.Debug("[PANEL] Ping failed", "server", b.Name, "address", b.Address, "error", err)
		return false
	}
	metrics.PanelOnlineChecks.WithLabelValues(string(DialectPelican), "online").Inc()
	logger.Debug("[PANEL] Ping ok", "server", b.Name, "players", st.Players.Online, "latency", st.Latency)
	return true
}
