package panel

import (
	"context"

	"github.com/wakegate/wakegate/server/registry"
)

// pterodactylClient reads readiness from the panel's resources endpoint
type pterodactylClient struct {
	*httpBase
}

func (c *pterodactylClient) Dialect() Dialect { return DialectPterodactyl }

func (c *pterodactylClient) PowerServer(ctx context.Context, b registry.Backend, signal Signal) {
	c.power(ctx, b, signal)
}

func (c *pterodactylClient) IsServerOnline(ctx context.Context, b registry.Backend) bool {
	return c.resourcesOnline(ctx, DialectPterodactyl, b)
}
