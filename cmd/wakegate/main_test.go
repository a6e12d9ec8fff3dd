package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/orchestrator"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/proxybridge"
	"github.com/wakegate/wakegate/server/registry"
	"github.com/wakegate/wakegate/server/sessions"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type idlePanel struct{ rl *panel.RateLimit }

func (idlePanel) PowerServer(context.Context, registry.Backend, panel.Signal) {}
func (idlePanel) IsServerOnline(context.Context, registry.Backend) bool       { return true }
func (idlePanel) IsServerEmpty(string) bool                                   { return true }
func (p idlePanel) RateLimit() *panel.RateLimit                               { return p.rl }
func (idlePanel) Dialect() panel.Dialect                                      { return panel.DialectPterodactyl }
func (idlePanel) Shutdown()                                                   {}

const baseConfig = `
[panel]
url = "https://panel.example.com"
api_key = "ptlc_abc"

[http_api]
api_key = "secret"
`

func TestReloaderSwapsBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wakegate.toml")
	require.NoError(t, os.WriteFile(path, []byte(baseConfig+`
[servers.lobby]
id = "aaaa1111"
`), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	sched := scheduler.New(scheduler.NewFakeClock(testEpoch), 1)
	sched.Start()
	defer sched.Stop()

	reg := registry.New(cfg.Backends())
	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:  reg,
		Panel:     idlePanel{rl: panel.NewRateLimit(false)},
		Sessions:  sessions.New(),
		Connector: proxybridge.LogConnector{},
		Messenger: proxybridge.LogMessenger{},
		Scheduler: sched,
		Messages:  cfg.Messages,
	})
	require.NoError(t, err)
	defer orch.Stop()

	reload := newReloader(path, orch)

	require.NoError(t, os.WriteFile(path, []byte(baseConfig+`
[servers.survival]
id = "bbbb2222"
`), 0644))
	okBefore := testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("ok"))
	diff, err := reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"survival"}, diff.Added)
	assert.Equal(t, []string{"lobby"}, diff.Removed)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("ok")))

	// A broken file keeps the current table
	require.NoError(t, os.WriteFile(path, []byte("[panel]\n"), 0644))
	errBefore := testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("error"))
	_, err = reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, errBefore+1, testutil.ToFloat64(metrics.ConfigReloads.WithLabelValues("error")))
	_, ok := reg.Resolve("survival")
	assert.True(t, ok)
}
