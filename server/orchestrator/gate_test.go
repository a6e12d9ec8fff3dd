package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/server/panel"
)

func TestPreConnectUnknownServer(t *testing.T) {
	h := newHarness(t, nil)

	d := h.orch.PreConnect(context.Background(), steve, "skyblock")

	assert.False(t, d.Allow)
	assert.Equal(t, ReasonNotFound, d.Reason)
	assert.Equal(t, []string{"[wakegate] Server not found in configuration: skyblock"}, h.messenger.messages(steve.ID))
	assert.Empty(t, h.panel.powerCalls(panel.SignalStart))
	assert.Equal(t, int32(0), h.panel.checks.Load())
}

func TestPreConnectOnlineAllowsAndClearsStarting(t *testing.T) {
	h := newHarness(t, nil)
	h.panel.setOnline("survival", true)
	require.True(t, h.tracker.TryMarkStarting("survival"))

	metrics.GateDecisions.Reset()
	d := h.orch.PreConnect(context.Background(), steve, "survival")

	assert.True(t, d.Allow)
	assert.Equal(t, "allow", d.Label())
	assert.False(t, h.tracker.IsStarting("survival"))
	assert.Empty(t, h.panel.powerCalls(panel.SignalStart))
	assert.Empty(t, h.messenger.messages(steve.ID), "admitting is silent")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GateDecisions.WithLabelValues("allow")))
}

func TestPreConnectOfflineStartsBackend(t *testing.T) {
	h := newHarness(t, nil)

	d := h.orch.PreConnect(context.Background(), steve, "survival")

	assert.False(t, d.Allow)
	assert.Equal(t, ReasonStarting, d.Reason)
	assert.NotEmpty(t, d.PendingID)
	assert.True(t, h.tracker.IsStarting("survival"))
	assert.Equal(t, []powerCall{{"survival", panel.SignalStart, "gate"}}, h.panel.powerCalls(panel.SignalStart))
	assert.Contains(t, h.messenger.messages(steve.ID)[0], "Starting server: survival")

	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, d.PendingID, pending[0].ID)
	assert.Equal(t, steve.ID, pending[0].PlayerID)
}

func TestPreConnectAlreadyStarting(t *testing.T) {
	h := newHarness(t, nil)

	h.orch.PreConnect(context.Background(), steve, "survival")
	d := h.orch.PreConnect(context.Background(), alex, "survival")

	assert.Equal(t, ReasonAlreadyStarting, d.Reason)
	assert.Empty(t, d.PendingID)
	assert.Len(t, h.panel.powerCalls(panel.SignalStart), 1)
	assert.Equal(t, []string{"[wakegate] survival is already starting"}, h.messenger.messages(alex.ID))
	assert.Len(t, h.orch.Pending(), 1)
}

func TestPreConnectExhaustedRateLimitSkipsOnlineCheck(t *testing.T) {
	h := newHarness(t, nil)
	h.panel.setOnline("survival", true)
	h.panel.setRemaining(0)

	d := h.orch.PreConnect(context.Background(), steve, "survival")

	assert.Equal(t, ReasonStarting, d.Reason)
	assert.Equal(t, int32(0), h.panel.checks.Load())
}

// Two concurrent joins for the same offline backend. With separate check
// and add steps both callers win; the tracker's compare-and-set lets one.
func TestConcurrentPreConnectPowersOnOnce(t *testing.T) {
	run := func(t *testing.T, h *harness) int {
		var wg sync.WaitGroup
		for _, p := range []Player{steve, alex} {
			wg.Add(1)
			go func(p Player) {
				defer wg.Done()
				h.orch.PreConnect(context.Background(), p, "survival")
			}(p)
		}
		wg.Wait()
		return len(h.panel.powerCalls(panel.SignalStart))
	}

	t.Run("naive", func(t *testing.T) {
		var barrier sync.WaitGroup
		barrier.Add(2)
		naive := &naiveTracker{set: make(map[string]bool), between: func() {
			barrier.Done()
			barrier.Wait()
		}}
		h := newHarness(t, naive)
		assert.Equal(t, 2, run(t, h))
	})

	t.Run("compare-and-set", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.Equal(t, 1, run(t, h))
	})
}
