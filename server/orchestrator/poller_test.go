package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
)

// Steve waits on the lobby while survival boots. The first check after the
// 16 s join delay finds it still loading; the next one moves him over.
func TestSurvivalScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.panel.setOnline("lobby", true)

	d := h.orch.PreConnect(context.Background(), steve, "survival")
	require.Equal(t, ReasonStarting, d.Reason)

	h.advance(15 * time.Second)
	assert.Equal(t, int32(1), h.panel.checks.Load(), "only the gate has checked so far")

	h.advance(time.Second)
	assert.Equal(t, int32(2), h.panel.checks.Load())
	assert.Empty(t, h.connector.all())
	assert.True(t, h.tracker.IsStarting("survival"))

	h.panel.setOnline("survival", true)
	h.advance(16 * time.Second)

	assert.Equal(t, []connectCall{{steve, "survival"}}, h.connector.all())
	assert.False(t, h.tracker.IsStarting("survival"))
	assert.Empty(t, h.orch.Pending())
	msgs := h.messenger.messages(steve.ID)
	assert.Equal(t, "[wakegate] survival is ready, connecting...", msgs[len(msgs)-1])

	// Once online, joins go straight through
	d = h.orch.PreConnect(context.Background(), alex, "survival")
	assert.True(t, d.Allow)
	assert.Len(t, h.panel.powerCalls(panel.SignalStart), 1)
}

func TestPollerNoAttemptCap(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.orch.PreConnect(context.Background(), steve, "survival")

	h.advance(16 * time.Second)
	for i := 0; i < 20; i++ {
		h.advance(16 * time.Second)
	}

	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 21, pending[0].Attempts)
}

func TestPollerWaitsWhileRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.orch.PreConnect(context.Background(), steve, "survival")
	h.panel.setOnline("survival", true)
	h.panel.setRemaining(0)
	checks := h.panel.checks.Load()

	h.advance(16 * time.Second)
	assert.Equal(t, checks, h.panel.checks.Load())
	assert.Empty(t, h.connector.all())

	h.panel.setRemaining(10)
	h.advance(16 * time.Second)
	assert.Len(t, h.connector.all(), 1)
}

func TestPlayerAlreadyOnTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.orch.PreConnect(context.Background(), steve, "survival")

	// The player got there some other way in the meantime
	h.connected(steve, "survival")
	h.panel.setOnline("survival", true)
	h.advance(16 * time.Second)

	assert.Empty(t, h.connector.all())
	assert.False(t, h.tracker.IsStarting("survival"))
	assert.Empty(t, h.orch.Pending())
}

// The player quit while the backend booted. Their connection is dropped,
// the backend's mark is cleared once it is up and, being empty, it gets an
// idle shutdown.
func TestDetachedPlayerSchedulesIdleShutdown(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.orch.PreConnect(context.Background(), steve, "survival")
	h.disconnect(steve)

	h.advance(16 * time.Second)
	require.Len(t, h.orch.Pending(), 1, "chain keeps polling until the backend answers")

	h.panel.setOnline("survival", true)
	h.advance(16 * time.Second)

	assert.Empty(t, h.connector.all())
	assert.False(t, h.tracker.IsStarting("survival"))
	assert.Empty(t, h.orch.Pending())
	assert.Equal(t, 2, h.orch.Idle.Pending(), "lobby from the disconnect, survival from the poller")

	h.advance(60 * time.Second)
	stops := h.panel.powerCalls(panel.SignalStop)
	require.Len(t, stops, 2)
	assert.ElementsMatch(t, []string{"lobby", "survival"}, []string{stops[0].server, stops[1].server})
}

func TestReloadRemovingBackendEndsChain(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.orch.PreConnect(context.Background(), steve, "survival")
	h.orch.PreConnect(context.Background(), alex, "creative")

	diff := h.orch.Reload([]registry.Backend{lobby, creative})
	assert.Equal(t, []string{"survival"}, diff.Removed)
	assert.False(t, h.tracker.IsStarting("survival"))
	assert.True(t, h.tracker.IsStarting("creative"), "surviving backends keep their mark")

	h.advance(16 * time.Second)
	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "creative", pending[0].Server)
}

func TestStoppedPollerEndsChains(t *testing.T) {
	h := newHarness(t, nil)
	h.connected(steve, "lobby")
	h.orch.PreConnect(context.Background(), steve, "survival")

	h.orch.Stop()
	h.advance(16 * time.Second)
	assert.Empty(t, h.orch.Pending())

	_, err := h.orch.Poller.Enqueue(survival, alex)
	assert.Error(t, err)
}
