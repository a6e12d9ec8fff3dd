package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
	"github.com/wakegate/wakegate/server/sessions"
)

// TestPreConnectPowersOnAfterRequestDeadline drives the gate against a real
// panel client whose resources endpoint answers after the hook deadline.
func TestPreConnectPowersOnAfterRequestDeadline(t *testing.T) {
	var starts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/resources"):
			time.Sleep(200 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"stats","attributes":{"current_state":"offline"}}`))
		case strings.HasSuffix(r.URL.Path, "/power") && r.Method == http.MethodPost:
			starts.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	sess := sessions.New()
	client, err := panel.New(panel.Options{
		URL:           srv.URL,
		APIKey:        "ptlc_testkey",
		RetryInterval: time.Millisecond,
		Sessions:      sess,
	})
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)

	sched := scheduler.New(scheduler.NewFakeClock(time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)), 2)
	sched.Start()
	t.Cleanup(sched.Stop)

	tracker := lifecycle.NewTracker()
	orch, err := New(Deps{
		Registry:  registry.New([]registry.Backend{survival}),
		Panel:     client,
		Tracker:   tracker,
		Sessions:  sess,
		Connector: &fakeConnector{},
		Messenger: &fakeMessenger{},
		Scheduler: sched,
		Messages:  config.DefaultMessages(),
		Recheck:   16 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d := orch.PreConnect(ctx, steve, "survival")

	assert.False(t, d.Allow)
	assert.Equal(t, ReasonStarting, d.Reason)
	assert.NotEmpty(t, d.PendingID)
	assert.Equal(t, int32(1), starts.Load(), "start signal must reach the panel")
	assert.True(t, tracker.IsStarting("survival"))
}

func TestAdminPowerIgnoresCancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.orch.Power(ctx, "survival", panel.SignalStop))

	stops := h.panel.powerCalls(panel.SignalStop)
	require.Len(t, stops, 1)
	assert.Equal(t, "admin", stops[0].source)
	assert.Equal(t, []error{nil}, h.panel.powerContextErrors())
}

func TestPreConnectStartIgnoresCancelledContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := h.orch.PreConnect(ctx, steve, "survival")

	assert.Equal(t, ReasonStarting, d.Reason)
	assert.Equal(t, []powerCall{{"survival", panel.SignalStart, "gate"}}, h.panel.powerCalls(panel.SignalStart))
	assert.Equal(t, []error{nil}, h.panel.powerContextErrors())
}
