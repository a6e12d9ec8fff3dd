package orchestrator

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/pkg/scheduler"
	"github.com/wakegate/wakegate/server/lifecycle"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
	"github.com/wakegate/wakegate/server/sessions"
)

type powerCall struct {
	server string
	signal panel.Signal
	source string
}

type fakePanel struct {
	mu       sync.Mutex
	online   map[string]bool
	powers   []powerCall
	ctxErrs  []error
	checks   atomic.Int32
	rl       *panel.RateLimit
	sessions *sessions.Registry
}

func newFakePanel(s *sessions.Registry) *fakePanel {
	return &fakePanel{online: make(map[string]bool), rl: panel.NewRateLimit(false), sessions: s}
}

func (f *fakePanel) PowerServer(ctx context.Context, b registry.Backend, signal panel.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powers = append(f.powers, powerCall{b.Name, signal, panel.SourceFrom(ctx)})
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
}

// powerContextErrors returns ctx.Err() as seen by each power call, in order
func (f *fakePanel) powerContextErrors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.ctxErrs...)
}

func (f *fakePanel) IsServerOnline(_ context.Context, b registry.Backend) bool {
	f.checks.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[b.Name]
}

func (f *fakePanel) IsServerEmpty(name string) bool { return f.sessions.IsEmpty(name) }
func (f *fakePanel) RateLimit() *panel.RateLimit    { return f.rl }
func (f *fakePanel) Dialect() panel.Dialect         { return panel.DialectPterodactyl }
func (f *fakePanel) Shutdown()                      {}

func (f *fakePanel) setOnline(name string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[name] = online
}

func (f *fakePanel) powerCalls(signal panel.Signal) []powerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []powerCall
	for _, c := range f.powers {
		if c.signal == signal {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakePanel) setRemaining(n int) {
	h := http.Header{}
	h.Set(panel.HeaderRateLimitRemaining, strconv.Itoa(n))
	f.rl.Update(h)
}

type connectCall struct {
	player Player
	server string
}

type fakeConnector struct {
	mu    sync.Mutex
	calls []connectCall
}

func (f *fakeConnector) Connect(_ context.Context, player Player, server string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, connectCall{player, server})
}

func (f *fakeConnector) all() []connectCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectCall(nil), f.calls...)
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (f *fakeMessenger) Send(_ context.Context, player Player, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[player.ID] = append(f.sent[player.ID], message)
}

func (f *fakeMessenger) messages(playerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[playerID]...)
}

// naiveTracker checks membership and adds in two separate steps, with a
// hook in between to force an interleaving.
type naiveTracker struct {
	mu      sync.Mutex
	set     map[string]bool
	between func()
}

func (n *naiveTracker) IsStarting(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.set[name]
}

func (n *naiveTracker) TryMarkStarting(name string) bool {
	if n.IsStarting(name) {
		return false
	}
	if n.between != nil {
		n.between()
	}
	n.mu.Lock()
	n.set[name] = true
	n.mu.Unlock()
	return true
}

func (n *naiveTracker) ClearStarting(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	had := n.set[name]
	delete(n.set, name)
	return had
}

var (
	lobby    = registry.Backend{Name: "lobby", RemoteID: "11aa22bb", IdleTimeout: 60, JoinDelay: 16}
	survival = registry.Backend{Name: "survival", RemoteID: "33cc44dd", IdleTimeout: 60, JoinDelay: 16}
	creative = registry.Backend{Name: "creative", RemoteID: "55ee66ff", IdleTimeout: -1, JoinDelay: 16}

	steve = Player{ID: "8667ba71-b85a-4004-af54-457a9734eed7", Name: "Steve"}
	alex  = Player{ID: "ec561538-f3fd-461d-aff5-086b22154bce", Name: "Alex"}
)

type harness struct {
	orch      *Orchestrator
	panel     *fakePanel
	sessions  *sessions.Registry
	connector *fakeConnector
	messenger *fakeMessenger
	clock     *scheduler.FakeClock
	sched     *scheduler.Scheduler
	tracker   lifecycle.StartingSet
}

func newHarness(t *testing.T, tracker lifecycle.StartingSet, backends ...registry.Backend) *harness {
	t.Helper()
	if len(backends) == 0 {
		backends = []registry.Backend{lobby, survival, creative}
	}
	if tracker == nil {
		tracker = lifecycle.NewTracker()
	}

	sess := sessions.New()
	clock := scheduler.NewFakeClock(time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC))
	sched := scheduler.New(clock, 4)
	sched.Start()
	t.Cleanup(sched.Stop)

	h := &harness{
		panel:     newFakePanel(sess),
		sessions:  sess,
		connector: &fakeConnector{},
		messenger: &fakeMessenger{},
		clock:     clock,
		sched:     sched,
		tracker:   tracker,
	}
	orch, err := New(Deps{
		Registry:  registry.New(backends),
		Panel:     h.panel,
		Tracker:   tracker,
		Sessions:  sess,
		Connector: h.connector,
		Messenger: h.messenger,
		Scheduler: sched,
		Messages:  config.DefaultMessages(),
		Recheck:   16 * time.Second,
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

// advance moves fake time forward and waits for the fired tasks to finish
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.sched.Wait()
}

// disconnect mirrors what the hook API does when the proxy reports a quit
func (h *harness) disconnect(p Player) {
	if last, ok := h.sessions.Detach(p.ID); ok {
		h.orch.OnDisconnect(p, last)
	}
}

func (h *harness) connected(p Player, server string) {
	if prev := h.sessions.Attach(p.ID, p.Name, server); prev != "" && prev != server {
		h.orch.OnSwitch(p, prev)
	}
}
