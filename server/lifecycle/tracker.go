// Package lifecycle tracks which backends have an outstanding power-on.
package lifecycle

import (
	"sort"
	"sync"
	"time"

	"github.com/wakegate/wakegate/pkg/metrics"
)

// StartingSet is the capability the connection gate needs from a tracker.
type StartingSet interface {
	// TryMarkStarting adds name to the set and reports whether this call
	// added it. Exactly one of any number of concurrent callers for the
	// same name gets true.
	TryMarkStarting(name string) bool
	IsStarting(name string) bool
	ClearStarting(name string) bool
}

// Entry is one backend in the Starting set
type Entry struct {
	Name  string    `json:"name"`
	Since time.Time `json:"since"`
}

// Tracker is the Starting set. The zero value is not usable; call NewTracker.
type Tracker struct {
	mu       sync.Mutex
	starting map[string]time.Time
	now      func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		starting: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (t *Tracker) TryMarkStarting(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.starting[name]; ok {
		return false
	}
	t.starting[name] = t.now()
	metrics.StartingBackends.Set(float64(len(t.starting)))
	return true
}

func (t *Tracker) IsStarting(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.starting[name]
	return ok
}

// ClearStarting removes name and reports whether it was present
func (t *Tracker) ClearStarting(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.starting[name]; !ok {
		return false
	}
	delete(t.starting, name)
	metrics.StartingBackends.Set(float64(len(t.starting)))
	return true
}

// Retain drops every entry whose name is not kept. Used after a reload
// removed backends from the registry.
func (t *Tracker) Retain(keep func(name string) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []string
	for name := range t.starting {
		if !keep(name) {
			delete(t.starting, name)
			dropped = append(dropped, name)
		}
	}
	metrics.StartingBackends.Set(float64(len(t.starting)))
	sort.Strings(dropped)
	return dropped
}

// Snapshot returns the current Starting set sorted by name
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.starting))
	for name, since := range t.starting {
		out = append(out, Entry{Name: name, Since: since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of starting backends
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.starting)
}
