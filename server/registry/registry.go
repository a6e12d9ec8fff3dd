// Package registry holds the table of managed backends.
//
// The table is immutable once built. Reload builds a new table and swaps
// it in with a single atomic store, so a concurrent Resolve observes either
// the old or the new table in full.
package registry

import (
	"sort"
	"sync/atomic"
)

// Backend describes one managed game server
type Backend struct {
	Name        string `json:"name"`
	RemoteID    string `json:"remote_id"`
	IdleTimeout int    `json:"idle_timeout_seconds"` // negative disables idle shutdown
	JoinDelay   int    `json:"join_delay_seconds"`
	Address     string `json:"address,omitempty"` // host:port, used by the ping dialect
}

// IdleShutdownEnabled reports whether the backend is powered off when idle
func (b Backend) IdleShutdownEnabled() bool {
	return b.IdleTimeout >= 0
}

// Diff summarizes what a Replace changed
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether the replace left the table unchanged
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

type table map[string]Backend

// Registry resolves backend names to descriptors
type Registry struct {
	current atomic.Pointer[table]
}

// New creates a registry holding the given backends. On duplicate names the
// last entry wins.
func New(backends []Backend) *Registry {
	r := &Registry{}
	r.current.Store(build(backends))
	return r
}

func build(backends []Backend) *table {
	t := make(table, len(backends))
	for _, b := range backends {
		t[b.Name] = b
	}
	return &t
}

// Resolve returns the descriptor registered under name
func (r *Registry) Resolve(name string) (Backend, bool) {
	b, ok := (*r.current.Load())[name]
	return b, ok
}

// Len returns the number of registered backends
func (r *Registry) Len() int {
	return len(*r.current.Load())
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	t := *r.current.Load()
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every descriptor, sorted by name
func (r *Registry) All() []Backend {
	t := *r.current.Load()
	out := make([]Backend, 0, len(t))
	for _, b := range t {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Replace swaps in a new table built from backends and reports the difference
// against the table it replaced.
func (r *Registry) Replace(backends []Backend) Diff {
	next := build(backends)
	prev := r.current.Swap(next)
	return diff(*prev, *next)
}

func diff(prev, next table) Diff {
	var d Diff
	for name, b := range next {
		old, ok := prev[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case old != b:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
