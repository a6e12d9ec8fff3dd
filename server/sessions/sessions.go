// Package sessions keeps the proxy's view of which player is on which
// backend. The proxy reports every connect and disconnect through the hook
// API; the orchestrator reads it to decide whether a backend is empty.
package sessions

import (
	"sort"
	"sync"
	"time"
)

// Session is one connected player
type Session struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Server     string    `json:"server"`
	Since      time.Time `json:"since"`
}

type Registry struct {
	mu       sync.RWMutex
	players  map[string]Session
	byServer map[string]map[string]struct{}
	now      func() time.Time
}

func New() *Registry {
	return &Registry{
		players:  make(map[string]Session),
		byServer: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Attach records that playerID is now on server and returns the backend the
// player was on before, or "" for a fresh connection.
func (r *Registry) Attach(playerID, name, server string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.players[playerID]
	if had {
		if prev.Server == server {
			if name != "" {
				prev.PlayerName = name
				r.players[playerID] = prev
			}
			return server
		}
		r.removeLocked(playerID, prev.Server)
	}

	r.players[playerID] = Session{PlayerID: playerID, PlayerName: name, Server: server, Since: r.now()}
	members, ok := r.byServer[server]
	if !ok {
		members = make(map[string]struct{})
		r.byServer[server] = members
	}
	members[playerID] = struct{}{}

	if had {
		return prev.Server
	}
	return ""
}

// Detach removes the player and returns the backend it was on.
func (r *Registry) Detach(playerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.players[playerID]
	if !ok {
		return "", false
	}
	r.removeLocked(playerID, s.Server)
	return s.Server, true
}

func (r *Registry) removeLocked(playerID, server string) {
	delete(r.players, playerID)
	if members, ok := r.byServer[server]; ok {
		delete(members, playerID)
		if len(members) == 0 {
			delete(r.byServer, server)
		}
	}
}

// CurrentServer returns the backend a connected player is on
func (r *Registry) CurrentServer(playerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.players[playerID]
	if !ok || s.Server == "" {
		return "", false
	}
	return s.Server, true
}

// Player returns the full session of a connected player
func (r *Registry) Player(playerID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.players[playerID]
	return s, ok
}

// IsEmpty reports whether no player is on server. Unknown servers are empty.
func (r *Registry) IsEmpty(server string) bool {
	return r.Count(server) == 0
}

func (r *Registry) Count(server string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byServer[server])
}

// Counts returns the number of players per occupied backend
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byServer))
	for server, members := range r.byServer {
		out[server] = len(members)
	}
	return out
}

// Snapshot returns every session sorted by server, then player id
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.players))
	for _, s := range r.players {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}
