// Package orchestrator decides what happens when a player heads for a
// managed backend: let them through, wake the backend and hold the player
// until it answers, or power it down once everybody has left.
package orchestrator

import (
	"context"
	"time"
)

// Player identifies a proxy connection
type Player struct {
	ID   string `json:"player_id"`
	Name string `json:"player_name"`
}

// Connector moves a player to a backend through the proxy.
type Connector interface {
	Connect(ctx context.Context, player Player, server string)
}

// Messenger delivers a chat message to a player
type Messenger interface {
	Send(ctx context.Context, player Player, message string)
}

// SessionView is the part of the proxy session table the poller reads
type SessionView interface {
	CurrentServer(playerID string) (string, bool)
	IsEmpty(server string) bool
}

// Reason explains a denied connection
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotFound        Reason = "not_found"
	ReasonStarting        Reason = "starting"
	ReasonAlreadyStarting Reason = "already_starting"
)

// Decision is the gate's answer to a pre-connect event
type Decision struct {
	Allow     bool   `json:"-"`
	Reason    Reason `json:"reason,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
}

// Label returns "allow" or the denial reason, for logs and metrics
func (d Decision) Label() string {
	if d.Allow {
		return "allow"
	}
	return string(d.Reason)
}

// PendingConnection is a player waiting for a backend to come up. It lives
// as long as its poller chain.
type PendingConnection struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Server     string    `json:"server"`
	CreatedAt  time.Time `json:"created_at"`
	Attempts   int       `json:"attempts"`
	// Detached is set once the player left before the backend was ready
	Detached bool `json:"detached"`
}

func (p *PendingConnection) player() Player {
	return Player{ID: p.PlayerID, Name: p.PlayerName}
}
