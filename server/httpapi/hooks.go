package httpapi

import (
	"net/http"

	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/server/orchestrator"
)

// PlayerRequest is sent by the proxy for preconnect and connected events
type PlayerRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Server     string `json:"server"`
}

type DisconnectRequest struct {
	PlayerID string `json:"player_id"`
}

type PreConnectResponse struct {
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
}

func (s *Server) handlePreConnect(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PlayerID == "" || req.Server == "" {
		s.writeError(w, http.StatusBadRequest, "player_id and server are required")
		return
	}

	d := s.orch.PreConnect(r.Context(), orchestrator.Player{ID: req.PlayerID, Name: req.PlayerName}, req.Server)
	resp := PreConnectResponse{Decision: "deny", Reason: string(d.Reason), PendingID: d.PendingID}
	if d.Allow {
		resp.Decision = "allow"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PlayerID == "" || req.Server == "" {
		s.writeError(w, http.StatusBadRequest, "player_id and server are required")
		return
	}

	player := orchestrator.Player{ID: req.PlayerID, Name: req.PlayerName}
	previous := s.sessions.Attach(req.PlayerID, req.PlayerName, req.Server)
	if previous != "" && previous != req.Server {
		logger.Debug("[HTTPAPI] Player switched backend", "player", req.PlayerName, "from", previous, "to", req.Server)
		s.orch.OnSwitch(player, previous)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"server": req.Server, "previous": previous})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PlayerID == "" {
		s.writeError(w, http.StatusBadRequest, "player_id is required")
		return
	}

	session, known := s.sessions.Player(req.PlayerID)
	last, ok := s.sessions.Detach(req.PlayerID)
	if ok {
		name := ""
		if known {
			name = session.PlayerName
		}
		s.orch.OnDisconnect(orchestrator.Player{ID: req.PlayerID, Name: name}, last)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"last_server": last, "known": ok})
}
