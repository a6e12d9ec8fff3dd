package httpapi

import (
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/server/audit"
	"github.com/wakegate/wakegate/server/orchestrator"
	"github.com/wakegate/wakegate/server/panel"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"servers": s.orch.Status()})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, err := s.orch.ServerStatus(r.Context(), name)
	if errors.Is(err, orchestrator.ErrUnknownServer) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	signal := panel.Signal(path.Base(r.URL.Path))

	if err := s.orch.Power(r.Context(), name, signal); err != nil {
		if errors.Is(err, orchestrator.ErrUnknownServer) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("[HTTPAPI] Manual power command", "server", name, "signal", signal, "client_ip", getClientIP(r, s.trusted))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"server": name, "signal": string(signal)})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Snapshot()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		s.writeError(w, http.StatusNotImplemented, "Reload not available")
		return
	}
	diff, err := s.reload(r.Context())
	if err != nil {
		logger.Error("[HTTPAPI] Reload failed, keeping previous backends", "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.RateLimit())
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending":     s.orch.Pending(),
		"idle_checks": s.orch.Idle.Pending(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "Audit history is disabled")
		return
	}

	f := audit.Filter{Server: r.URL.Query().Get("server")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	events, err := s.history.List(r.Context(), f)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
