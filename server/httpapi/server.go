// Package httpapi exposes the hook endpoints the proxy calls and the admin
// endpoints used by operators and wakegate-admin.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/server/audit"
	"github.com/wakegate/wakegate/server/orchestrator"
	"github.com/wakegate/wakegate/server/registry"
	"github.com/wakegate/wakegate/server/sessions"
)

// maxBodyBytes caps hook and admin request bodies
const maxBodyBytes = 64 << 10

// ReloadFunc re-reads the configuration and swaps the backend table
type ReloadFunc func(ctx context.Context) (registry.Diff, error)

// HistoryStore is the read side of the audit trail
type HistoryStore interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

// Server represents the HTTP API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	trusted      []string
	orch         *orchestrator.Orchestrator
	sessions     *sessions.Registry
	reload       ReloadFunc
	history      HistoryStore
	server       *http.Server
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
	// TrustedProxies lists the addresses (IPs or CIDRs) whose forwarding
	// headers are believed. Empty means the socket peer is the client.
	TrustedProxies []string
	Orchestrator   *orchestrator.Orchestrator
	Sessions       *sessions.Registry
	Reload         ReloadFunc
	// History may be nil when auditing is disabled
	History HistoryStore
}

// New creates a new HTTP API server
func New(options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if options.Orchestrator == nil || options.Sessions == nil {
		return nil, fmt.Errorf("orchestrator and sessions are required for HTTP API server")
	}
	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		trusted:      options.TrustedProxies,
		orch:         options.Orchestrator,
		sessions:     options.Sessions,
		reload:       options.Reload,
		history:      options.History,
	}, nil
}

// Start runs the HTTP API server until ctx is done
func Start(ctx context.Context, options ServerOptions, errChan chan error) {
	server, err := New(options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	logger.Info("[HTTPAPI] Starting API server", "addr", options.Addr)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("[HTTPAPI] Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("[HTTPAPI] Error shutting down API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Proxy hooks
	v1.HandleFunc("/hooks/preconnect", s.handlePreConnect).Methods("POST")
	v1.HandleFunc("/hooks/connected", s.handleConnected).Methods("POST")
	v1.HandleFunc("/hooks/disconnect", s.handleDisconnect).Methods("POST")

	// Admin
	v1.HandleFunc("/servers", s.handleListServers).Methods("GET")
	v1.HandleFunc("/servers/{name}", s.handleGetServer).Methods("GET")
	v1.HandleFunc("/servers/{name}/start", s.handlePower).Methods("POST")
	v1.HandleFunc("/servers/{name}/stop", s.handlePower).Methods("POST")
	v1.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	v1.HandleFunc("/reload", s.handleReload).Methods("POST")
	v1.HandleFunc("/ratelimit", s.handleRateLimit).Methods("GET")
	v1.HandleFunc("/pending", s.handlePending).Methods("GET")
	v1.HandleFunc("/history", s.handleHistory).Methods("GET")

	return router
}

// Middleware functions

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPAPIRequests.WithLabelValues(r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		logger.Debug("[HTTPAPI] Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r, s.trusted)
		if !hostAllowed(s.allowedHosts, clientIP) {
			logger.Warn("[HTTPAPI] Host not allowed", "client_ip", clientIP, "path", r.URL.Path)
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hostAllowed(allowed []string, clientIP string) bool {
	ip := net.ParseIP(clientIP)
	for _, host := range allowed {
		if host == clientIP {
			return true
		}
		if strings.Contains(host, "/") && ip != nil {
			if _, cidr, err := net.ParseCIDR(host); err == nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

// getClientIP returns the socket peer unless it is a trusted proxy. Behind
// one, X-Forwarded-For is walked right to left and the first hop that is
// not itself trusted wins; X-Real-IP is the fallback.
func getClientIP(r *http.Request, trusted []string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if len(trusted) == 0 || !hostAllowed(trusted, host) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !hostAllowed(trusted, hop) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("[HTTPAPI] Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
