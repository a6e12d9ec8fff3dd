// Package panel talks to the game-server management panel: it issues power
// signals and answers whether a backend is up. Two panel dialects are
// supported, chosen once from the API key.
package panel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/circuitbreaker"
	"github.com/wakegate/wakegate/server/registry"
)

// ErrClientClosed is returned for calls made after Shutdown
var ErrClientClosed = errors.New("panel client closed")

type Signal string

const (
	SignalStart Signal = "start"
	SignalStop  Signal = "stop"
)

type Dialect string

const (
	DialectPterodactyl Dialect = "pterodactyl"
	DialectPelican     Dialect = "pelican"
)

const (
	keyPrefixPterodactyl = "ptlc_"
	keyPrefixPelican     = "peli_"

	DefaultAPIThreads     = 10
	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryInterval  = time.Second
	onlineCheckRetries    = 2
)

// SessionView answers occupancy questions from the proxy's session table
type SessionView interface {
	IsEmpty(server string) bool
}

// Recorder receives every power command for the audit trail
type Recorder interface {
	RecordPower(ctx context.Context, backend registry.Backend, signal, source string, result error)
}

// Client is the panel capability the orchestrator depends on.
type Client interface {
	// PowerServer sends signal to the backend. Failures are logged, never
	// returned.
	PowerServer(ctx context.Context, b registry.Backend, signal Signal)
	// IsServerOnline reports whether the backend is running. Any failure
	// counts as offline.
	IsServerOnline(ctx context.Context, b registry.Backend) bool
	IsServerEmpty(name string) bool
	RateLimit() *RateLimit
	Dialect() Dialect
	Shutdown()
}

// Options configures a panel client
type Options struct {
	URL            string
	APIKey         string
	Type           string // "auto", "pterodactyl" or "pelican"
	APIThreads     int
	RequestTimeout time.Duration
	PingTimeout    time.Duration
	PrintRateLimit bool
	// RetryInterval is the fixed wait between online-check attempts
	RetryInterval time.Duration
	// Breaker, when set, guards every panel request
	Breaker    *circuitbreaker.Settings
	Sessions   SessionView
	Recorder   Recorder
	HTTPClient *http.Client
}

// OptionsFromConfig maps the configuration file onto client options
func OptionsFromConfig(cfg config.Config, sessions SessionView) (Options, error) {
	timeout, err := cfg.Panel.GetRequestTimeout()
	if err != nil {
		return Options{}, fmt.Errorf("panel.request_timeout: %w", err)
	}
	opts := Options{
		URL:            cfg.Panel.URL,
		APIKey:         cfg.Panel.APIKey,
		Type:           cfg.Panel.Type,
		APIThreads:     cfg.Panel.APIThreads,
		RequestTimeout: timeout,
		PingTimeout:    cfg.GetPingTimeout(),
		PrintRateLimit: cfg.Panel.PrintRateLimit,
		Sessions:       sessions,
	}

	cb := cfg.Panel.CircuitBreaker
	if cb.Enabled {
		interval, err := cb.GetInterval()
		if err != nil {
			return Options{}, fmt.Errorf("panel.circuit_breaker.interval: %w", err)
		}
		open, err := cb.GetTimeout()
		if err != nil {
			return Options{}, fmt.Errorf("panel.circuit_breaker.timeout: %w", err)
		}
		st := circuitbreaker.RatioSettings("panel", cb.MaxRequests, interval, open, cb.FailureRatio, cb.MinRequests)
		opts.Breaker = &st
	}
	return opts, nil
}

// DetectDialect picks the dialect from the configured type, falling back to
// the API key prefix. Unknown prefixes use the pterodactyl dialect.
func DetectDialect(panelType, apiKey string) Dialect {
	switch strings.ToLower(strings.TrimSpace(panelType)) {
	case string(DialectPterodactyl):
		return DialectPterodactyl
	case string(DialectPelican):
		return DialectPelican
	}
	switch {
	case strings.HasPrefix(apiKey, keyPrefixPelican):
		return DialectPelican
	case strings.HasPrefix(apiKey, keyPrefixPterodactyl):
		return DialectPterodactyl
	default:
		return DialectPterodactyl
	}
}

// New builds the client for the detected dialect.
func New(opts Options) (Client, error) {
	base, err := newHTTPBase(opts)
	if err != nil {
		return nil, err
	}

	dialect := DetectDialect(opts.Type, opts.APIKey)
	logger.Info("[PANEL] Client initialized", "dialect", dialect, "url", base.baseURL, "api_threads", base.threads, "circuit_breaker", opts.Breaker != nil)

	switch dialect {
	case DialectPelican:
		return &pelicanClient{httpBase: base, pingTimeout: opts.PingTimeout}, nil
	default:
		return &pterodactylClient{httpBase: base}, nil
	}
}

type sourceKey struct{}

// WithSource tags ctx with the component issuing a power command, for the
// audit trail.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set by WithSource, or "".
func SourceFrom(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}
