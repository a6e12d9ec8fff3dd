package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/wakegate/wakegate/server/registry"
)

// PlaceholderServerID is the id shipped in the example configuration.
// Entries still carrying it are skipped instead of registered.
const PlaceholderServerID = "1234abcd"

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output" yaml:"output"` // "stderr", "stdout", "syslog", or a file path
	Format string `toml:"format" yaml:"format"` // "json" or "console"
	Level  string `toml:"level" yaml:"level"`   // "debug", "info", "warn", "error"
}

// PanelCircuitBreakerConfig configures the optional breaker around panel calls
type PanelCircuitBreakerConfig struct {
	Enabled      bool    `toml:"enabled" yaml:"enabled"`
	MaxRequests  uint32  `toml:"max_requests" yaml:"max_requests"`
	Interval     string  `toml:"interval" yaml:"interval"`
	Timeout      string  `toml:"timeout" yaml:"timeout"`
	FailureRatio float64 `toml:"failure_ratio" yaml:"failure_ratio"`
	MinRequests  uint32  `toml:"min_requests" yaml:"min_requests"`
}

// GetInterval returns the counting window of the breaker in the closed state
func (c *PanelCircuitBreakerConfig) GetInterval() (time.Duration, error) {
	return parseDurationDefault(c.Interval, 10*time.Second)
}

// GetTimeout returns how long the breaker stays open before probing
func (c *PanelCircuitBreakerConfig) GetTimeout() (time.Duration, error) {
	return parseDurationDefault(c.Timeout, 30*time.Second)
}

// PanelConfig describes the remote power-management panel
type PanelConfig struct {
	URL            string                    `toml:"url" yaml:"url"`
	APIKey         string                    `toml:"api_key" yaml:"api_key"`
	Type           string                    `toml:"type" yaml:"type"` // "auto", "pterodactyl", "pelican"
	APIThreads     int                       `toml:"api_threads" yaml:"api_threads"`
	RequestTimeout string                    `toml:"request_timeout" yaml:"request_timeout"`
	PrintRateLimit bool                      `toml:"print_rate_limit" yaml:"print_rate_limit"`
	CircuitBreaker PanelCircuitBreakerConfig `toml:"circuit_breaker" yaml:"circuit_breaker"`
}

// GetRequestTimeout returns the per-request HTTP timeout
func (p *PanelConfig) GetRequestTimeout() (time.Duration, error) {
	return parseDurationDefault(p.RequestTimeout, 10*time.Second)
}

// StartupJoinConfig controls how deferred joins are polled.
// Values are in seconds.
type StartupJoinConfig struct {
	JoinDelay       int `toml:"join_delay" yaml:"join_delay"`
	RecheckInterval int `toml:"recheck_interval" yaml:"recheck_interval"`
}

// GetRecheckInterval returns the delay between readiness re-checks. When
// unset it falls back to the join delay.
func (s *StartupJoinConfig) GetRecheckInterval() time.Duration {
	if s.RecheckInterval > 0 {
		return time.Duration(s.RecheckInterval) * time.Second
	}
	if s.JoinDelay > 0 {
		return time.Duration(s.JoinDelay) * time.Second
	}
	return time.Second
}

// SchedulerConfig sizes the delayed-task worker pool
type SchedulerConfig struct {
	Workers int `toml:"workers" yaml:"workers"`
}

// ServerConfig is one entry of the [servers] table.
// Timeout and JoinDelay are pointers so an omitted key can be told apart from zero.
type ServerConfig struct {
	ID        string `toml:"id" yaml:"id"`
	Timeout   *int   `toml:"timeout" yaml:"timeout"`
	JoinDelay *int   `toml:"join_delay" yaml:"join_delay"`
	Address   string `toml:"address" yaml:"address"`
}

// HTTPAPIConfig configures the hook and admin API listener
type HTTPAPIConfig struct {
	Addr         string   `toml:"addr" yaml:"addr"`
	APIKey       string   `toml:"api_key" yaml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts" yaml:"allowed_hosts"`
	// TrustedProxies may set the client address via X-Forwarded-For
	TrustedProxies []string `toml:"trusted_proxies" yaml:"trusted_proxies"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
	Path    string `toml:"path" yaml:"path"`
}

// ProxyConfig points at the game proxy's callback endpoint
type ProxyConfig struct {
	CallbackURL     string `toml:"callback_url" yaml:"callback_url"`
	CallbackToken   string `toml:"callback_token" yaml:"callback_token"`
	CallbackTimeout string `toml:"callback_timeout" yaml:"callback_timeout"`
}

// GetCallbackTimeout returns the timeout for proxy callback requests
func (p *ProxyConfig) GetCallbackTimeout() (time.Duration, error) {
	return parseDurationDefault(p.CallbackTimeout, 5*time.Second)
}

// AuditConfig configures the power-event history database
type AuditConfig struct {
	Path          string `toml:"path" yaml:"path"`
	Retention     string `toml:"retention" yaml:"retention"`
	PruneSchedule string `toml:"prune_schedule" yaml:"prune_schedule"`
}

// GetRetention returns how long audit rows are kept
func (a *AuditConfig) GetRetention() (time.Duration, error) {
	return parseDurationDefault(a.Retention, 720*time.Hour)
}

// ReloadConfig controls the configuration file watcher
type ReloadConfig struct {
	Watch    bool   `toml:"watch" yaml:"watch"`
	Debounce string `toml:"debounce" yaml:"debounce"`
}

// GetDebounce returns the quiet period before a file change triggers a reload
func (r *ReloadConfig) GetDebounce() (time.Duration, error) {
	return parseDurationDefault(r.Debounce, 500*time.Millisecond)
}

// Config holds all wakegate configuration
type Config struct {
	PingTimeout int `toml:"ping_timeout" yaml:"ping_timeout"` // seconds

	Logging     LoggingConfig           `toml:"logging" yaml:"logging"`
	Panel       PanelConfig             `toml:"panel" yaml:"panel"`
	StartupJoin StartupJoinConfig       `toml:"startup_join" yaml:"startup_join"`
	Scheduler   SchedulerConfig         `toml:"scheduler" yaml:"scheduler"`
	Servers     map[string]ServerConfig `toml:"servers" yaml:"servers"`
	HTTPAPI     HTTPAPIConfig           `toml:"http_api" yaml:"http_api"`
	Metrics     MetricsConfig           `toml:"metrics" yaml:"metrics"`
	Proxy       ProxyConfig             `toml:"proxy" yaml:"proxy"`
	Audit       AuditConfig             `toml:"audit" yaml:"audit"`
	Messages    MessagesConfig          `toml:"messages" yaml:"messages"`
	Reload      ReloadConfig            `toml:"reload" yaml:"reload"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() Config {
	return Config{
		PingTimeout: 5,
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Panel: PanelConfig{
			Type:           "auto",
			APIThreads:     10,
			RequestTimeout: "10s",
			CircuitBreaker: PanelCircuitBreakerConfig{
				MaxRequests:  3,
				Interval:     "10s",
				Timeout:      "30s",
				FailureRatio: 0.6,
				MinRequests:  5,
			},
		},
		StartupJoin: StartupJoinConfig{
			JoinDelay: 16,
		},
		Scheduler: SchedulerConfig{
			Workers: 8,
		},
		Servers: map[string]ServerConfig{},
		HTTPAPI: HTTPAPIConfig{
			Addr: "127.0.0.1:8090",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Proxy: ProxyConfig{
			CallbackTimeout: "5s",
		},
		Audit: AuditConfig{
			Retention:     "720h",
			PruneSchedule: "@daily",
		},
		Messages: DefaultMessages(),
		Reload: ReloadConfig{
			Watch:    false,
			Debounce: "500ms",
		},
	}
}

// GetPingTimeout returns the application-layer ping timeout
func (c *Config) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingTimeout) * time.Second
}

// Validate checks settings the service cannot run without.
// Individual [servers] entries are not validated here; Backends skips bad ones.
func (c *Config) Validate() error {
	if c.Panel.URL == "" {
		return errors.New("panel.url is required")
	}
	if u, err := url.Parse(c.Panel.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("panel.url %q is not an absolute URL", c.Panel.URL)
	}
	if c.Panel.APIKey == "" {
		return errors.New("panel.api_key is required")
	}
	switch c.Panel.Type {
	case "", "auto", "pterodactyl", "pelican":
	default:
		return fmt.Errorf("panel.type must be auto, pterodactyl or pelican, got %q", c.Panel.Type)
	}
	if c.HTTPAPI.APIKey == "" {
		return errors.New("http_api.api_key is required")
	}
	if c.Panel.APIThreads < 1 {
		return fmt.Errorf("panel.api_threads must be at least 1, got %d", c.Panel.APIThreads)
	}
	if c.StartupJoin.JoinDelay < 0 {
		return fmt.Errorf("startup_join.join_delay cannot be negative, got %d", c.StartupJoin.JoinDelay)
	}
	if c.StartupJoin.RecheckInterval < 0 {
		return fmt.Errorf("startup_join.recheck_interval cannot be negative, got %d", c.StartupJoin.RecheckInterval)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	}

	durations := []struct {
		name string
		get  func() (time.Duration, error)
	}{
		{"panel.request_timeout", c.Panel.GetRequestTimeout},
		{"panel.circuit_breaker.interval", c.Panel.CircuitBreaker.GetInterval},
		{"panel.circuit_breaker.timeout", c.Panel.CircuitBreaker.GetTimeout},
		{"proxy.callback_timeout", c.Proxy.GetCallbackTimeout},
		{"audit.retention", c.Audit.GetRetention},
		{"reload.debounce", c.Reload.GetDebounce},
	}
	for _, d := range durations {
		if _, err := d.get(); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	return nil
}

// Backends builds the descriptor table from the [servers] section. Entries
// with the placeholder id or a missing id are logged and skipped; the rest
// still load.
func (c *Config) Backends() []registry.Backend {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	backends := make([]registry.Backend, 0, len(names))
	for _, name := range names {
		entry := c.Servers[name]
		switch entry.ID {
		case PlaceholderServerID:
			slog.Info("[CONFIG] skipping server with placeholder id", "server", name, "id", entry.ID)
			continue
		case "":
			slog.Warn("[CONFIG] error processing server: missing id", "server", name)
			continue
		}

		timeout := -1
		if entry.Timeout != nil {
			timeout = *entry.Timeout
		}
		joinDelay := c.StartupJoin.JoinDelay
		if entry.JoinDelay != nil {
			if *entry.JoinDelay < 0 {
				slog.Warn("[CONFIG] error processing server: negative join_delay", "server", name, "join_delay", *entry.JoinDelay)
				continue
			}
			joinDelay = *entry.JoinDelay
		}

		backends = append(backends, registry.Backend{
			Name:        name,
			RemoteID:    entry.ID,
			IdleTimeout: timeout,
			JoinDelay:   joinDelay,
			Address:     entry.Address,
		})
		slog.Info("[CONFIG] registered server", "server", name, "id", entry.ID)
	}
	return backends
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
