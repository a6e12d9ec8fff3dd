package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func validConfig() Config {
	cfg := NewDefaultConfig()
	cfg.Panel.URL = "https://panel.example.com"
	cfg.Panel.APIKey = "ptlc_abc"
	cfg.HTTPAPI.APIKey = "hook-secret"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Panel.URL = "" }, "panel.url is required"},
		{"relative url", func(c *Config) { c.Panel.URL = "panel.example.com" }, "not an absolute URL"},
		{"missing key", func(c *Config) { c.Panel.APIKey = "" }, "panel.api_key is required"},
		{"missing http key", func(c *Config) { c.HTTPAPI.APIKey = "" }, "http_api.api_key is required"},
		{"bad type", func(c *Config) { c.Panel.Type = "multicraft" }, "panel.type"},
		{"no threads", func(c *Config) { c.Panel.APIThreads = 0 }, "panel.api_threads"},
		{"negative join delay", func(c *Config) { c.StartupJoin.JoinDelay = -1 }, "startup_join.join_delay"},
		{"negative recheck", func(c *Config) { c.StartupJoin.RecheckInterval = -3 }, "startup_join.recheck_interval"},
		{"no workers", func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		{"bad duration", func(c *Config) { c.Panel.RequestTimeout = "soon" }, "panel.request_timeout"},
		{"bad retention", func(c *Config) { c.Audit.Retention = "30 days" }, "audit.retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackendsSkipsPlaceholderAndMissingIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Servers = map[string]ServerConfig{
		"lobby":    {ID: "aaaa1111", Timeout: intPtr(300)},
		"example":  {ID: PlaceholderServerID},
		"broken":   {},
		"survival": {ID: "bbbb2222"},
	}

	backends := cfg.Backends()
	require.Len(t, backends, 2)
	assert.Equal(t, "lobby", backends[0].Name)
	assert.Equal(t, "survival", backends[1].Name)
}

func TestBackendsDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.StartupJoin.JoinDelay = 20
	cfg.Servers = map[string]ServerConfig{
		"lobby":    {ID: "aaaa1111", Timeout: intPtr(0)},
		"survival": {ID: "bbbb2222", JoinDelay: intPtr(5), Address: "10.0.0.2:25565"},
		"creative": {ID: "cccc3333", JoinDelay: intPtr(-2)},
	}

	backends := cfg.Backends()
	require.Len(t, backends, 2)

	lobby, survival := backends[0], backends[1]
	assert.Equal(t, 0, lobby.IdleTimeout)
	assert.True(t, lobby.IdleShutdownEnabled())
	assert.Equal(t, 20, lobby.JoinDelay)

	assert.Equal(t, -1, survival.IdleTimeout)
	assert.False(t, survival.IdleShutdownEnabled())
	assert.Equal(t, 5, survival.JoinDelay)
	assert.Equal(t, "10.0.0.2:25565", survival.Address)
	assert.Equal(t, "bbbb2222", survival.RemoteID)
}

func TestGetRecheckInterval(t *testing.T) {
	assert.Equal(t, 16*time.Second, (&StartupJoinConfig{JoinDelay: 16}).GetRecheckInterval())
	assert.Equal(t, 4*time.Second, (&StartupJoinConfig{JoinDelay: 16, RecheckInterval: 4}).GetRecheckInterval())
	assert.Equal(t, time.Second, (&StartupJoinConfig{}).GetRecheckInterval())
}

func TestDurationDefaults(t *testing.T) {
	var p PanelConfig
	d, err := p.GetRequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	var a AuditConfig
	d, err = a.GetRetention()
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, d)

	var c Config
	assert.Equal(t, 5*time.Second, c.GetPingTimeout())
}

func TestMessagesRender(t *testing.T) {
	m := DefaultMessages()
	vars := map[string]string{"server": "survival", "player": "Steve"}

	assert.Equal(t, "[wakegate] survival is already starting", m.Render(MsgServerAlreadyStarting, vars))
	assert.Equal(t, "Message not found: nope", m.Render("nope", vars))

	m.ServerReady = ""
	assert.Equal(t, "Message not found: server_ready", m.Render(MsgServerReady, vars))

	m.Prefix = ""
	m.ServerStopping = "{player}, {server} is going down"
	assert.Equal(t, "Steve, survival is going down", m.Render(MsgServerStopping, vars))
}
