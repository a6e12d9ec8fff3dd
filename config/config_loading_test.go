package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

// TestLoadConfigFromFile_TOML loads a typical configuration
func TestLoadConfigFromFile_TOML(t *testing.T) {
	path := writeConfig(t, "wakegate.toml", `
ping_timeout = 3

[panel]
url = "https://panel.example.com"
api_key = "  ptlc_abc  "
api_threads = 4

[startup_join]
join_delay = 20

[servers.lobby]
id = "aaaa1111"
timeout = 300

[servers.survival]
id = "bbbb2222"
join_delay = 5
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFromFile returned unexpected error: %v", err)
	}

	if cfg.Panel.APIKey != "ptlc_abc" {
		t.Errorf("Expected api_key to be trimmed, got %q", cfg.Panel.APIKey)
	}
	if cfg.Panel.APIThreads != 4 {
		t.Errorf("Expected api_threads=4, got %d", cfg.Panel.APIThreads)
	}
	if cfg.Panel.RequestTimeout != "10s" {
		t.Errorf("Expected default request_timeout to survive, got %q", cfg.Panel.RequestTimeout)
	}
	if cfg.GetPingTimeout().Seconds() != 3 {
		t.Errorf("Expected ping timeout 3s, got %v", cfg.GetPingTimeout())
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("Expected 2 servers, got %d", len(cfg.Servers))
	}
	if lobby := cfg.Servers["lobby"]; lobby.Timeout == nil || *lobby.Timeout != 300 {
		t.Errorf("Expected lobby timeout 300, got %v", lobby.Timeout)
	}
	if survival := cfg.Servers["survival"]; survival.Timeout != nil {
		t.Errorf("Expected survival timeout to be unset, got %d", *survival.Timeout)
	}
}

// TestLoadConfigFromFile_UnknownKeys tests that unknown keys produce warnings but don't fail
func TestLoadConfigFromFile_UnknownKeys(t *testing.T) {
	path := writeConfig(t, "unknown.toml", `
typo_setting = 123

[panel]
url = "https://panel.example.com"
another_unknown = "value"
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Errorf("LoadConfigFromFile returned unexpected error: %v", err)
	}
	if cfg.Panel.URL != "https://panel.example.com" {
		t.Errorf("Expected panel.url to be loaded, got %q", cfg.Panel.URL)
	}
}

// TestLoadConfigFromFile_DuplicateKeys keeps the first occurrence
func TestLoadConfigFromFile_DuplicateKeys(t *testing.T) {
	path := writeConfig(t, "dup.toml", `
[panel]
url = "https://first.example.com"
url = "https://second.example.com"
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFromFile returned unexpected error: %v", err)
	}
	if cfg.Panel.URL != "https://first.example.com" {
		t.Errorf("Expected first occurrence to win, got %q", cfg.Panel.URL)
	}
}

func TestLoadConfigFromFile_SyntaxError(t *testing.T) {
	path := writeConfig(t, "broken.toml", `
[panel
url = "x"
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err == nil {
		t.Fatal("Expected a parse error")
	}
}

func TestEnhanceConfigError(t *testing.T) {
	tests := []struct {
		msg  string
		hint string
	}{
		{"Key 'servers.lobby.id' has already been defined.", "appears twice"},
		{`expected value but found "t" instead`, "Boolean values"},
		{"invalid escape sequence", "syntax error"},
	}
	for _, tt := range tests {
		err := enhanceConfigError(errString(tt.msg))
		if !strings.Contains(err.Error(), tt.hint) {
			t.Errorf("Expected hint %q for %q, got %v", tt.hint, tt.msg, err)
		}
	}

	plain := errString("permission denied")
	if got := enhanceConfigError(plain); got != plain {
		t.Errorf("Expected error without hint to pass through, got %v", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestLoadConfigFromFile_YAML(t *testing.T) {
	path := writeConfig(t, "wakegate.yaml", `
panel:
  url: https://panel.example.com
  api_key: peli_xyz
  type: pelican
servers:
  creative:
    id: cccc3333
    timeout: -1
    address: 10.0.0.5:25565
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFromFile returned unexpected error: %v", err)
	}
	if cfg.Panel.Type != "pelican" {
		t.Errorf("Expected type pelican, got %q", cfg.Panel.Type)
	}
	creative := cfg.Servers["creative"]
	if creative.Address != "10.0.0.5:25565" {
		t.Errorf("Expected address to load, got %q", creative.Address)
	}
	if creative.Timeout == nil || *creative.Timeout != -1 {
		t.Errorf("Expected timeout -1, got %v", creative.Timeout)
	}
}

func TestLoadConfigFromFile_YAMLUnknownKeys(t *testing.T) {
	path := writeConfig(t, "unknown.yml", `
panel:
  url: https://panel.example.com
  colour: blue
`)

	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFromFile returned unexpected error: %v", err)
	}
	if cfg.Panel.URL != "https://panel.example.com" {
		t.Errorf("Expected panel.url to be loaded, got %q", cfg.Panel.URL)
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.toml"), &cfg); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "wakegate.toml", `
[panel]
url = "https://panel.example.com"
api_key = "from-file"
`)
	t.Setenv("WAKEGATE_PANEL_API_KEY", "ptlc_from_env")
	t.Setenv("WAKEGATE_HTTP_API_KEY", "hook-secret")
	t.Setenv("WAKEGATE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if cfg.Panel.APIKey != "ptlc_from_env" {
		t.Errorf("Expected env api key, got %q", cfg.Panel.APIKey)
	}
	if cfg.HTTPAPI.APIKey != "hook-secret" {
		t.Errorf("Expected env http api key, got %q", cfg.HTTPAPI.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected env log level, got %q", cfg.Logging.Level)
	}
	if cfg.Panel.URL != "https://panel.example.com" {
		t.Errorf("Expected file url to stay, got %q", cfg.Panel.URL)
	}
}

// TestRemoveDuplicateKeys_Sections only treats keys as duplicates within one table
func TestRemoveDuplicateKeys_Sections(t *testing.T) {
	content := `
[servers.lobby]
id = "a"
id = "b"

[servers.survival]
id = "c"
`
	result := removeDuplicateKeysFromTOML(content)

	if !strings.Contains(result, `# DUPLICATE IGNORED: id = "b"`) {
		t.Error("Expected second lobby id to be commented out")
	}
	if !strings.Contains(result, "\nid = \"c\"") {
		t.Error("Expected survival id to be kept")
	}
}
