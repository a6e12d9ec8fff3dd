package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings
const EnvPrefix = "WAKEGATE"

// envOverrides lists the settings that may come from the environment, so
// secrets do not have to live in the config file.
type envOverrides struct {
	PanelURL           string `envconfig:"PANEL_URL"`
	PanelAPIKey        string `envconfig:"PANEL_API_KEY"`
	HTTPAPIKey         string `envconfig:"HTTP_API_KEY"`
	ProxyCallbackToken string `envconfig:"PROXY_CALLBACK_TOKEN"`
	LogLevel           string `envconfig:"LOG_LEVEL"`
}

// LoadConfigFromFile loads configuration from a TOML or YAML file. The
// format is picked by extension; anything other than .yml/.yaml is TOML.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yml", ".yaml":
		err = decodeYAML(configPath, content, cfg)
	default:
		err = decodeTOML(configPath, content, cfg)
	}
	if err != nil {
		return err
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// Load reads the file, then applies environment overrides
func Load(configPath string) (Config, error) {
	cfg := NewDefaultConfig()
	if err := LoadConfigFromFile(configPath, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays WAKEGATE_* environment variables onto the configuration
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if env.PanelURL != "" {
		c.Panel.URL = env.PanelURL
	}
	if env.PanelAPIKey != "" {
		c.Panel.APIKey = env.PanelAPIKey
	}
	if env.HTTPAPIKey != "" {
		c.HTTPAPI.APIKey = env.HTTPAPIKey
	}
	if env.ProxyCallbackToken != "" {
		c.Proxy.CallbackToken = env.ProxyCallbackToken
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	return nil
}

func decodeTOML(configPath string, content []byte, cfg *Config) error {
	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}

		log.Printf("WARNING: Configuration file '%s' contains duplicate keys: %v", configPath, err)
		log.Printf("WARNING: Only the first occurrence of each key will be used.")

		cleaned := removeDuplicateKeysFromTOML(string(content))
		metadata, err = toml.Decode(cleaned, cfg)
		if err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}
	return nil
}

func decodeYAML(configPath string, content []byte, cfg *Config) error {
	// Strict pass first so unknown keys can be reported, then a lenient pass
	// that keeps going past them.
	strict := *cfg
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	strictErr := dec.Decode(&strict)
	if strictErr == nil || errors.Is(strictErr, io.EOF) {
		*cfg = strict
		return nil
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored: %v", configPath, strictErr)
	return nil
}

// removeDuplicateKeysFromTOML comments out every repeated key of a table,
// keeping the first occurrence.
func removeDuplicateKeysFromTOML(content string) string {
	lines := strings.Split(content, "\n")
	seen := make(map[string]int)
	out := make([]string, 0, len(lines))
	section := ""

	for lineNum, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			section = strings.Trim(trimmed, "[] ")
		case strings.Contains(trimmed, "="):
			key := strings.TrimSpace(strings.SplitN(trimmed, "=", 2)[0])
			if section != "" {
				key = section + "." + key
			}
			if first, dup := seen[key]; dup {
				log.Printf("WARNING: Duplicate key '%s' at line %d (first at line %d). Ignoring duplicate.", key, lineNum+1, first+1)
				out = append(out, "# DUPLICATE IGNORED: "+line)
				continue
			}
			seen[key] = lineNum
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// enhanceConfigError adds hints for common TOML mistakes
func enhanceConfigError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "has already been defined"):
		return fmt.Errorf("%w\n\nHINT: A configuration key appears twice. "+
			"A [servers.<name>] table copied without renaming is the usual cause", err)
	case strings.Contains(msg, `expected value but found "f"`), strings.Contains(msg, `expected value but found "t"`):
		return fmt.Errorf("%w\n\nHINT: Boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	case strings.Contains(msg, "expected") || strings.Contains(msg, "invalid"):
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in the TOML file. Check string quoting, "+
			"bracket balance and [section] headers", err)
	}
	return err
}

// trimStringFields recursively trims whitespace from string fields,
// including struct values stored in maps.
func trimStringFields(v reflect.Value) {
	if !v.IsValid() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if f := v.Field(i); f.CanSet() {
				trimStringFields(f)
			}
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			// Map values are not addressable; trim a copy and store it back.
			elem := reflect.New(iter.Value().Type()).Elem()
			elem.Set(iter.Value())
			trimStringFields(elem)
			v.SetMapIndex(iter.Key(), elem)
		}
	}
}
