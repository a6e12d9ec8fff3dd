package config

import "strings"

// Message keys understood by MessagesConfig.Render
const (
	MsgServerNotFound        = "server_not_found"
	MsgServerStarting        = "server_starting"
	MsgServerAlreadyStarting = "server_already_starting"
	MsgServerReady           = "server_ready"
	MsgServerStopping        = "server_stopping"
)

// MessagesConfig holds the player-facing message templates.
// Templates may use {server} and {player}.
type MessagesConfig struct {
	Prefix                string `toml:"prefix" yaml:"prefix"`
	ServerNotFound        string `toml:"server_not_found" yaml:"server_not_found"`
	ServerStarting        string `toml:"server_starting" yaml:"server_starting"`
	ServerAlreadyStarting string `toml:"server_already_starting" yaml:"server_already_starting"`
	ServerReady           string `toml:"server_ready" yaml:"server_ready"`
	ServerStopping        string `toml:"server_stopping" yaml:"server_stopping"`
}

// DefaultMessages returns the built-in templates
func DefaultMessages() MessagesConfig {
	return MessagesConfig{
		Prefix:                "[wakegate]",
		ServerNotFound:        "Server not found in configuration: {server}",
		ServerStarting:        "Starting server: {server}. You will be moved there once it is ready.",
		ServerAlreadyStarting: "{server} is already starting",
		ServerReady:           "{server} is ready, connecting...",
		ServerStopping:        "The server {server} is stopping",
	}
}

// Render fills in the template for key. An unknown key, or one whose
// template was blanked out, renders as "Message not found: <key>".
func (m MessagesConfig) Render(key string, vars map[string]string) string {
	var tmpl string
	switch key {
	case MsgServerNotFound:
		tmpl = m.ServerNotFound
	case MsgServerStarting:
		tmpl = m.ServerStarting
	case MsgServerAlreadyStarting:
		tmpl = m.ServerAlreadyStarting
	case MsgServerReady:
		tmpl = m.ServerReady
	case MsgServerStopping:
		tmpl = m.ServerStopping
	}
	if tmpl == "" {
		return "Message not found: " + key
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	msg := strings.NewReplacer(pairs...).Replace(tmpl)
	if m.Prefix == "" {
		return msg
	}
	return m.Prefix + " " + msg
}
