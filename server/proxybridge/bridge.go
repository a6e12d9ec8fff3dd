// Package proxybridge calls back into the proxy to move players between
// backends and to show them chat messages.
package proxybridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/server/orchestrator"
)

const DefaultTimeout = 5 * time.Second

type connectRequest struct {
	PlayerID string `json:"player_id"`
	Server   string `json:"server"`
}

type messageRequest struct {
	PlayerID string `json:"player_id"`
	Message  string `json:"message"`
}

// Bridge posts to the proxy's callback endpoints. Calls are best effort:
// failures are logged and counted, never returned.
type Bridge struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ orchestrator.Connector = (*Bridge)(nil)
	_ orchestrator.Messenger = (*Bridge)(nil)
)

func New(baseURL, token string, timeout time.Duration) (*Bridge, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("proxy callback url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// FromConfig returns a Bridge when a callback URL is configured, and nil
// otherwise.
func FromConfig(cfg config.ProxyConfig) (*Bridge, error) {
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, nil
	}
	timeout, err := cfg.GetCallbackTimeout()
	if err != nil {
		return nil, fmt.Errorf("proxy.callback_timeout: %w", err)
	}
	return New(cfg.CallbackURL, cfg.CallbackToken, timeout)
}

func (b *Bridge) Connect(ctx context.Context, player orchestrator.Player, server string) {
	b.post(ctx, "connect", connectRequest{PlayerID: player.ID, Server: server}, "player", player.Name, "server", server)
}

func (b *Bridge) Send(ctx context.Context, player orchestrator.Player, message string) {
	b.post(ctx, "message", messageRequest{PlayerID: player.ID, Message: message}, "player", player.Name)
}

func (b *Bridge) post(ctx context.Context, endpoint string, payload any, attrs ...any) {
	err := b.do(ctx, endpoint, payload)
	if err != nil {
		metrics.ProxyCallbacks.WithLabelValues(endpoint, "error").Inc()
		logger.Warn("[BRIDGE] Proxy callback failed", append([]any{"endpoint", endpoint, "error", err}, attrs...)...)
		return
	}
	metrics.ProxyCallbacks.WithLabelValues(endpoint, "success").Inc()
	logger.Debug("[BRIDGE] Proxy callback sent", append([]any{"endpoint", endpoint}, attrs...)...)
}

func (b *Bridge) do(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("proxy returned status %d", resp.StatusCode)
	}
	return nil
}

// LogMessenger writes player messages to the log. It stands in for the
// bridge when no callback URL is configured.
type LogMessenger struct{}

func (LogMessenger) Send(_ context.Context, player orchestrator.Player, message string) {
	logger.Info("[BRIDGE] Player message", "player", player.Name, "player_id", player.ID, "message", message)
}

// LogConnector logs connections it cannot perform
type LogConnector struct{}

func (LogConnector) Connect(_ context.Context, player orchestrator.Player, server string) {
	logger.Warn("[BRIDGE] No proxy callback configured, player must reconnect manually", "player", player.Name, "server", server)
}
