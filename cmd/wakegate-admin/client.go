package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wakegate/wakegate/config"
)

// apiClient talks to the running service's admin API
type apiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type connectionFlags struct {
	configPath *string
	addr       *string
	key        *string
}

func addConnectionFlags(fs *flag.FlagSet) connectionFlags {
	return connectionFlags{
		configPath: fs.String("config", "wakegate.toml", "Path to configuration file"),
		addr:       fs.String("addr", "", "API address (overrides http_api.addr)"),
		key:        fs.String("key", "", "API key (overrides http_api.api_key)"),
	}
}

// client builds an API client from flags, falling back to the config file
// for anything not given on the command line.
func (f connectionFlags) client() (*apiClient, error) {
	addr, key := *f.addr, *f.key
	if addr == "" || key == "" {
		cfg, err := config.Load(*f.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", *f.configPath, err)
		}
		if addr == "" {
			addr = cfg.HTTPAPI.Addr
		}
		if key == "" {
			key = cfg.HTTPAPI.APIKey
		}
	}
	if addr == "" {
		return nil, fmt.Errorf("API address is not configured (http_api.addr)")
	}
	if key == "" {
		return nil, fmt.Errorf("API key is not configured (http_api.api_key)")
	}
	return newAPIClient(addr, key), nil
}

func newAPIClient(addr, key string) *apiClient {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &apiClient{
		baseURL:    strings.TrimRight(addr, "/") + "/api/v1",
		apiKey:     key,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *apiClient) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
