package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wakegate/wakegate/logger"
	"github.com/wakegate/wakegate/pkg/circuitbreaker"
	"github.com/wakegate/wakegate/pkg/metrics"
	"github.com/wakegate/wakegate/pkg/retry"
	"github.com/wakegate/wakegate/server/registry"
	"golang.org/x/sync/semaphore"
)

// maxResponseBody caps how much of a panel response is read
const maxResponseBody = 1 << 20

// httpBase is the transport shared by both dialects
type httpBase struct {
	baseURL       string
	apiKey        string
	client        *http.Client
	sem           *semaphore.Weighted
	threads       int
	rateLimit     *RateLimit
	breaker       *circuitbreaker.CircuitBreaker
	retryInterval time.Duration
	sessions      SessionView
	recorder      Recorder
	closed        atomic.Bool
}

type response struct {
	status int
	body   []byte
}

// errServerStatus marks 5xx responses so the breaker counts them
type errServerStatus struct{ status int }

func (e errServerStatus) Error() string { return fmt.Sprintf("panel returned status %d", e.status) }

func newHTTPBase(opts Options) (*httpBase, error) {
	baseURL, err := normalizeBaseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.APIKey == "" {
		return nil, errors.New("panel api key is required")
	}

	threads := opts.APIThreads
	if threads < 1 {
		threads = DefaultAPIThreads
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	client := opts.HTTPClient
	if client == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        threads * 2,
			MaxIdleConnsPerHost: threads,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		client = &http.Client{Transport: transport, Timeout: timeout}
	}

	h := &httpBase{
		baseURL:       baseURL,
		apiKey:        opts.APIKey,
		client:        client,
		sem:           semaphore.NewWeighted(int64(threads)),
		threads:       threads,
		rateLimit:     NewRateLimit(opts.PrintRateLimit),
		retryInterval: retryInterval,
		sessions:      opts.Sessions,
		recorder:      opts.Recorder,
	}
	if opts.Breaker != nil {
		h.breaker = circuitbreaker.NewCircuitBreaker(*opts.Breaker)
	}
	return h, nil
}

// normalizeBaseURL validates the panel URL and ensures a trailing slash
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("panel url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid panel url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid panel url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid panel url %q: missing host", raw)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}

func (h *httpBase) RateLimit() *RateLimit { return h.rateLimit }

func (h *httpBase) IsServerEmpty(name string) bool {
	if h.sessions == nil {
		return true
	}
	return h.sessions.IsEmpty(name)
}

func (h *httpBase) Shutdown() {
	if h.closed.Swap(true) {
		return
	}
	h.client.CloseIdleConnections()
	logger.Info("[PANEL] Client shut down")
}

// do sends one request holding a worker slot. Every response updates the
// rate limit state regardless of status.
func (h *httpBase) do(ctx context.Context, endpoint, method, path string, body any) (*response, error) {
	if h.closed.Load() {
		return nil, ErrClientClosed
	}
	if h.breaker == nil {
		return h.send(ctx, endpoint, method, path, body)
	}

	res, err := h.breaker.Execute(func() (any, error) {
		r, err := h.send(ctx, endpoint, method, path, body)
		if err != nil {
			return nil, err
		}
		if r.status >= 500 {
			return r, errServerStatus{status: r.status}
		}
		return r, nil
	})
	var statusErr errServerStatus
	if errors.As(err, &statusErr) {
		return res.(*response), nil
	}
	if err != nil {
		return nil, err
	}
	return res.(*response), nil
}

func (h *httpBase) send(ctx context.Context, endpoint, method, path string, body any) (*response, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	metrics.PanelRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	h.rateLimit.Update(resp.Header)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// power issues a power signal. The outcome is logged, counted and audited.
func (h *httpBase) power(ctx context.Context, b registry.Backend, signal Signal) {
	res, err := h.do(ctx, "power", http.MethodPost, "api/client/servers/"+url.PathEscape(b.RemoteID)+"/power", map[string]string{"signal": string(signal)})

	var result error
	switch {
	case err != nil:
		result = err
	case res.status < 200 || res.status > 299:
		result = fmt.Errorf("panel returned status %d", res.status)
	}

	if result != nil {
		outcome := "error"
		if errors.Is(result, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(result, circuitbreaker.ErrTooManyRequests) {
			outcome = "skipped"
		}
		metrics.PanelPowerCommands.WithLabelValues(string(signal), outcome).Inc()
		logger.Error("[PANEL] Power command failed", "server", b.Name, "remote_id", b.RemoteID, "signal", signal, "error", result)
	} else {
		metrics.PanelPowerCommands.WithLabelValues(string(signal), "success").Inc()
		logger.Info("[PANEL] Power command sent", "server", b.Name, "remote_id", b.RemoteID, "signal", signal)
	}

	if h.recorder != nil {
		h.recorder.RecordPower(ctx, b, string(signal), SourceFrom(ctx), result)
	}
}

type resourcesResponse struct {
	Object     string `json:"object"`
	Attributes struct {
		CurrentState string `json:"current_state"`
	} `json:"attributes"`
}

// resourcesOnline asks the panel for the backend's live state. Transient
// transport errors are retried with a fixed backoff; anything else fails
// the check straight away.
func (h *httpBase) resourcesOnline(ctx context.Context, dialect Dialect, b registry.Backend) bool {
	online := false
	cfg := retry.FixedBackoffConfig(h.retryInterval, onlineCheckRetries)
	cfg.OnRetry = func(attempt int, err error) {
		logger.Warn("[PANEL] Transient error checking server, retrying", "server", b.Name, "attempt", attempt, "retries_left", onlineCheckRetries+1-attempt, "error", err)
	}

	err := retry.WithRetryAdvanced(ctx, func() error {
		res, err := h.do(ctx, "resources", http.MethodGet, "api/client/servers/"+url.PathEscape(b.RemoteID)+"/resources", nil)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return retry.Stop(err)
		}
		if res.status != http.StatusOK {
			logger.Debug("[PANEL] Resources request not OK", "server", b.Name, "status", res.status)
			online = false
			return nil
		}
		var rr resourcesResponse
		if err := json.Unmarshal(res.body, &rr); err != nil {
			logger.Warn("[PANEL] Malformed resources response", "server", b.Name, "error", err)
			online = false
			return nil
		}
		online = rr.Object == "stats" && rr.Attributes.CurrentState == "running"
		return nil
	}, cfg)

	if err != nil {
		metrics.PanelOnlineChecks.WithLabelValues(string(dialect), "error").Inc()
		logger.Error("[PANEL] Error checking server status", "server", b.Name, "remote_id", b.RemoteID, "error", err)
		return false
	}
	metrics.PanelOnlineChecks.WithLabelValues(string(dialect), onlineLabel(online)).Inc()
	return online
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
