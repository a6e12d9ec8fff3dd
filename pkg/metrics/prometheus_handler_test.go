package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestPrometheusHTTPHandler(t *testing.T) {
	PanelPowerCommands.Reset()
	PanelPowerCommands.WithLabelValues("start", "success").Add(3)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	if !strings.Contains(string(body), `wakegate_panel_power_commands_total{result="success",signal="start"} 3`) {
		t.Error("Expected wakegate_panel_power_commands_total sample in response")
	}
	if !strings.Contains(string(body), "wakegate_starting_backends") {
		t.Error("Expected wakegate_starting_backends metric in response")
	}
}
