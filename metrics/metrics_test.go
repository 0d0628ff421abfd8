package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/quicproto/qtransport/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestPrometheusMetricsServable(t *testing.T) {
	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("could not GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read metrics: %v", err)
	}

	text := string(body)
	for _, want := range []string{
		"quic_handshake_latency_seconds",
		"quic_connections_active",
		"quic_error_total",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected the scrape to contain %q", want)
		}
	}
}
