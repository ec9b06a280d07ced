package observability

import (
	"context"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/simulations", 201, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/simulations/abc123", 404, 0.005)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/queries", 500, 0.001)
}

func TestRecordSimulationAndQueryMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordSimulationStarted(ctx, "countdown")
	metrics.RecordSimulationStarted(ctx, "custom_control")
	metrics.RecordSimulationEnded(ctx, "countdown", true, 3*time.Second)
	metrics.RecordSimulationEnded(ctx, "custom_control", false, time.Minute)
	metrics.RecordQuery(ctx, "complete", 120*time.Millisecond)
	metrics.RecordQuery(ctx, "timeout", 10*time.Millisecond)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/livez", "/livez"},
		{"/metrics", "/metrics"},
		{"/v1/simulations", "/v1/simulations"},
		{"/v1/simulations/", "/v1/simulations/"},
		{"/v1/simulations/abc123", "/v1/simulations/{simId}"},
		{"/v1/simulations/abc123/archive", "/v1/simulations/{simId}/archive"},
		{"/other/path", "/other/path"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
