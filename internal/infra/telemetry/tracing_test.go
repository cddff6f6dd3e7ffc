package telemetry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/token-revocation/internal/infra/config"
)

func TestNewTracerProviderRequiresEndpoint(t *testing.T) {
	if _, err := NewTracerProvider(context.Background(), config.TelemetrySettings{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error without an OTLP endpoint")
	}
}

func TestNewTracerProviderShutsDownCleanly(t *testing.T) {
	cfg := config.TelemetrySettings{OTLPEndpoint: "localhost:4318", SamplingRate: 0.5}
	tp, err := NewTracerProvider(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewTracerProvider returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestClampRatio(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0.25: 0.25, 3: 1}
	for input, want := range cases {
		if got := clampRatio(input); got != want {
			t.Fatalf("clampRatio(%v) = %v, want %v", input, got, want)
		}
	}
}

func TestNilTracerProviderShutdown(t *testing.T) {
	var tp *TracerProvider
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil provider shutdown should be a no-op, got %v", err)
	}
}
