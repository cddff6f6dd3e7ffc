package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arklim/token-revocation/internal/core/domain"
)

func TestRevocationMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewRevocationMetrics(RevocationMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewRevocationMetrics returned error: %v", err)
	}

	metrics.ObserveCheck(domain.CheckOutcomeFailSecure)
	metrics.ObserveCheck(domain.CheckOutcomeFailSecure)
	metrics.ObserveCheck(domain.CheckOutcomeMiss)
	metrics.IncDurableFailure("get")
	metrics.IncAuditFailure()
	metrics.AddSwept(3)
	metrics.AddSwept(0)
	metrics.SetLocalEntries(7)
	metrics.IncResync("success")

	if got := testutil.ToFloat64(metrics.checks.WithLabelValues("fail_secure")); got != 2 {
		t.Fatalf("expected 2 fail_secure checks, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.checks.WithLabelValues("miss")); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.durableFailures.WithLabelValues("get")); got != 1 {
		t.Fatalf("expected 1 durable get failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.auditFailures); got != 1 {
		t.Fatalf("expected 1 audit failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.swept); got != 3 {
		t.Fatalf("expected 3 swept, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.localEntries); got != 7 {
		t.Fatalf("expected 7 local entries, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.resyncs.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 resync success, got %v", got)
	}
}

func TestRevocationMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRevocationMetrics(RevocationMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("first NewRevocationMetrics returned error: %v", err)
	}
	second, err := NewRevocationMetrics(RevocationMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("second NewRevocationMetrics returned error: %v", err)
	}

	first.IncAuditFailure()
	if got := testutil.ToFloat64(second.auditFailures); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestRevocationMetricsNilSafe(t *testing.T) {
	var metrics *RevocationMetrics
	metrics.ObserveCheck(domain.CheckOutcomeMiss)
	metrics.IncDurableFailure("set")
	metrics.IncAuditFailure()
	metrics.AddSwept(1)
	metrics.SetLocalEntries(1)
	metrics.IncResync("dropped")
}
