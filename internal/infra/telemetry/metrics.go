package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
)

// RevocationMetricsOptions configures the revocation collectors.
type RevocationMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// RevocationMetrics implements port.RevocationMetrics with Prometheus collectors.
// A nil *RevocationMetrics is a valid no-op.
type RevocationMetrics struct {
	checks          *prometheus.CounterVec
	durableFailures *prometheus.CounterVec
	auditFailures   prometheus.Counter
	swept           prometheus.Counter
	localEntries    prometheus.Gauge
	resyncs         *prometheus.CounterVec
}

// NewRevocationMetrics constructs and registers the revocation collectors.
func NewRevocationMetrics(opts RevocationMetricsOptions) (*RevocationMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "token_revocation"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	checks, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Revocation checks partitioned by how they were decided.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	durableFailures, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "durable_failures_total",
		Help:      "Durable store operations that failed or timed out, partitioned by operation.",
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}

	auditFailures, err := Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_failures_total",
		Help:      "Audit events the sink could not accept.",
	}))
	if err != nil {
		return nil, err
	}

	swept, err := Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "local_swept_total",
		Help:      "Expired entries removed from the local revocation cache.",
	}))
	if err != nil {
		return nil, err
	}

	localEntries, err := Register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "local_entries",
		Help:      "Current number of entries in the local revocation cache.",
	}))
	if err != nil {
		return nil, err
	}

	resyncs, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resync_total",
		Help:      "Background durable resynchronisation attempts partitioned by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	return &RevocationMetrics{
		checks:          checks,
		durableFailures: durableFailures,
		auditFailures:   auditFailures,
		swept:           swept,
		localEntries:    localEntries,
		resyncs:         resyncs,
	}, nil
}

// Register adds the collector, reusing an identical collector that is already registered.
func Register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return collector, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}

func (m *RevocationMetrics) ObserveCheck(outcome domain.CheckOutcome) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(string(outcome)).Inc()
}

func (m *RevocationMetrics) IncDurableFailure(operation string) {
	if m == nil {
		return
	}
	m.durableFailures.WithLabelValues(operation).Inc()
}

func (m *RevocationMetrics) IncAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *RevocationMetrics) AddSwept(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

func (m *RevocationMetrics) SetLocalEntries(count int) {
	if m == nil {
		return
	}
	m.localEntries.Set(float64(count))
}

func (m *RevocationMetrics) IncResync(result string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(result).Inc()
}

var _ port.RevocationMetrics = (*RevocationMetrics)(nil)
