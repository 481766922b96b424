// Package metrics exposes Prometheus instruments for patch traffic.
package metrics

import (
	"time"

	"cfgsync/internal/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultNamespace = "cfgsync"

// Apply results.
const (
	ResultApplied = "applied"
	ResultIgnored = "ignored"
	ResultResync  = "resync"
)

type Metrics struct {
	// PatchesGenerated counts patches built by the coordinator.
	// Labels: format (1, 2)
	PatchesGenerated *prometheus.CounterVec

	// PatchesApplied counts received patches by outcome.
	// Labels: format (1, 2), result (applied, ignored, resync, failed)
	PatchesApplied *prometheus.CounterVec

	DigestMismatches prometheus.Counter

	// ApplyDuration measures apply time including digest verification.
	// Labels: format (1, 2)
	ApplyDuration *prometheus.HistogramVec

	// DocumentVersion holds the local version vector.
	// Labels: field (admin_epoch, epoch, num_updates)
	DocumentVersion *prometheus.GaugeVec
}

// New registers the instruments with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		PatchesGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_generated_total",
			Help:      "Total patches generated",
		}, []string{"format"}),
		PatchesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_applied_total",
			Help:      "Total patches received, by outcome",
		}, []string{"format", "result"}),
		DigestMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_mismatch_total",
			Help:      "Total applies whose result did not match the patch digest",
		}),
		ApplyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "patch_apply_duration_seconds",
			Help:      "Patch apply latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"format"}),
		DocumentVersion: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "document_version",
			Help:      "Current version vector of the local document",
		}, []string{"field"}),
	}
}

func (m *Metrics) RecordGenerated(format string) {
	m.PatchesGenerated.WithLabelValues(format).Inc()
}

func (m *Metrics) RecordApplied(format, result string, took time.Duration) {
	m.PatchesApplied.WithLabelValues(format, result).Inc()
	m.ApplyDuration.WithLabelValues(format).Observe(took.Seconds())
}

func (m *Metrics) RecordDigestMismatch() {
	m.DigestMismatches.Inc()
}

func (m *Metrics) SetVersion(v version.Vector) {
	m.DocumentVersion.WithLabelValues(version.AttrAdminEpoch).Set(float64(v.AdminEpoch))
	m.DocumentVersion.WithLabelValues(version.AttrEpoch).Set(float64(v.Epoch))
	m.DocumentVersion.WithLabelValues(version.AttrNumUpdates).Set(float64(v.NumUpdates))
}
