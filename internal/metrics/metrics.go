// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so instrumentation stays optional in tests.
type Metrics struct {
	requests        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	disables        prometheus.Counter
	uploads         *prometheus.CounterVec
	poolCredentials *prometheus.GaugeVec
}

// New registers the gateway collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antigravity_requests_total",
				Help: "Total chat requests by outcome",
			},
			[]string{"outcome"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antigravity_credential_rotations_total",
				Help: "Credential rotations triggered by upstream failures",
			},
			[]string{"class"},
		),
		disables: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "antigravity_credentials_disabled_total",
				Help: "Credentials permanently disabled after account-level denial",
			},
		),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "antigravity_artifact_uploads_total",
				Help: "Background artifact uploads by kind and result",
			},
			[]string{"kind", "result"},
		),
		poolCredentials: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "antigravity_pool_credentials",
				Help: "Credential pool size by state",
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) RequestCompleted(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CredentialRotated(class string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(class).Inc()
}

func (m *Metrics) CredentialDisabled() {
	if m == nil {
		return
	}
	m.disables.Inc()
}

func (m *Metrics) UploadCompleted(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.uploads.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SetPoolSize(total, enabled int) {
	if m == nil {
		return
	}
	m.poolCredentials.WithLabelValues("total").Set(float64(total))
	m.poolCredentials.WithLabelValues("enabled").Set(float64(enabled))
}
