package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the Prometheus vectors recorded by the emergency client. All
// methods are safe on a nil receiver so callers can run without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	Activations     *prometheus.CounterVec
	Reports         *prometheus.CounterVec
	HospitalLookups *prometheus.CounterVec
	ArmingAborts    prometheus.Counter
	ActiveIncidents prometheus.Gauge
	PipelineSeconds prometheus.Histogram
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lifelink"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Emergency activations by outcome",
		}, []string{"outcome"}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Position reports sent to the intake by phase and status",
		}, []string{"phase", "status"}),
		HospitalLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hospital_lookups_total",
			Help:      "Hospital lookups by data source",
		}, []string{"source"}),
		ArmingAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arming_aborts_total",
			Help:      "Holds released before the arming threshold",
		}),
		ActiveIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_incidents",
			Help:      "Incidents currently in the active phase",
		}),
		PipelineSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activation_pipeline_seconds",
			Help:      "Duration of the activation pipeline",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Activations, m.Reports, m.HospitalLookups, m.ArmingAborts, m.ActiveIncidents, m.PipelineSeconds)
	return m
}

// Registry exposes the underlying registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Activation(outcome string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Report(phase string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.Reports.WithLabelValues(phase, status).Inc()
}

func (m *Metrics) HospitalLookup(source string) {
	if m == nil {
		return
	}
	m.HospitalLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) ArmingAborted() {
	if m == nil {
		return
	}
	m.ArmingAborts.Inc()
}

func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ActiveIncidents.Set(1)
		return
	}
	m.ActiveIncidents.Set(0)
}

func (m *Metrics) ObservePipeline(seconds float64) {
	if m == nil {
		return
	}
	m.PipelineSeconds.Observe(seconds)
}
