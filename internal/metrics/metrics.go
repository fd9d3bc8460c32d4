// Package metrics exposes station counters to prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/Uranury/mprls-station/mprls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the station collectors, registered on their own registry.
type Metrics struct {
	Registry  *prometheus.Registry
	Readings  *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	LastValue *prometheus.GaugeVec
	Reinits   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mprls_readings_total",
			Help: "Successful sensor readings.",
		}, []string{"sensor"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mprls_read_failures_total",
			Help: "Failed sensor readings by reason.",
		}, []string{"sensor", "reason"}),
		LastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mprls_last_value",
			Help: "Last value read per sensor field.",
		}, []string{"sensor", "field"}),
		Reinits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mprls_reinits_total",
			Help: "Sensor reinitializations after repeated failures.",
		}, []string{"sensor"}),
	}
	m.Registry.MustRegister(m.Readings, m.Failures, m.LastValue, m.Reinits)
	return m
}

// Observe records a successful reading.
func (m *Metrics) Observe(sensor string, fields map[string]float64) {
	m.Readings.WithLabelValues(sensor).Inc()
	for k, v := range fields {
		m.LastValue.WithLabelValues(sensor, k).Set(v)
	}
}

// Fail records a failed reading.
func (m *Metrics) Fail(sensor string, err error) {
	m.Failures.WithLabelValues(sensor, Reason(err)).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Reason classifies a read error into a short label.
func Reason(err error) string {
	switch {
	case errors.Is(err, mprls.ErrTimeout):
		return "timeout"
	case errors.Is(err, mprls.ErrIntegrity):
		return "integrity"
	case errors.Is(err, mprls.ErrMathSaturation):
		return "saturation"
	case errors.Is(err, mprls.ErrDegenerateCurve):
		return "curve"
	case errors.Is(err, mprls.ErrNotInitialized), errors.Is(err, mprls.ErrClosed):
		return "closed"
	}
	return "other"
}
