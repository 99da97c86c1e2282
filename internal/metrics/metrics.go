// Package metrics exposes light totals and daemon activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dokzlo13/lightmeter/internal/light"
)

const namespace = "lightmeter"

// Metrics implements registry.Observer.
type Metrics struct {
	registry *prometheus.Registry

	runtime   *prometheus.GaugeVec
	energy    *prometheus.GaugeVec
	on        *prometheus.GaugeVec
	watts     *prometheus.GaugeVec
	forcedOff *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	labels := []string{"light", "name", "class"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runtime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_seconds_total",
			Help:      "Accumulated on-time per light.",
		}, labels),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "energy_watt_hours_total",
			Help:      "Accumulated energy per light.",
		}, labels),
		on: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "light_on",
			Help:      "1 if the light is currently on.",
		}, labels),
		watts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rated_watts",
			Help:      "Rated power draw per light.",
		}, labels),
		forcedOff: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_off_total",
			Help:      "Forced-off attempts after a missed auto-off deadline, by result.",
		}, []string{"light", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.runtime,
		m.energy,
		m.on,
		m.watts,
		m.forcedOff,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLight updates the per-light gauges.
func (m *Metrics) ObserveLight(p light.Profile, t light.Tracked) {
	if m == nil {
		return
	}
	lv := []string{p.ID, p.Name, string(p.Class)}
	m.runtime.WithLabelValues(lv...).Set(t.RuntimeSeconds)
	m.energy.WithLabelValues(lv...).Set(t.EnergyWattHours)
	m.watts.WithLabelValues(lv...).Set(p.Watts)
	on := 0.0
	if t.IsOn {
		on = 1
	}
	m.on.WithLabelValues(lv...).Set(on)
}

// ObserveForcedOff counts a forced-off attempt.
func (m *Metrics) ObserveForcedOff(id string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.forcedOff.WithLabelValues(id, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and duration for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
