package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xsswatch/xsswatch/internal/detect"
)

// locationLabel collapses per-header locations so label cardinality stays
// bounded.
func locationLabel(location string) string {
	switch {
	case location == "":
		return "content"
	case strings.HasPrefix(location, "Header-"):
		return "header"
	default:
		return location
	}
}

type Metrics struct {
	inspectionsTotal      *prometheus.CounterVec
	detectionsTotal       *prometheus.CounterVec
	signatureMatchesTotal *prometheus.CounterVec
	blocksTotal           *prometheus.CounterVec
	attackLogDropped      prometheus.Counter
	inspectionDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inspectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "xsswatch_inspections_total", Help: "Total inspected content fragments"},
			[]string{"location"},
		),
		detectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "xsswatch_detections_total", Help: "Total detected attacks"},
			[]string{"location", "risk"},
		),
		signatureMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "xsswatch_signature_matches_total", Help: "Total signature matches"},
			[]string{"signature"},
		),
		blocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "xsswatch_blocks_total", Help: "Total requests blocked by the gateway"},
			[]string{"route", "reason"},
		),
		attackLogDropped: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "xsswatch_attack_log_dropped_total", Help: "Attack records dropped because the log queue was full"},
		),
		inspectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xsswatch_inspection_duration_seconds",
				Help:    "Time spent matching one content fragment",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"location"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inspectionsTotal,
		m.detectionsTotal,
		m.signatureMatchesTotal,
		m.blocksTotal,
		m.attackLogDropped,
		m.inspectionDuration,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveInspection implements detect.Observer.
func (m *Metrics) ObserveInspection(location string, result detect.Result, elapsed time.Duration) {
	if m == nil {
		return
	}

	label := locationLabel(location)
	m.inspectionsTotal.WithLabelValues(label).Inc()
	m.inspectionDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	if !result.Detected {
		return
	}
	m.detectionsTotal.WithLabelValues(label, result.Risk.String()).Inc()
	for _, match := range result.Matches {
		m.signatureMatchesTotal.WithLabelValues(match.Name).Inc()
	}
}

func (m *Metrics) ObserveBlock(route, reason string) {
	if m == nil {
		return
	}
	m.blocksTotal.WithLabelValues(route, reason).Inc()
}

func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.attackLogDropped.Inc()
}
