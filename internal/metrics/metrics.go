package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "npmmeta_probes_total",
		Help: "Total number of stream probes, labelled by resulting status",
	}, []string{"status"})
	probeCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "npmmeta_probe_cycles_total",
		Help: "Total number of completed health daemon probe cycles",
	})
	probeCyclesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "npmmeta_probe_cycles_skipped_total",
		Help: "Total number of probe cycles skipped because no stream list was available",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(probesTotal, probeCyclesTotal, probeCyclesSkipped)
}

// IncProbe increments the probe counter for the given result status.
func IncProbe(status string) { probesTotal.WithLabelValues(status).Inc() }

// IncProbeCycle increments the completed cycle counter.
func IncProbeCycle() { probeCyclesTotal.Inc() }

// IncProbeCycleSkipped increments the skipped cycle counter.
func IncProbeCycleSkipped() { probeCyclesSkipped.Inc() }
