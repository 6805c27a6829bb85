package router

import "github.com/prometheus/client_golang/prometheus"

var (
	switchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locanara",
			Subsystem: "router",
			Name:      "switches_total",
			Help:      "Total switch-queue operations by name and result",
		},
		[]string{"op", "result"},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "locanara",
			Subsystem: "router",
			Name:      "evictions_total",
			Help:      "Total backend unloads triggered by critical memory pressure",
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "locanara",
			Subsystem: "router",
			Name:      "generations_total",
			Help:      "Total generations dispatched by engine and transport",
		},
		[]string{"engine", "transport"},
	)
)

func init() {
	prometheus.MustRegister(switchesTotal, evictionsTotal, generationsTotal)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
