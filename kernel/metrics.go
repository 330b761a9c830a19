package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts kernel lifecycle events on a private registry. The
// counters are updated with the kernel lock held.
type Metrics struct {
	procs    prometheus.Counter
	reaped   prometheus.Counter
	live     prometheus.Gauge
	threads  prometheus.Counter
	pipes    prometheus.Counter
	conns    prometheus.Counter
	timeouts prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tinyos"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.procs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processes_created_total",
		Help:      "Total number of processes created",
	})
	m.reaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processes_reaped_total",
		Help:      "Total number of zombie processes reaped by a parent",
	})
	m.live = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "processes",
		Help:      "Number of process table slots in use",
	})
	m.threads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "threads_created_total",
		Help:      "Total number of threads created",
	})
	m.pipes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipes_created_total",
		Help:      "Total number of pipes created",
	})
	m.conns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_accepted_total",
		Help:      "Total number of socket connections accepted",
	})
	m.timeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_timeouts_total",
		Help:      "Total number of connect requests that timed out",
	})
	m.registry.MustRegister(m.procs, m.reaped, m.live, m.threads, m.pipes, m.conns, m.timeouts)
	return m
}

// Registry returns the registry holding the kernel's metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
