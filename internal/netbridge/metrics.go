package netbridge

import "github.com/prometheus/client_golang/prometheus"

// Directions used as the "direction" label.
const (
	DirHostToVM = "host_to_vm"
	DirVMToHost = "vm_to_host"
)

// Metrics holds the bridge's Prometheus counters. A nil *Metrics records
// nothing.
type Metrics struct {
	Forwarded *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Retries   *prometheus.CounterVec
}

// NewMetrics creates the bridge counters and registers them with reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vermuda_bridge_frames_forwarded_total",
			Help: "Frames forwarded by the network bridge",
		}, []string{"direction"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vermuda_bridge_frames_dropped_total",
			Help: "Frames dropped by the network bridge after a send failure",
		}, []string{"direction"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vermuda_bridge_send_retries_total",
			Help: "Send attempts retried because socket buffers were exhausted",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.Forwarded, m.Dropped, m.Retries)
	}
	return m
}

func (m *Metrics) forwarded(dir string) {
	if m != nil {
		m.Forwarded.WithLabelValues(dir).Inc()
	}
}

func (m *Metrics) dropped(dir string) {
	if m != nil {
		m.Dropped.WithLabelValues(dir).Inc()
	}
}

func (m *Metrics) retried(dir string) {
	if m != nil {
		m.Retries.WithLabelValues(dir).Inc()
	}
}
