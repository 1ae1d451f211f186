package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics счетчики передач и генерации актов
type Metrics struct {
	Handovers       *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	DocumentRenders *prometheus.CounterVec
	HandoverLatency *prometheus.HistogramVec
}

// NewMetrics создает и регистрирует метрики в указанном реестре
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Handovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "handovers_total",
			Help:      "Committed handover batches by action and outcome.",
		}, []string{"action", "outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "handover_rejections_total",
			Help:      "Rejected handover requests by action and error kind.",
		}, []string{"action", "kind"}),
		DocumentRenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "custody",
			Name:      "handover_documents_total",
			Help:      "Handover document generation attempts by result.",
		}, []string{"result"}),
		HandoverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "custody",
			Name:      "handover_duration_seconds",
			Help:      "End-to-end handover processing time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}

	if reg != nil {
		reg.MustRegister(m.Handovers, m.Rejections, m.DocumentRenders, m.HandoverLatency)
	}
	return m
}

func (m *Metrics) observeHandover(action, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Handovers.WithLabelValues(action, outcome).Inc()
	m.HandoverLatency.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) observeRejection(action, kind string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(action, kind).Inc()
}

func (m *Metrics) observeDocument(result string) {
	if m == nil {
		return
	}
	m.DocumentRenders.WithLabelValues(result).Inc()
}
