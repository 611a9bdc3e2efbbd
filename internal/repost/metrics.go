package repost

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for repost jobs.
type Metrics struct {
	transitions *prometheus.CounterVec
	reposted    prometheus.Counter
	pairs       prometheus.Counter
}

// NewMetrics registers the repost collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_repost_jobs_total",
		Help: "Repost job status transitions partitioned by target status.",
	}, []string{"status"})
	reposted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_entries_reposted_total",
		Help: "Stock ledger entries rewritten by repost jobs.",
	})
	pairs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_repost_pairs_total",
		Help: "Item and warehouse chains replayed by repost jobs.",
	})
	registerer.MustRegister(transitions, reposted, pairs)
	return &Metrics{transitions: transitions, reposted: reposted, pairs: pairs}
}

func (m *Metrics) transition(status Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) replayed(pairs, entries int) {
	if m == nil {
		return
	}
	m.pairs.Add(float64(pairs))
	m.reposted.Add(float64(entries))
}
