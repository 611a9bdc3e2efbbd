package posting

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// Metrics exposes Prometheus collectors for ledger postings.
type Metrics struct {
	entries  *prometheus.CounterVec
	negative prometheus.Counter
}

// NewMetrics registers the posting collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_entries_posted_total",
		Help: "Stock ledger entries written by voucher type.",
	}, []string{"voucher_type"})
	negative := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_negative_stock_rejections_total",
		Help: "Shortfalls reported by rejected postings.",
	})
	registerer.MustRegister(entries, negative)
	return &Metrics{entries: entries, negative: negative}
}

func (m *Metrics) recorded(vt ledger.VoucherType, n int) {
	if m == nil || n == 0 {
		return
	}
	m.entries.WithLabelValues(vt.String()).Add(float64(n))
}

func (m *Metrics) negativeStock(n int) {
	if m == nil || n == 0 {
		return
	}
	m.negative.Add(float64(n))
}
