package offer

import (
	"sync"

	"github.com/cpacia/xmrescrow/models"
	"github.com/prometheus/client_golang/prometheus"
)

type offerMetrics struct {
	offers     *prometheus.GaugeVec
	bookOps    *prometheus.CounterVec
	signatures *prometheus.CounterVec
	breaker    prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *offerMetrics
)

func managerMetrics() *offerMetrics {
	metricsOnce.Do(func() {
		metrics = &offerMetrics{
			offers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "xmrescrow",
				Subsystem: "offer",
				Name:      "open",
				Help:      "Open offers by state.",
			}, []string{"state"}),
			bookOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xmrescrow",
				Subsystem: "offer",
				Name:      "book_operations_total",
				Help:      "Offer book operations by type and result.",
			}, []string{"op", "result"}),
			signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xmrescrow",
				Subsystem: "offer",
				Name:      "sign_requests_total",
				Help:      "Sign offer requests by side and result.",
			}, []string{"side", "result"}),
			breaker: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "xmrescrow",
				Subsystem: "offer",
				Name:      "book_breaker_open",
				Help:      "Set while the offer book circuit breaker is open.",
			}),
		}
		prometheus.MustRegister(metrics.offers, metrics.bookOps, metrics.signatures, metrics.breaker)
	})
	return metrics
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *offerMetrics) moved(from, to models.OpenOfferState) {
	if from == to {
		return
	}
	if from != "" {
		m.offers.WithLabelValues(string(from)).Dec()
	}
	if to != models.OpenOfferCanceled && to != models.OpenOfferClosed {
		m.offers.WithLabelValues(string(to)).Inc()
	}
}
