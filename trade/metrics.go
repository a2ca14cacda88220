package trade

import (
	"sync"
	"time"

	"github.com/cpacia/xmrescrow/models"
	"github.com/prometheus/client_golang/prometheus"
)

type tradeMetrics struct {
	openTrades *prometheus.GaugeVec
	pipelines  *prometheus.HistogramVec
	acks       *prometheus.CounterVec
	timeouts   prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *tradeMetrics
)

// protocolMetrics registers the trade collectors the first time it is
// called. Every protocol in the process shares them.
func protocolMetrics() *tradeMetrics {
	metricsOnce.Do(func() {
		metrics = &tradeMetrics{
			openTrades: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "xmrescrow",
				Subsystem: "trade",
				Name:      "open",
				Help:      "Open trades by phase.",
			}, []string{"phase"}),
			pipelines: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "xmrescrow",
				Subsystem: "trade",
				Name:      "pipeline_seconds",
				Help:      "Duration of protocol steps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"step", "result"}),
			acks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xmrescrow",
				Subsystem: "trade",
				Name:      "acks_total",
				Help:      "Trade acknowledgments by direction and result.",
			}, []string{"direction", "result"}),
			timeouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "xmrescrow",
				Subsystem: "trade",
				Name:      "timeouts_total",
				Help:      "Trades failed by timeout.",
			}),
		}
		prometheus.MustRegister(metrics.openTrades, metrics.pipelines, metrics.acks, metrics.timeouts)
	})
	return metrics
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *tradeMetrics) observeStep(step string, err error, d time.Duration) {
	m.pipelines.WithLabelValues(step, resultLabel(err)).Observe(d.Seconds())
}

func (m *tradeMetrics) ack(direction string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.acks.WithLabelValues(direction, result).Inc()
}

func (m *tradeMetrics) opened(p models.TradePhase) {
	m.openTrades.WithLabelValues(p.String()).Inc()
}

func (m *tradeMetrics) moved(from, to models.TradePhase) {
	if from == to {
		return
	}
	m.openTrades.WithLabelValues(from.String()).Dec()
	m.openTrades.WithLabelValues(to.String()).Inc()
}

func (m *tradeMetrics) closed(p models.TradePhase) {
	m.openTrades.WithLabelValues(p.String()).Dec()
}
