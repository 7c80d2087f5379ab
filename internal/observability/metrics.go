package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrouter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payrouter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrouter",
			Name:      "transactions_total",
			Help:      "Processed transactions by channel, settlement path and outcome status.",
		},
		[]string{"channel", "settlement", "status"},
	)
	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payrouter",
			Name:      "settlement_duration_seconds",
			Help:      "Gateway or payout call duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"settlement"},
	)
	terminalConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payrouter",
			Subsystem: "terminal",
			Name:      "connections",
			Help:      "Open terminal connections.",
		},
	)
	terminalMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrouter",
			Subsystem: "terminal",
			Name:      "messages_total",
			Help:      "Terminal messages by decode result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			transactions,
			settlementDuration,
			terminalConnections,
			terminalMessages,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransaction(channel, settlement, status string) {
	RegisterMetrics()
	if settlement == "" {
		settlement = "none"
	}
	transactions.WithLabelValues(channel, settlement, status).Inc()
}

func RecordSettlement(settlement string, duration time.Duration) {
	RegisterMetrics()
	settlementDuration.WithLabelValues(settlement).Observe(duration.Seconds())
}

func TerminalConnOpened() {
	RegisterMetrics()
	terminalConnections.Inc()
}

func TerminalConnClosed() {
	RegisterMetrics()
	terminalConnections.Dec()
}

func RecordTerminalMessage(result string) {
	RegisterMetrics()
	terminalMessages.WithLabelValues(result).Inc()
}
