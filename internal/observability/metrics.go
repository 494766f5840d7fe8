package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce                 sync.Once
	httpDurationHistogram        *prometheus.HistogramVec
	ledgerImbalanceCounter       *prometheus.CounterVec
	idempotencyCounter           *prometheus.CounterVec
	escrowOperationCounter       *prometheus.CounterVec
	escrowIndeterminateCounter   *prometheus.CounterVec
	escrowHoldingMismatchGauge   prometheus.Gauge
	escrowHoldingMismatchCounter prometheus.Counter
	workerRunCounter             *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times double-entry balances diverged",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		escrowOperationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Escrow engine operations by outcome code",
		}, []string{"operation", "result"})

		escrowIndeterminateCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_settlement_indeterminate_total",
			Help: "Escrow operations whose commit failed and need manual reconciliation",
		}, []string{"operation"})

		escrowHoldingMismatchGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_holding_mismatch_current",
			Help: "Escrows whose holding balance disagreed with their status on the last reconciliation run",
		})

		escrowHoldingMismatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_holding_mismatch_total",
			Help: "Holding balance mismatches detected by reconciliation",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			escrowOperationCounter,
			escrowIndeterminateCounter,
			escrowHoldingMismatchGauge,
			escrowHoldingMismatchCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(currency string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

// RecordEscrowOperation counts one engine call. result is "ok" or an error code.
func RecordEscrowOperation(operation, result string) {
	if escrowOperationCounter == nil {
		return
	}
	escrowOperationCounter.WithLabelValues(operation, result).Inc()
}

func IncrementSettlementIndeterminate(operation string) {
	if escrowIndeterminateCounter == nil {
		return
	}
	escrowIndeterminateCounter.WithLabelValues(operation).Inc()
}

// SetHoldingMismatches publishes the mismatch count of one reconciliation pass.
func SetHoldingMismatches(n int) {
	if escrowHoldingMismatchGauge == nil {
		return
	}
	escrowHoldingMismatchGauge.Set(float64(n))
	escrowHoldingMismatchCounter.Add(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
