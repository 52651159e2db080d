package ledger

import (
	"math/big"
	"strconv"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the Prometheus metrics for the ledger.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	poolBalance       *prometheus.GaugeVec
}

// NewMetrics creates and registers the metrics for the ledger.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_ledger_operations_total",
			Help: "Total number of ledger operations, labeled by operation and result.",
		}, []string{"operation", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_ledger_operation_duration_seconds",
			Help:    "Time taken to execute a ledger operation, including store commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		poolBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dex_ledger_pool_balance",
			Help: "Pool balance per asset after the last committed operation. Approximate above 2^53.",
		}, []string{"asset"}),
	}
	reg.MustRegister(m.operationsTotal, m.operationDuration, m.poolBalance)
	return m
}

func (m *Metrics) observe(op Operation, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	m.operationsTotal.WithLabelValues(string(op), result).Inc()
	m.operationDuration.WithLabelValues(string(op)).Observe(seconds)
}

func (m *Metrics) setPoolBalance(asset engine.AssetID, balance *uint256.Int) {
	f, _ := new(big.Float).SetInt(balance.ToBig()).Float64()
	m.poolBalance.WithLabelValues(strconv.FormatUint(uint64(asset), 10)).Set(f)
}
