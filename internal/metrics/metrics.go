package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transactional executor
	TxAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "tx",
		Name:      "attempts_total",
		Help:      "Store transaction attempts by operation and outcome",
	}, []string{"op", "outcome"})

	TxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "tx",
		Name:      "failures_total",
		Help:      "Operations that failed after exhausting retries",
	}, []string{"op"})

	TxLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ledger",
		Subsystem: "tx",
		Name:      "duration_seconds",
		Help:      "Wall time of an executor call including retries",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"op"})

	// Deposits
	DepositNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "deposit",
		Name:      "notifications_total",
		Help:      "Deposit notification rows recorded by state",
	}, []string{"state"})

	DepositsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "deposit",
		Name:      "settled_total",
		Help:      "Deposit notifications credited to balances",
	})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "deposit",
		Name:      "sweeps_total",
		Help:      "Confirmation sweeps by outcome",
	}, []string{"outcome"})

	// Transfers and withdrawals
	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "transfer",
		Name:      "requests_total",
		Help:      "Transfer requests by result",
	}, []string{"result"})

	WithdrawalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "withdrawal",
		Name:      "requests_total",
		Help:      "Withdrawal requests by result",
	}, []string{"result"})

	WithdrawalBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "withdrawal",
		Name:      "batches_total",
		Help:      "Withdrawal payout batches by outcome",
	}, []string{"outcome"})

	WithdrawalRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "withdrawal",
		Name:      "rows_total",
		Help:      "Withdrawal requests finished by final status",
	}, []string{"status"})

	// Coin daemon
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Coin daemon RPC calls by method and status",
	}, []string{"method", "status"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ledger",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Coin daemon RPC call duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "RPC calls delayed by the client-side rate limiter",
	})

	// Events
	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledger",
		Subsystem: "events",
		Name:      "publish_errors_total",
		Help:      "Ledger events that could not be published",
	}, []string{"topic"})
)
