package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SwapsTotal tracks executed swaps by outcome
	SwapsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binledger_swaps_total",
			Help: "The total number of swap executions",
		},
		[]string{"status"}, // success, slippage_exceeded, insufficient_liquidity, overflow, corruption, failed
	)

	// BinsTouchedPerSwap tracks how many bins a swap consumed liquidity from
	BinsTouchedPerSwap = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binledger_bins_touched_per_swap",
		Help:    "Number of bins a single swap consumed liquidity from",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512 bins
	})

	// PositionsOpen tracks currently open liquidity positions
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binledger_positions_open",
		Help: "The number of liquidity positions currently open",
	})

	// LiquidityOperations tracks position lifecycle operations
	LiquidityOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binledger_liquidity_operations_total",
			Help: "The total number of liquidity operations",
		},
		[]string{"operation", "status"}, // open/increase/decrease/close, success/failed
	)

	// FeeSettlements tracks fee accrual and collection calls
	FeeSettlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binledger_fee_settlements_total",
			Help: "The total number of fee accrual and collection operations",
		},
		[]string{"kind"}, // accrue, collect
	)

	// PoolsRegistered tracks pools currently held by the registry
	PoolsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "binledger_pools_registered",
		Help: "The number of pools currently registered",
	})

	// PoolsHalted tracks pools halted after an invariant failure
	PoolsHalted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "binledger_pools_halted_total",
		Help: "The total number of pools halted after state corruption",
	})

	// CheckpointOperations tracks pool checkpoints written to storage
	CheckpointOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binledger_checkpoint_operations_total",
			Help: "The total number of pool checkpoint operations",
		},
		[]string{"operation", "status"}, // save/load, success/failed
	)

	// CheckpointSeconds tracks time taken to checkpoint a pool
	CheckpointSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "binledger_checkpoint_seconds",
		Help:    "Time taken to checkpoint a pool in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordSwap records a swap execution with the given outcome
func RecordSwap(status string) {
	SwapsTotal.WithLabelValues(status).Inc()
}

// ObserveBinsTouched records the number of bins a swap consumed from
func ObserveBinsTouched(n int) {
	BinsTouchedPerSwap.Observe(float64(n))
}

// RecordLiquidityOp records a position lifecycle operation
func RecordLiquidityOp(operation, status string) {
	LiquidityOperations.WithLabelValues(operation, status).Inc()
}

// RecordFeeSettlement records a fee accrual or collection
func RecordFeeSettlement(kind string) {
	FeeSettlements.WithLabelValues(kind).Inc()
}

// RecordCheckpoint records a checkpoint operation
func RecordCheckpoint(operation, status string) {
	CheckpointOperations.WithLabelValues(operation, status).Inc()
}
