package metrics

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type DripMetrics struct {
	operations   *prometheus.CounterVec
	accumulator  prometheus.Gauge
	totalBoosted prometheus.Gauge
	checkpoint   prometheus.Gauge
	rewardsPaid  prometheus.Counter
	minted       prometheus.Counter
	violations   *prometheus.CounterVec
}

var (
	dripOnce     sync.Once
	dripRegistry *DripMetrics
)

func Drip() *DripMetrics {
	dripOnce.Do(func() {
		dripRegistry = &DripMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drip_operations_total",
				Help: "Count of engine operations by name and result kind.",
			}, []string{"operation", "result"}),
			accumulator: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "drip_acc_reward_per_share",
				Help: "Current rewards-per-share accumulator (scaled by 1e18).",
			}),
			totalBoosted: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "drip_total_boosted_shares",
				Help: "Sum of boosted shares across all stakers.",
			}),
			checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "drip_last_reward_checkpoint",
				Help: "Block or timestamp the accumulator was last advanced to.",
			}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drip_rewards_paid_total",
				Help: "Total reward tokens settled to stakers.",
			}),
			minted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "drip_emission_minted_total",
				Help: "Total reward tokens minted by the emission schedule.",
			}),
			violations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "drip_invariant_violations_total",
				Help: "Arithmetic invariant violations by operation.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			dripRegistry.operations,
			dripRegistry.accumulator,
			dripRegistry.totalBoosted,
			dripRegistry.checkpoint,
			dripRegistry.rewardsPaid,
			dripRegistry.minted,
			dripRegistry.violations,
		)
	})
	return dripRegistry
}

func (m *DripMetrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = "unknown"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *DripMetrics) ObservePool(acc, totalBoosted *uint256.Int, checkpoint uint64) {
	if m == nil {
		return
	}
	m.accumulator.Set(toFloat(acc))
	m.totalBoosted.Set(toFloat(totalBoosted))
	m.checkpoint.Set(float64(checkpoint))
}

func (m *DripMetrics) ObserveRewardPaid(amount *uint256.Int) {
	if m == nil || amount == nil {
		return
	}
	m.rewardsPaid.Add(toFloat(amount))
}

func (m *DripMetrics) ObserveMinted(amount *uint256.Int) {
	if m == nil || amount == nil {
		return
	}
	m.minted.Add(toFloat(amount))
}

func (m *DripMetrics) ObserveInvariantViolation(operation string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.violations.WithLabelValues(operation).Inc()
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
