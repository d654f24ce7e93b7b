package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_fills_total",
			Help: "Total number of simulated fills (by order tag).",
		},
		[]string{"tag"},
	)

	BalanceGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_balance",
			Help: "Current account balance of the running simulation.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_equity",
			Help: "Current account equity of the running simulation.",
		},
	)

	ClosestBankruptcy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_closest_bankruptcy",
			Help: "Smallest relative distance to the bankruptcy price seen so far.",
		},
	)

	SolverDivergences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_solver_divergences_total",
			Help: "Numerical inverter runs that missed the 15% tolerance (by solver).",
		},
		[]string{"solver"},
	)

	LiquidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbot_liquidations_total",
			Help: "Simulated runs terminated by the bankruptcy proximity check.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FillsTotal, BalanceGauge, EquityGauge,
		ClosestBankruptcy, SolverDivergences, LiquidationsTotal,
	)
}
