// Package metrics exposes engine counters in Prometheus text format.
//
//   - moonbot_entries_total{path}          – positions opened, by qualification path
//   - moonbot_exits_total{reason}          – exits split by reason
//   - moonbot_gateway_calls_total{outcome} – gateway invocations by outcome
//   - moonbot_open_positions               – current open position count (gauge)
//   - moonbot_total_pnl_usd                – realized P&L snapshot (gauge)
//   - moonbot_treasury_swept_usd{dest}     – cumulative treasury sweeps
//
// Registered in init() and served at /metrics when METRICS_ADDR is set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	Entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moonbot_entries_total",
			Help: "Positions opened, by qualification path",
		},
		[]string{"path"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moonbot_exits_total",
			Help: "Position exits split by reason",
		},
		[]string{"reason"},
	)

	GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moonbot_gateway_calls_total",
			Help: "Action gateway invocations by outcome",
		},
		[]string{"outcome"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moonbot_open_positions",
			Help: "Current open position count",
		},
	)

	TotalPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moonbot_total_pnl_usd",
			Help: "Realized P&L in USD",
		},
	)

	TreasurySwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moonbot_treasury_swept_usd",
			Help: "Cumulative USD swept to each treasury destination",
		},
		[]string{"dest"},
	)
)

func init() {
	prometheus.MustRegister(Entries, Exits, GatewayCalls, OpenPositions, TotalPnL, TreasurySwept)
}

// Serve starts the /metrics listener. Blocking; run in a goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Info().Str("addr", addr).Msg("📊 Metrics listener started")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics listener stopped")
	}
}
