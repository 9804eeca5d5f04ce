// Package metrics exposes Prometheus counters and gauges the bot
// updates while it runs:
//
//   - bot_candles_processed_total{symbol}     – closed bars fed through the pipeline
//   - bot_backfill_bars_total{symbol}         – bars recovered by gap backfill
//   - bot_signals_total{symbol,side,live}     – pattern signals by direction
//   - bot_orders_total{symbol,side,status}    – order submissions by outcome
//   - bot_order_skips_total{reason}           – trades dropped before submission
//   - bot_stop_moves_total{symbol,reason}     – protective stop modifications
//   - bot_guard_state{state}                  – position guard stage (0/1 per label)
//   - bot_account_balance                     – last balance snapshot
//   - bot_bars_until_ready{indicator}         – indicator warmup countdowns
//   - bot_gateway_errors_total{op}            – gateway call failures
//
// Everything is registered in init() and served by Serve at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	candlesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_candles_processed_total",
			Help: "Closed bars fed through the pipeline",
		},
		[]string{"symbol"},
	)

	backfillBars = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_backfill_bars_total",
			Help: "Bars recovered by gap backfill",
		},
		[]string{"symbol"},
	)

	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Pattern signals by direction",
		},
		[]string{"symbol", "side", "live"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Order submissions by outcome",
		},
		[]string{"symbol", "side", "status"},
	)

	// Reasons are things like no_quote, nudge_rejected, zero_lot,
	// position_open, freeze, non_fill.
	orderSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_skips_total",
			Help: "Trades dropped before submission, by reason",
		},
		[]string{"reason"},
	)

	stopMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stop_moves_total",
			Help: "Protective stop modifications by reason",
		},
		[]string{"symbol", "reason"},
	)

	// bot_guard_state exposes one labeled series per stage and flips
	// them between 0/1 to keep dashboards simple.
	guardState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_guard_state",
			Help: "Position guard stage (IDLE/TRACKING/ARMED as separate labeled series)",
		},
		[]string{"state"},
	)

	accountBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_account_balance",
			Help: "Last account balance snapshot",
		},
	)

	barsUntilReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_bars_until_ready",
			Help: "Bars remaining until an indicator produces values",
		},
		[]string{"indicator"},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_gateway_errors_total",
			Help: "Gateway call failures by operation",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(candlesProcessed, backfillBars)
	prometheus.MustRegister(signals, orders, orderSkips)
	prometheus.MustRegister(stopMoves, guardState)
	prometheus.MustRegister(accountBalance, barsUntilReady, gatewayErrors)
}

func IncCandleProcessed(symbol string) { candlesProcessed.WithLabelValues(symbol).Inc() }

func AddBackfillBars(symbol string, n int) {
	backfillBars.WithLabelValues(symbol).Add(float64(n))
}

func IncSignal(symbol, side string, live bool) {
	liveLabel := "false"
	if live {
		liveLabel = "true"
	}
	signals.WithLabelValues(symbol, side, liveLabel).Inc()
}

func IncOrder(symbol, side, status string) { orders.WithLabelValues(symbol, side, status).Inc() }

func IncOrderSkip(reason string) { orderSkips.WithLabelValues(reason).Inc() }

func IncStopMove(symbol, reason string) { stopMoves.WithLabelValues(symbol, reason).Inc() }

// SetGuardState raises the series matching the current stage and zeroes
// the other two.
func SetGuardState(state string) {
	for _, s := range []string{"IDLE", "TRACKING", "ARMED"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		guardState.WithLabelValues(s).Set(v)
	}
}

func SetAccountBalance(v float64) { accountBalance.Set(v) }

func SetBarsUntilReady(indicator string, n int) {
	barsUntilReady.WithLabelValues(indicator).Set(float64(n))
}

func IncGatewayError(op string) { gatewayErrors.WithLabelValues(op).Inc() }

// Serve starts an HTTP server exposing /metrics and /healthz on addr.
// The server runs on its own goroutine; the caller owns shutdown.
func Serve(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
