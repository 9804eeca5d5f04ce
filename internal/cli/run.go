package cli

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mt5-trader/internal/config"
	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/indicators"
	"mt5-trader/internal/journal"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/metrics"
	"mt5-trader/internal/models"
	"mt5-trader/internal/pipeline"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/strategy"
	"mt5-trader/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop against the terminal bridge",
		Long: `Connects to the MetaTrader 5 HTTP bridge and runs the candle-close
loop until interrupted. Orders are placed on the live account the
terminal is logged into.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireConfig(); err != nil {
				return err
			}
			return runTrading(cmd.Context(), app, false)
		},
	}
}

func newPaperCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "paper",
		Short: "Run the trading loop against the simulated gateway",
		Long: `Runs the same candle-close loop as "run" against an in-memory
gateway that synthesizes candles and fills orders at the simulated
quote. No terminal or network is involved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireConfig(); err != nil {
				return err
			}
			return runTrading(cmd.Context(), app, true)
		},
	}
}

// buildGateway constructs the gateway for the selected mode.
func buildGateway(cfg *config.Config, paperMode bool, logger zerolog.Logger) gateway.Gateway {
	if paperMode {
		return gateway.NewSim(gateway.SimConfig{
			Symbol:       cfg.Strategy.Symbol,
			Timeframe:    cfg.Timeframe(),
			StartBalance: cfg.Sim.StartBalance,
			StartPrice:   cfg.Sim.StartPrice,
			Spread:       cfg.Sim.Spread,
			Synthesize:   cfg.Sim.Synthesize,
			Seed:         cfg.Sim.Seed,
			HistoryBars:  cfg.Sim.HistoryBars,
		}, logger)
	}
	return gateway.NewBridge(gateway.BridgeConfig{
		BaseURL: cfg.Bridge.BaseURL,
		Token:   cfg.Bridge.Token,
		Timeout: cfg.Bridge.Timeout,
	}, logger)
}

// runTrading wires the full bar path and blocks until ctx is canceled.
func runTrading(ctx context.Context, app *App, paperMode bool) error {
	cfg := app.Config
	logger := app.Logger
	symbol := cfg.Strategy.Symbol
	timeframe := cfg.Timeframe()

	gw := buildGateway(cfg, paperMode, logger)
	if err := gw.Connect(ctx); err != nil {
		return apperrors.Wrap(err, "gateway connect")
	}
	defer gw.Close()
	app.Gateway = gw

	if offset, offErr := gw.ServerTimeOffset(ctx); offErr != nil {
		logger.Debug().Err(offErr).Msg("venue clock offset unavailable")
	} else if offset != 0 {
		logger.Info().Dur("server_offset", offset).Msg("venue clock runs offset from UTC")
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return apperrors.Wrap(err, "journal open")
		}
		defer j.Close()
		jnl = j
		app.Journal = j
		logger.Info().Str("path", cfg.Journal.Path).Msg("journal open")
	}

	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.Addr, logger)
		app.Metrics = srv
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	engine, err := indicators.NewEngine(indicators.Config{
		EMAPeriod:       cfg.Strategy.EMAPeriod,
		MACDFast:        cfg.Strategy.MACDFast,
		MACDSlow:        cfg.Strategy.MACDSlow,
		MACDSignal:      cfg.Strategy.MACDSignal,
		ATRPeriod:       cfg.Strategy.ATRPeriod,
		HistogramWindow: cfg.Strategy.HistogramWindow,
	})
	if err != nil {
		return apperrors.Wrap(err, "indicator engine")
	}

	detector := strategy.NewDetector(symbol, timeframe, cfg.Strategy.DojiRatio, logger)
	riskEngine := risk.NewEngine(cfg.Risk.RiskPerTrade, logger)

	guard := trading.NewGuard(gw, riskEngine, symbol, timeframe, trading.GuardConfig{
		FreezeDuration:      cfg.Guard.FreezeDuration,
		BreakEven:           cfg.Guard.BreakEven,
		Trigger:             trading.BreakEvenTrigger(cfg.Guard.BreakEvenTrigger),
		TakeProfitMode:      trading.TakeProfitMode(cfg.Guard.TakeProfitMode),
		TrailMultiplier:     cfg.Guard.TrailMultiplier,
		CommissionPerLot:    cfg.Guard.CommissionPerLot,
		CommissionRoundTrip: cfg.Guard.CommissionRoundTrip,
	}, logger)
	guard.SetEvents(&guardEvents{
		journal: jnl,
		symbol:  symbol,
		logger:  logging.WithComponent(logger, "events"),
	})

	planner := trading.NewPlanner(cfg.Risk.RiskReward, cfg.Risk.ATRStopMultiplier, logger)

	exec := trading.NewExecution(gw, riskEngine, trading.ExecutionConfig{
		NudgePolicy: trading.NudgePolicy(cfg.Execution.NudgePolicy),
		NudgeFactor: cfg.Execution.NudgeFactor,
		Deviation:   cfg.Execution.DeviationPoints,
		Magic:       cfg.Execution.Magic,
		Comment:     cfg.Execution.Comment,
	}, logger)

	var sink pipeline.Journal
	if jnl != nil {
		sink = jnl
	}
	pipe := pipeline.NewPipeline(gw, engine, detector, guard, planner, exec, sink, symbol, logger)

	monitor := pipeline.NewMonitor(gw, pipe, symbol, timeframe, pipeline.MonitorConfig{
		Bootstrap:        cfg.Monitor.Bootstrap,
		BootstrapBars:    cfg.Monitor.BootstrapBars,
		PrimingBars:      cfg.Monitor.PrimingBars,
		HydrationRetries: cfg.Monitor.HydrationRetries,
		HydrationDelay:   cfg.Monitor.HydrationDelay,
	}, logger)

	window := trading.NewSessionWindow(cfg.Session.StartHour, cfg.Session.EndHour, cfg.Location())

	onClose := func(cycleCtx context.Context) error {
		if cfg.Metrics.Enabled {
			if balance, balErr := gw.AccountBalance(cycleCtx); balErr == nil {
				metrics.SetAccountBalance(balance)
			}
		}
		return monitor.ProcessOnce(cycleCtx)
	}
	sched := pipeline.NewScheduler(window, timeframe, cfg.Monitor.WakeBuffer, onClose, logger)

	mode := "live"
	if paperMode {
		mode = "paper"
	}
	logger.Info().
		Str("mode", mode).
		Str("symbol", symbol).
		Str("timeframe", timeframe.Human()).
		Str("gateway", gw.Name()).
		Msg("trading loop starting")

	err = sched.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("trading loop stopped")
	return nil
}

// guardEvents fans guard lifecycle notifications out to metrics and the
// journal. Calls arrive on the bar path; journal writes carry their own
// short deadline.
type guardEvents struct {
	journal *journal.Journal
	symbol  string
	logger  zerolog.Logger
}

var _ trading.GuardEvents = (*guardEvents)(nil)

func (e *guardEvents) GuardTransition(from, to trading.GuardState, ticket int64) {
	metrics.SetGuardState(to.String())
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.journal.RecordGuardTransition(ctx, e.symbol, from.String(), to.String(), ticket); err != nil {
		e.logger.Error().Err(err).Int64("ticket", ticket).Msg("journal guard transition write failed")
	}
}

func (e *guardEvents) StopMoved(mod models.StopModification) {
	metrics.IncStopMove(mod.Symbol, mod.Reason)
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.journal.RecordStopMove(ctx, mod); err != nil {
		e.logger.Error().Err(err).Int64("ticket", mod.Ticket).Msg("journal stop move write failed")
	}
}
