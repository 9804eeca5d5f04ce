// Package pipeline drives closed candles from the gateway through the
// indicator engine, pattern detector, position guard, and order path.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/indicators"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/metrics"
	"mt5-trader/internal/models"
	"mt5-trader/internal/strategy"
	"mt5-trader/internal/trading"
)

// Journal persists signals and order outcomes. A nil journal disables
// persistence; write failures never block the bar path.
type Journal interface {
	RecordSignal(ctx context.Context, sig *models.Signal) error
	RecordOrder(ctx context.Context, result *models.OrderResult) error
}

// Pipeline processes one closed candle at a time: indicators first, then
// pattern detection, then guard maintenance, and finally the order path
// for live signals. It owns the indicator and detector state and must
// only ever be driven by a single goroutine.
type Pipeline struct {
	gw       gateway.Gateway
	engine   *indicators.Engine
	detector *strategy.Detector
	guard    *trading.Guard
	planner  *trading.Planner
	exec     *trading.Execution
	journal  Journal
	symbol   string
	logger   zerolog.Logger
}

// NewPipeline wires the per-instrument processing chain. journal may be
// nil.
func NewPipeline(
	gw gateway.Gateway,
	engine *indicators.Engine,
	detector *strategy.Detector,
	guard *trading.Guard,
	planner *trading.Planner,
	exec *trading.Execution,
	journal Journal,
	symbol string,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		gw:       gw,
		engine:   engine,
		detector: detector,
		guard:    guard,
		planner:  planner,
		exec:     exec,
		journal:  journal,
		symbol:   symbol,
		logger:   logging.WithComponent(logger, "pipeline").With().Str("symbol", symbol).Logger(),
	}
}

// Warm replays historical candles through the indicator engine and the
// detector windows without touching the guard or the order path. Signals
// surfacing during warmup are discarded.
func (p *Pipeline) Warm(ctx context.Context, candles []models.Candle) {
	for _, candle := range candles {
		snap := p.engine.Consume(candle)
		p.detector.OnClosed(candle, snap, false)
	}
	if n := len(candles); n > 0 {
		p.logger.Info().
			Int("bars", n).
			Int("bars_seen", p.engine.BarsSeen()).
			Msg("indicator warmup complete")
	}
}

// HandleBar processes one closed candle. The indicator and detector
// streams are updated before any fallible call so a returned error never
// leaves them out of step; callers must not feed the same bar twice.
func (p *Pipeline) HandleBar(ctx context.Context, candle models.Candle, isLive bool) error {
	// Step 1: indicators consume the bar and produce the aligned snapshot.
	snap := p.engine.Consume(candle)
	metrics.SetBarsUntilReady("ema", snap.BarsUntilEMA)
	metrics.SetBarsUntilReady("histogram", snap.BarsUntilHistogram)

	p.logger.Debug().
		Int64("epoch", candle.Epoch).
		Float64("close", candle.Close).
		Bool("live", isLive).
		Bool("indicators_ready", snap.Ready()).
		Msg("bar closed")

	// Step 2: the detector rolls its windows and may emit a signal.
	signal := p.detector.OnClosed(candle, snap, isLive)

	// Step 3: guard maintenance runs on every closed bar, live or not, so
	// break-even and trailing never depend on catch-up timing.
	if err := p.guard.Evaluate(ctx, candle, snap); err != nil {
		metrics.IncGatewayError("guard")
		return apperrors.Wrap(err, "guard evaluation")
	}

	if signal == nil {
		return nil
	}

	// Step 4: persist the signal before acting on it.
	p.recordSignal(ctx, signal)
	metrics.IncSignal(signal.Symbol, string(signal.Side), signal.IsLive)

	// Step 5: stale signals update state only; orders need a live bar.
	if !signal.IsLive {
		p.logger.Info().
			Str("side", string(signal.Side)).
			Int64("epoch", signal.Epoch).
			Msg("stale signal, order path skipped")
		return nil
	}

	return p.submit(ctx, signal, candle, snap)
}

// submit runs the order path for one live signal: entry gates, plan,
// execute, persist.
func (p *Pipeline) submit(ctx context.Context, signal *models.Signal, candle models.Candle, snap indicators.Snapshot) error {
	open, err := p.guard.HasOpenPosition(ctx)
	if err != nil {
		metrics.IncGatewayError("open_positions")
		return apperrors.Wrap(err, "position gate")
	}
	if open {
		p.logger.Info().Str("side", string(signal.Side)).Msg("position already open, signal not traded")
		metrics.IncOrderSkip("position_open")
		return nil
	}

	if now := time.Now().UTC(); p.guard.InFreeze(now) {
		p.logger.Info().
			Str("side", string(signal.Side)).
			Time("freeze_until", p.guard.FreezeUntil()).
			Msg("freeze window active, signal not traded")
		metrics.IncOrderSkip("freeze")
		return nil
	}

	meta, err := p.gw.SymbolMeta(ctx, p.symbol)
	if err != nil {
		metrics.IncGatewayError("symbol_meta")
		return apperrors.Wrapf(err, "symbol meta for %s", p.symbol)
	}

	plan := p.planner.BuildPlan(p.symbol, signal.Side, p.detector.Window(), meta, signal.Time, snap, candle.Close)
	if plan == nil {
		p.logger.Info().Str("side", string(signal.Side)).Msg("no plan built, signal not traded")
		return nil
	}

	result, err := p.exec.Execute(ctx, plan)
	if err != nil {
		metrics.IncGatewayError("execute")
		return apperrors.Wrap(err, "order execution")
	}
	if result == nil {
		return nil
	}

	p.recordOrder(ctx, result)
	metrics.IncOrder(result.Symbol, string(result.Side), string(result.Status))
	return nil
}

func (p *Pipeline) recordSignal(ctx context.Context, sig *models.Signal) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordSignal(ctx, sig); err != nil {
		p.logger.Error().Err(err).Str("signal_id", sig.ID).Msg("journal signal write failed")
	}
}

func (p *Pipeline) recordOrder(ctx context.Context, result *models.OrderResult) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordOrder(ctx, result); err != nil {
		p.logger.Error().Err(err).Int64("ticket", result.Ticket).Msg("journal order write failed")
	}
}
