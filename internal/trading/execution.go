package trading

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/metrics"
	"mt5-trader/internal/models"
	"mt5-trader/internal/risk"
	"mt5-trader/pkg/utils"
)

// NudgePolicy decides what happens when a planned stop sits inside the
// broker's minimum stop distance.
type NudgePolicy string

const (
	// NudgeOff rejects any trade whose stop is too close.
	NudgeOff NudgePolicy = "off"
	// NudgeConservative widens the stop only when the required widening
	// factor stays within the configured bound.
	NudgeConservative NudgePolicy = "conservative"
	// NudgeFlexible always widens the stop to the broker minimum.
	NudgeFlexible NudgePolicy = "flexible"
)

// ExecutionConfig carries the order-routing knobs.
type ExecutionConfig struct {
	NudgePolicy NudgePolicy
	NudgeFactor float64
	Deviation   int
	Magic       int64
	Comment     string
}

// Execution turns an order plan into a live market order: preflight
// data fetches, stop-nudge policy, take-profit recomputation, lot
// sizing, and submission.
type Execution struct {
	gw     gateway.Gateway
	risk   *risk.Engine
	cfg    ExecutionConfig
	logger zerolog.Logger
}

// NewExecution creates an execution engine routing orders through gw.
func NewExecution(gw gateway.Gateway, riskEngine *risk.Engine, cfg ExecutionConfig, logger zerolog.Logger) *Execution {
	return &Execution{
		gw:     gw,
		risk:   riskEngine,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "execution"),
	}
}

// Execute submits a market order for the plan against live broker
// state. A nil result with a nil error means a policy or data check
// skipped the trade; errors are reserved for gateway failures. The
// signal is never retried either way.
func (e *Execution) Execute(ctx context.Context, plan *models.OrderPlan) (*models.OrderResult, error) {
	symbol := plan.Symbol

	meta, err := e.gw.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, apperrors.Wrapf(err, "symbol meta for %s", symbol)
	}

	e.logger.Debug().
		Str("symbol", symbol).
		Str("side", string(plan.Side)).
		Float64("rr", plan.RiskReward).
		Str("planned_sl", utils.FormatPrice(plan.StopLoss, meta.Digits)).
		Msg("received order plan")

	balance, err := e.gw.AccountBalance(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "account balance")
	}
	metrics.SetAccountBalance(balance)

	quote, err := e.gw.Quote(ctx, symbol)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoQuote) {
			e.logger.Warn().Str("symbol", symbol).Msg("no live quote, skipping order")
			metrics.IncOrderSkip("no_quote")
			return nil, nil
		}
		return nil, apperrors.Wrapf(err, "quote for %s", symbol)
	}

	entry := quote.EntryPrice(plan.Side)

	sl, ok := e.nudgeStop(plan.StopLoss, entry, plan.Side, meta)
	if !ok {
		e.logger.Info().Str("symbol", symbol).Msg("stop nudge policy rejected the trade")
		metrics.IncOrderSkip("nudge_rejected")
		return nil, nil
	}

	tp := computeTakeProfit(entry, sl, plan.RiskReward, plan.Side)
	sl = utils.RoundPrice(sl, meta.Digits)
	tp = utils.RoundPrice(tp, meta.Digits)

	lot, riskUsed := e.risk.ComputeLot(balance, entry, sl, meta)
	if lot <= 0 {
		e.logger.Info().Str("symbol", symbol).Msg("lot computed as zero, skipping order")
		metrics.IncOrderSkip("zero_lot")
		return nil, nil
	}

	req := models.OrderRequest{
		Symbol:     symbol,
		Side:       plan.Side,
		Volume:     lot,
		StopLoss:   sl,
		TakeProfit: tp,
		Deviation:  e.cfg.Deviation,
		Magic:      e.cfg.Magic,
		Comment:    e.cfg.Comment,
		ClientID:   uuid.NewString(),
	}

	result, err := e.gw.PlaceMarketOrder(ctx, req)
	if err != nil {
		return nil, apperrors.Wrapf(err, "order send for %s", symbol)
	}
	if !result.Filled() {
		reason := "UNKNOWN"
		if result != nil && result.Reason != "" {
			reason = result.Reason
		}
		e.logger.Info().Str("symbol", symbol).Str("reason", reason).Msg("order rejected")
		metrics.IncOrderSkip("non_fill")
		return nil, nil
	}

	e.logger.Debug().Float64("risk_used", riskUsed).Msg("order risk committed")
	logging.LogOrder(e.logger, symbol, string(plan.Side), string(result.Status), lot, result.Entry, result.StopLoss, result.TakeProfit)

	return result, nil
}

// nudgeStop validates the planned stop against the broker minimum
// distance and applies the configured policy. The boolean is false when
// the policy forbids the trade.
func (e *Execution) nudgeStop(plannedSL, entry float64, side models.OrderSide, meta models.SymbolMeta) (float64, bool) {
	minDist := meta.MinStopDistance()
	if minDist < 0 {
		minDist = 0
	}

	dist := abs(entry - plannedSL)
	if dist >= minDist-1e-12 {
		return plannedSL, true
	}

	if e.cfg.NudgePolicy == NudgeOff {
		return 0, false
	}
	if e.cfg.NudgePolicy == NudgeConservative {
		required := minDist / math.Max(dist, 1e-12)
		if required > math.Max(1.0, e.cfg.NudgeFactor) {
			return 0, false
		}
	}

	if side == models.OrderSideBuy {
		return entry - minDist, true
	}
	return entry + minDist, true
}

func computeTakeProfit(entry, sl, riskReward float64, side models.OrderSide) float64 {
	riskDist := abs(entry - sl)
	if side == models.OrderSideBuy {
		return entry + riskReward*riskDist
	}
	return entry - riskReward*riskDist
}
