package trading

import (
	"time"

	"github.com/rs/zerolog"

	"mt5-trader/internal/indicators"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
	"mt5-trader/pkg/utils"
)

// Planner derives an order plan from the 4-bar pattern window: the
// stop-loss from the window extremes, optionally widened by ATR, with
// the take-profit left for execution to compute against the live entry.
type Planner struct {
	riskReward    float64
	atrMultiplier float64
	logger        zerolog.Logger
}

// NewPlanner creates a planner. atrMultiplier <= 0 disables ATR
// widening of the stop.
func NewPlanner(riskReward, atrMultiplier float64, logger zerolog.Logger) *Planner {
	return &Planner{
		riskReward:    riskReward,
		atrMultiplier: atrMultiplier,
		logger:        logging.WithComponent(logger, "planner"),
	}
}

// BuildPlan builds an OrderPlan from the last 4 candles, oldest first.
// The baseline stop is the window's lowest low for a buy or highest
// high for a sell, rounded to instrument digits. When the snapshot
// carries an ATR and a multiplier is configured, the stop is widened
// (never tightened) until its distance from priceRef reaches
// multiplier times ATR. priceRef <= 0 falls back to the last close.
// Returns nil when fewer than 4 candles are supplied.
func (p *Planner) BuildPlan(symbol string, side models.OrderSide, last4 []models.Candle, meta models.SymbolMeta, signalTime time.Time, snap indicators.Snapshot, priceRef float64) *models.OrderPlan {
	if len(last4) < 4 {
		return nil
	}
	window := last4[len(last4)-4:]

	var sl float64
	if side == models.OrderSideBuy {
		sl = window[0].Low
		for _, c := range window[1:] {
			if c.Low < sl {
				sl = c.Low
			}
		}
	} else {
		sl = window[0].High
		for _, c := range window[1:] {
			if c.High > sl {
				sl = c.High
			}
		}
	}
	sl = utils.RoundPrice(sl, meta.Digits)

	if priceRef <= 0 {
		priceRef = window[3].Close
	}
	sl = p.widenByATR(side, sl, priceRef, snap, meta)

	p.logger.Debug().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("stop_loss", utils.FormatPrice(sl, meta.Digits)).
		Msg("plan built")

	return &models.OrderPlan{
		Symbol:     symbol,
		Side:       side,
		RiskReward: p.riskReward,
		StopLoss:   sl,
		SignalTime: signalTime,
	}
}

// widenByATR pushes the stop away from priceRef until the distance is
// at least multiplier times ATR. Widening only; the pattern stop is
// kept whenever it is already wide enough or rounding would shrink it.
func (p *Planner) widenByATR(side models.OrderSide, sl, priceRef float64, snap indicators.Snapshot, meta models.SymbolMeta) float64 {
	k := p.atrMultiplier
	if k <= 0 || !snap.HasATR {
		return sl
	}

	atrDistance := snap.ATR * k
	baseDistance := abs(priceRef - sl)
	if baseDistance >= atrDistance {
		return sl
	}

	widened := priceRef - atrDistance
	if side == models.OrderSideSell {
		widened = priceRef + atrDistance
	}
	widened = utils.RoundPrice(widened, meta.Digits)

	if abs(priceRef-widened) < baseDistance {
		return sl
	}
	return widened
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
