// Package risk sizes positions from account balance and broker tick
// economics.
package risk

import (
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
	"mt5-trader/pkg/utils"
)

// Engine converts a per-trade risk budget into broker-valid lot sizes.
type Engine struct {
	riskFraction float64
	logger       zerolog.Logger
}

// NewEngine creates a risk engine. riskFraction is the share of the
// account balance put at risk per trade, e.g. 0.01 for 1%.
func NewEngine(riskFraction float64, logger zerolog.Logger) *Engine {
	return &Engine{
		riskFraction: riskFraction,
		logger:       logging.WithComponent(logger, "risk"),
	}
}

// ComputeLot returns the lot size for a trade plus the currency risk it
// commits. The lot is floored to the broker step and stepped down until
// the committed risk fits the budget, except that it never drops below
// the broker minimum. Degenerate inputs (no balance, no stop distance,
// zero tick size) return a zero lot, which callers must treat as "do
// not trade".
func (e *Engine) ComputeLot(balance, entry, stopLoss float64, meta models.SymbolMeta) (float64, float64) {
	e.logger.Debug().
		Float64("balance", balance).
		Str("entry", utils.FormatPrice(entry, meta.Digits)).
		Str("stop_loss", utils.FormatPrice(stopLoss, meta.Digits)).
		Msg("computing lot")

	riskTarget := math.Max(0, balance*e.riskFraction)
	if riskTarget <= 0 {
		return 0, 0
	}

	priceDiff := math.Abs(entry - stopLoss)
	ticks := 0.0
	if meta.TickSize > 0 {
		ticks = priceDiff / meta.TickSize
	}
	riskPerLot := ticks * meta.TickValue
	if riskPerLot <= 0 {
		return 0, 0
	}

	lot := floorToStep(riskTarget/riskPerLot, meta.LotStep)
	lot = math.Max(lot, meta.MinLot)

	riskUsed := lot * riskPerLot
	for lot > meta.MinLot && riskUsed > riskTarget+1e-9 {
		lot = utils.RoundPrice(lot-meta.LotStep, 8)
		if lot < meta.MinLot {
			lot = meta.MinLot
			break
		}
		riskUsed = lot * riskPerLot
	}

	e.logger.Debug().
		Str("lot", utils.FormatLot(lot)).
		Float64("risk_used", riskUsed).
		Msg("computed lot")

	return utils.RoundPrice(lot, decimalsFromStep(meta.LotStep)), riskUsed
}

// BreakEvenPrice returns the price at which closing the position pays
// for its commission. commissionPerLot is charged per side; roundTrip
// doubles it to cover the close as well. Falls back to the raw entry
// when the position cannot convert price movement into profit.
func (e *Engine) BreakEvenPrice(side models.OrderSide, entry, lot float64, digits int, tickValue, tickSize, commissionPerLot float64, roundTrip bool) float64 {
	total := commissionPerLot * lot
	if roundTrip {
		total *= 2
	}

	if tickSize <= 0 {
		return entry
	}
	pnlPerUnit := lot * (tickValue / tickSize)
	if pnlPerUnit <= 0 {
		return entry
	}

	offset := total / pnlPerUnit
	e.logger.Debug().
		Float64("commission_cost", total).
		Str("price_offset", utils.FormatPrice(offset, digits)).
		Msg("break-even calculation")

	if side == models.OrderSideBuy {
		return entry + offset
	}
	return entry - offset
}

func floorToStep(lot, step float64) float64 {
	if step <= 0 {
		return lot
	}
	return math.Floor(lot/step) * step
}

// decimalsFromStep maps a lot step to the decimals it requires, e.g.
// 1.0 -> 0, 0.1 -> 1, 0.01 -> 2.
func decimalsFromStep(step float64) int {
	s := strings.TrimRight(strconv.FormatFloat(step, 'f', 10, 64), "0")
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}
