package trading

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/indicators"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
	"mt5-trader/internal/risk"
	"mt5-trader/pkg/utils"
)

// GuardState is the position guard's lifecycle stage.
type GuardState int

const (
	// GuardIdle means no position is tracked.
	GuardIdle GuardState = iota
	// GuardTracking means a ticket is tracked but break-even has not fired.
	GuardTracking
	// GuardArmed means the stop sits at break-even and trailing may run.
	GuardArmed
)

func (s GuardState) String() string {
	switch s {
	case GuardTracking:
		return "TRACKING"
	case GuardArmed:
		return "ARMED"
	default:
		return "IDLE"
	}
}

// BreakEvenTrigger selects which bar price confirms the move to break-even.
type BreakEvenTrigger string

const (
	// TriggerClose confirms on the bar's closing price.
	TriggerClose BreakEvenTrigger = "close"
	// TriggerExtreme confirms on the bar's favorable extreme (high for
	// longs, low for shorts).
	TriggerExtreme BreakEvenTrigger = "extreme"
)

// TakeProfitMode controls how a position's exit is managed after entry.
type TakeProfitMode string

const (
	// TakeProfitFixed leaves the original take-profit untouched.
	TakeProfitFixed TakeProfitMode = "fixed"
	// TakeProfitTrail replaces the fixed target with an ATR trailing stop.
	TakeProfitTrail TakeProfitMode = "trail"
	// TakeProfitHybrid keeps the fixed target and trails the stop as well.
	TakeProfitHybrid TakeProfitMode = "hybrid"
)

// GuardConfig carries the position-management knobs.
type GuardConfig struct {
	// FreezeDuration blocks new entries for this long after a position
	// closes. Zero disables the freeze window.
	FreezeDuration time.Duration
	// BreakEven enables the move-to-break-even step.
	BreakEven bool
	// Trigger picks the bar price that confirms the break-even move.
	Trigger BreakEvenTrigger
	// TakeProfitMode enables trailing under "trail" and "hybrid".
	TakeProfitMode TakeProfitMode
	// TrailMultiplier scales ATR into the trailing distance.
	TrailMultiplier float64
	// CommissionPerLot is the broker charge per lot per side.
	CommissionPerLot float64
	// CommissionRoundTrip doubles the commission to cover the close.
	CommissionRoundTrip bool
}

// GuardEvents receives position lifecycle notifications for journaling
// and metrics. Calls happen on the pipeline thread; implementations
// must not block.
type GuardEvents interface {
	GuardTransition(from, to GuardState, ticket int64)
	StopMoved(mod models.StopModification)
}

// Guard tracks at most one open position per instrument and manages its
// stop across the position's lifetime. It detects open and close
// transitions by polling the gateway once per closed bar, starts the
// post-close freeze window, and drives the break-even and trailing
// stop adjustments.
//
// State is in-memory only. A restart forgets the freeze window and
// re-adopts any open position on the first bar it sees.
type Guard struct {
	gw        gateway.Gateway
	risk      *risk.Engine
	symbol    string
	timeframe models.Timeframe
	cfg       GuardConfig
	logger    zerolog.Logger
	events    GuardEvents

	state       GuardState
	tracked     models.Position
	breakEven   float64
	freezeUntil time.Time
}

// NewGuard creates an idle guard for one instrument.
func NewGuard(gw gateway.Gateway, riskEngine *risk.Engine, symbol string, timeframe models.Timeframe, cfg GuardConfig, logger zerolog.Logger) *Guard {
	guardLogger := logging.WithComponent(logger, "guard").With().
		Str("symbol", symbol).
		Logger()
	return &Guard{
		gw:        gw,
		risk:      riskEngine,
		symbol:    symbol,
		timeframe: timeframe,
		cfg:       cfg,
		logger:    guardLogger,
		state:     GuardIdle,
	}
}

// SetEvents attaches an optional lifecycle listener.
func (g *Guard) SetEvents(events GuardEvents) {
	g.events = events
}

// State returns the current lifecycle stage.
func (g *Guard) State() GuardState {
	return g.state
}

// Tracked returns the tracked position, if any.
func (g *Guard) Tracked() (models.Position, bool) {
	return g.tracked, g.state != GuardIdle
}

// FreezeUntil returns when the current freeze window ends. Zero when no
// freeze is active or configured.
func (g *Guard) FreezeUntil() time.Time {
	return g.freezeUntil
}

// InFreeze reports whether new entries are still blocked at the given
// instant.
func (g *Guard) InFreeze(now time.Time) bool {
	if g.freezeUntil.IsZero() {
		return false
	}
	return now.Before(g.freezeUntil)
}

// HasOpenPosition asks the gateway whether the instrument has any open
// position right now. Live state wins over the guard's memory.
func (g *Guard) HasOpenPosition(ctx context.Context) (bool, error) {
	positions, err := g.gw.OpenPositions(ctx, g.symbol)
	if err != nil {
		return false, apperrors.Wrapf(err, "query open positions for %s", g.symbol)
	}
	return len(positions) > 0, nil
}

// Evaluate runs the guard once for a newly closed bar: re-derives the
// open/closed transition from live gateway state, then runs break-even
// and trailing logic on a still-open position. At most one stop
// modification is sent per bar.
func (g *Guard) Evaluate(ctx context.Context, candle models.Candle, snap indicators.Snapshot) error {
	positions, err := g.gw.OpenPositions(ctx, g.symbol)
	if err != nil {
		return apperrors.Wrapf(err, "query open positions for %s", g.symbol)
	}

	if g.state == GuardIdle {
		if len(positions) > 0 {
			g.adopt(positions[0])
		}
		return nil
	}

	current, ok := findTicket(positions, g.tracked.Ticket)
	if !ok {
		g.markClosed(candle)
		return nil
	}

	// Refresh from the gateway so stops moved outside the guard are
	// seen before we decide anything.
	g.tracked = current

	if g.state == GuardTracking {
		if !g.cfg.BreakEven {
			return nil
		}
		return g.tryBreakEven(ctx, candle)
	}
	return g.tryTrail(ctx, candle, snap)
}

// transition moves the guard to a new stage, logging and notifying the
// optional listener.
func (g *Guard) transition(to GuardState, ticket int64) {
	logging.LogGuardTransition(g.logger, g.symbol, g.state.String(), to.String(), ticket)
	if g.events != nil {
		g.events.GuardTransition(g.state, to, ticket)
	}
	g.state = to
}

func (g *Guard) recordStopMove(ticket int64, stopLoss, takeProfit float64, reason string) {
	if g.events == nil {
		return
	}
	g.events.StopMoved(models.StopModification{
		Ticket:     ticket,
		Symbol:     g.symbol,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Reason:     reason,
		At:         time.Now().UTC(),
	})
}

// adopt starts tracking a position discovered at the gateway.
func (g *Guard) adopt(pos models.Position) {
	g.tracked = pos
	g.breakEven = 0
	g.transition(GuardTracking, pos.Ticket)
}

// markClosed records that the tracked ticket vanished from the gateway
// and starts the freeze window at the bar's close instant.
func (g *Guard) markClosed(candle models.Candle) {
	closedAt := candle.Time.Add(g.timeframe.Duration())
	if g.cfg.FreezeDuration > 0 {
		g.freezeUntil = closedAt.Add(g.cfg.FreezeDuration)
		g.logger.Info().
			Int64("ticket", g.tracked.Ticket).
			Time("closed_at", closedAt).
			Time("freeze_until", g.freezeUntil).
			Str("freeze", utils.HumanizeDuration(g.cfg.FreezeDuration)).
			Msg("position closed, freeze window started")
	}
	g.transition(GuardIdle, g.tracked.Ticket)
	g.tracked = models.Position{}
	g.breakEven = 0
}

// tryBreakEven moves the stop to the commission-aware break-even price
// once the bar confirms a move of at least one risk unit in favor. The
// stop only ever moves in the protective direction, and the move is
// deferred while the break-even price sits inside the broker minimum
// distance from the bar close.
func (g *Guard) tryBreakEven(ctx context.Context, candle models.Candle) error {
	pos := g.tracked
	if pos.StopLoss <= 0 {
		g.logger.Debug().Int64("ticket", pos.Ticket).Msg("no stop on position, cannot measure risk unit")
		return nil
	}
	riskUnit := math.Abs(pos.EntryPrice - pos.StopLoss)
	if riskUnit <= 0 {
		return nil
	}

	moved := favorableMove(pos.Side, pos.EntryPrice, candle, g.cfg.Trigger)
	if moved < riskUnit {
		return nil
	}

	meta, err := g.gw.SymbolMeta(ctx, g.symbol)
	if err != nil {
		return apperrors.Wrapf(err, "symbol meta for %s", g.symbol)
	}

	be := g.risk.BreakEvenPrice(pos.Side, pos.EntryPrice, pos.Lot, meta.Digits, meta.TickValue, meta.TickSize, g.cfg.CommissionPerLot, g.cfg.CommissionRoundTrip)
	be = utils.RoundPrice(be, meta.Digits)

	if !clearsBrokerDistance(pos.Side, be, candle.Close, meta.MinStopDistance()) {
		g.logger.Debug().
			Int64("ticket", pos.Ticket).
			Str("break_even", utils.FormatPrice(be, meta.Digits)).
			Msg("break-even inside broker minimum distance, deferred")
		return nil
	}

	if !improves(pos.Side, be, pos.StopLoss) {
		// The stop already protects at or beyond break-even, so there
		// is nothing to move. Trailing can take over.
		g.arm(be)
		return nil
	}

	if err := g.gw.ModifyStops(ctx, g.symbol, pos.Ticket, be, pos.TakeProfit); err != nil {
		return apperrors.Wrapf(err, "move stop to break-even for ticket %d", pos.Ticket)
	}
	logging.LogStopMove(g.logger, g.symbol, pos.Ticket, pos.StopLoss, be, "break-even")
	g.recordStopMove(pos.Ticket, be, pos.TakeProfit, "break-even")
	g.tracked.StopLoss = be
	g.arm(be)
	return nil
}

func (g *Guard) arm(breakEven float64) {
	g.breakEven = breakEven
	g.transition(GuardArmed, g.tracked.Ticket)
}

// tryTrail follows price with an ATR-distance stop. The proposal never
// regresses past break-even, respects the broker minimum distance, and
// is dropped unless it improves the current stop by at least one tick.
func (g *Guard) tryTrail(ctx context.Context, candle models.Candle, snap indicators.Snapshot) error {
	if g.cfg.TakeProfitMode != TakeProfitTrail && g.cfg.TakeProfitMode != TakeProfitHybrid {
		return nil
	}
	if !snap.HasATR || g.cfg.TrailMultiplier <= 0 {
		return nil
	}

	meta, err := g.gw.SymbolMeta(ctx, g.symbol)
	if err != nil {
		return apperrors.Wrapf(err, "symbol meta for %s", g.symbol)
	}

	pos := g.tracked
	distance := snap.ATR * g.cfg.TrailMultiplier
	minDist := meta.MinStopDistance()

	var proposed float64
	if pos.Side == models.OrderSideBuy {
		proposed = candle.Close - distance
		proposed = math.Max(proposed, g.breakEven)
		proposed = math.Min(proposed, candle.Close-minDist)
	} else {
		proposed = candle.Close + distance
		proposed = math.Min(proposed, g.breakEven)
		proposed = math.Max(proposed, candle.Close+minDist)
	}
	if !improves(pos.Side, proposed, g.breakEven) && proposed != g.breakEven {
		// Broker distance pushed the proposal past break-even; wait for
		// a wider bar instead of regressing.
		return nil
	}
	proposed = utils.RoundPrice(proposed, meta.Digits)

	tick := meta.TickSize
	if pos.Side == models.OrderSideBuy {
		if proposed-pos.StopLoss < tick-1e-12 {
			return nil
		}
	} else {
		if pos.StopLoss-proposed < tick-1e-12 {
			return nil
		}
	}

	if err := g.gw.ModifyStops(ctx, g.symbol, pos.Ticket, proposed, pos.TakeProfit); err != nil {
		return apperrors.Wrapf(err, "trail stop for ticket %d", pos.Ticket)
	}
	logging.LogStopMove(g.logger, g.symbol, pos.Ticket, pos.StopLoss, proposed, "trailing")
	g.recordStopMove(pos.Ticket, proposed, pos.TakeProfit, "trailing")
	g.tracked.StopLoss = proposed
	return nil
}

// favorableMove measures how far the bar moved in the position's favor
// from its entry, using the configured trigger price.
func favorableMove(side models.OrderSide, entry float64, candle models.Candle, trigger BreakEvenTrigger) float64 {
	if side == models.OrderSideBuy {
		ref := candle.Close
		if trigger == TriggerExtreme {
			ref = candle.High
		}
		return ref - entry
	}
	ref := candle.Close
	if trigger == TriggerExtreme {
		ref = candle.Low
	}
	return entry - ref
}

// improves reports whether candidate is strictly more protective than
// the current stop for the given side.
func improves(side models.OrderSide, candidate, current float64) bool {
	if side == models.OrderSideBuy {
		return candidate > current
	}
	return candidate < current
}

// clearsBrokerDistance reports whether a stop at price keeps the broker
// minimum distance from the reference price.
func clearsBrokerDistance(side models.OrderSide, stop, ref, minDist float64) bool {
	if side == models.OrderSideBuy {
		return ref-stop >= minDist-1e-12
	}
	return stop-ref >= minDist-1e-12
}

func findTicket(positions []models.Position, ticket int64) (models.Position, bool) {
	for _, pos := range positions {
		if pos.Ticket == ticket {
			return pos, true
		}
	}
	return models.Position{}, false
}
