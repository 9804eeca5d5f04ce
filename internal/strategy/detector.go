// Package strategy implements the 4-bar reversal pattern that turns
// closed candles into trade signals.
package strategy

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mt5-trader/internal/indicators"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
)

// windowSize is the number of closed bars the pattern spans.
const windowSize = 4

// Detector maintains the sliding candle and snapshot windows for one
// instrument and emits a Signal when the reversal pattern completes.
type Detector struct {
	symbol    string
	timeframe models.Timeframe
	dojiRatio float64
	logger    zerolog.Logger

	candles []models.Candle
	snaps   []indicators.Snapshot
}

// NewDetector creates a detector for the given instrument. dojiRatio is
// the body-to-range threshold under which a candle counts as a doji.
func NewDetector(symbol string, timeframe models.Timeframe, dojiRatio float64, logger zerolog.Logger) *Detector {
	return &Detector{
		symbol:    symbol,
		timeframe: timeframe,
		dojiRatio: dojiRatio,
		logger:    logging.WithComponent(logger, "detector").With().Str("symbol", symbol).Logger(),
		candles:   make([]models.Candle, 0, windowSize),
		snaps:     make([]indicators.Snapshot, 0, windowSize),
	}
}

// OnClosed consumes one closed candle with its aligned snapshot and
// returns a Signal when the pattern completes, nil otherwise. isLive
// marks whether the bar is the freshest known one; stale bars still
// roll the windows but their signals must not open positions.
func (d *Detector) OnClosed(candle models.Candle, snap indicators.Snapshot, isLive bool) *models.Signal {
	d.candles = push(d.candles, candle)
	d.snaps = push(d.snaps, snap)

	if len(d.candles) < windowSize {
		return nil
	}

	signal := Evaluate(d.symbol, d.timeframe, d.candles, d.snaps, d.dojiRatio, isLive)
	if signal != nil {
		logging.LogSignal(d.logger, signal.Symbol, string(signal.Side), signal.Epoch, signal.IsLive)
	}
	return signal
}

// WindowLen returns how many bars the sliding window currently holds.
func (d *Detector) WindowLen() int {
	return len(d.candles)
}

// Window returns a copy of the current candle window, oldest first.
func (d *Detector) Window() []models.Candle {
	return append([]models.Candle(nil), d.candles...)
}

func push[T any](window []T, v T) []T {
	if len(window) == windowSize {
		copy(window, window[1:])
		window = window[:windowSize-1]
	}
	return append(window, v)
}

// Evaluate applies the pattern rules to a 4-candle window and its
// aligned snapshots, oldest first. The pattern requires:
//
//  1. Long EMA and MACD histogram present on all 4 snapshots.
//  2. A bias from the last close vs its EMA (equality rejects).
//  3. The first candle colored against the bias; among the last 3 every
//     non-doji candle colored with the bias, at most one doji tolerated.
//  4. Closes strictly monotonic in the bias direction across all 4 bars.
//  5. Histogram strictly monotonic in the bias direction across all 4.
//
// Returns nil unless every rule holds.
func Evaluate(symbol string, timeframe models.Timeframe, window []models.Candle, snaps []indicators.Snapshot, dojiRatio float64, isLive bool) *models.Signal {
	if len(window) < windowSize || len(snaps) < windowSize {
		return nil
	}

	for _, s := range snaps {
		if !s.Ready() {
			return nil
		}
	}

	last := window[windowSize-1]
	bias, ok := computeBias(last.Close, snaps[windowSize-1].EMA)
	if !ok {
		return nil
	}
	rising := bias == models.BiasBullish

	first := window[0]
	if rising && !first.IsBearish() {
		return nil
	}
	if !rising && !first.IsBullish() {
		return nil
	}

	dojis := 0
	for _, c := range window[1:] {
		if IsDoji(c, dojiRatio) {
			dojis++
			continue
		}
		if rising && !c.IsBullish() {
			return nil
		}
		if !rising && !c.IsBearish() {
			return nil
		}
	}
	if dojis > 1 {
		return nil
	}

	closes := make([]float64, windowSize)
	hists := make([]float64, windowSize)
	for i := 0; i < windowSize; i++ {
		closes[i] = window[i].Close
		hists[i] = snaps[i].Histogram
	}
	if !strictlyMonotonic(closes, rising) {
		return nil
	}
	if !strictlyMonotonic(hists, rising) {
		return nil
	}

	return &models.Signal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      bias.Side(),
		Bias:      bias,
		Timeframe: timeframe,
		Epoch:     last.Epoch,
		Time:      last.Time,
		IsLive:    isLive,
	}
}

// computeBias compares a close to its long EMA. Equality yields no bias.
func computeBias(close, ema float64) (models.Bias, bool) {
	switch {
	case close > ema:
		return models.BiasBullish, true
	case close < ema:
		return models.BiasBearish, true
	default:
		return "", false
	}
}

// IsDoji reports whether the candle body is at most ratio times the
// high-low range. A zero-range candle is a doji only when its body is
// zero as well.
func IsDoji(c models.Candle, ratio float64) bool {
	r := c.Range()
	if r == 0 {
		return c.Body() == 0
	}
	return c.Body() <= ratio*r
}

func strictlyMonotonic(values []float64, increasing bool) bool {
	if len(values) == 0 {
		return false
	}
	for i := 1; i < len(values); i++ {
		if increasing && values[i] <= values[i-1] {
			return false
		}
		if !increasing && values[i] >= values[i-1] {
			return false
		}
	}
	return true
}
