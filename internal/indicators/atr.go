package indicators

import (
	"math"

	"mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// ATRState is a streaming Wilder average true range. The first ATR is the
// arithmetic mean of the first period true ranges; afterwards
// ATR = (prevATR*(period-1) + TR) / period.
type ATRState struct {
	period    int
	value     float64
	ready     bool
	prevClose float64
	hasPrev   bool
	seed      []float64
}

// NewATR creates an empty ATR state for the given period.
func NewATR(period int) (ATRState, error) {
	if period < 1 {
		return ATRState{}, errors.NewValidationError("period", period, "must be at least 1")
	}
	return ATRState{period: period}, nil
}

// Update consumes one closed bar and returns the next state.
func (s ATRState) Update(candle models.Candle) ATRState {
	tr := s.trueRange(candle)

	next := ATRState{
		period:    s.period,
		prevClose: candle.Close,
		hasPrev:   true,
	}

	if s.ready {
		next.value = (s.value*float64(s.period-1) + tr) / float64(s.period)
		next.ready = true
		return next
	}

	seed := make([]float64, 0, len(s.seed)+1)
	seed = append(seed, s.seed...)
	seed = append(seed, tr)
	if len(seed) < s.period {
		next.seed = seed
		return next
	}

	sum := 0.0
	for _, v := range seed {
		sum += v
	}
	next.value = sum / float64(s.period)
	next.ready = true
	return next
}

// trueRange computes TR against the previous close; the first bar has no
// previous close and uses high minus low.
func (s ATRState) trueRange(candle models.Candle) float64 {
	hl := candle.High - candle.Low
	if !s.hasPrev {
		return hl
	}
	hc := math.Abs(candle.High - s.prevClose)
	lc := math.Abs(candle.Low - s.prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// Value returns the current ATR and whether it exists yet.
func (s ATRState) Value() (float64, bool) {
	return s.value, s.ready
}

// Ready reports whether the seed has completed.
func (s ATRState) Ready() bool {
	return s.ready
}

// Period returns the configured period.
func (s ATRState) Period() int {
	return s.period
}

// BarsUntilReady returns how many more bars are needed before a value
// exists; zero once ready.
func (s ATRState) BarsUntilReady() int {
	if s.ready {
		return 0
	}
	return s.period - len(s.seed)
}
