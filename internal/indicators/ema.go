// Package indicators maintains streaming technical indicators as immutable
// recurrence states. Each state consumes one closed bar at a time and
// returns its successor; history is never re-scanned. Values stay absent
// until the seeding buffer fills, then never become absent again.
package indicators

import "mt5-trader/internal/errors"

// EMAState is a streaming exponential moving average. The first value is
// the simple average of the first period inputs; afterwards the standard
// recurrence applies with alpha = 2/(period+1).
type EMAState struct {
	period int
	value  float64
	ready  bool
	seed   []float64
}

// NewEMA creates an empty EMA state for the given period.
func NewEMA(period int) (EMAState, error) {
	if period < 1 {
		return EMAState{}, errors.NewValidationError("period", period, "must be at least 1")
	}
	return EMAState{period: period}, nil
}

// Update consumes one input value and returns the next state.
func (s EMAState) Update(value float64) EMAState {
	if s.ready {
		alpha := 2.0 / (float64(s.period) + 1.0)
		return EMAState{
			period: s.period,
			value:  alpha*value + (1.0-alpha)*s.value,
			ready:  true,
		}
	}

	seed := make([]float64, 0, len(s.seed)+1)
	seed = append(seed, s.seed...)
	seed = append(seed, value)
	if len(seed) < s.period {
		return EMAState{period: s.period, seed: seed}
	}

	sum := 0.0
	for _, v := range seed {
		sum += v
	}
	return EMAState{
		period: s.period,
		value:  sum / float64(s.period),
		ready:  true,
	}
}

// Value returns the current EMA and whether it exists yet.
func (s EMAState) Value() (float64, bool) {
	return s.value, s.ready
}

// Ready reports whether the seed has completed.
func (s EMAState) Ready() bool {
	return s.ready
}

// Period returns the configured period.
func (s EMAState) Period() int {
	return s.period
}

// BarsUntilReady returns how many more inputs are needed before a value
// exists; zero once ready.
func (s EMAState) BarsUntilReady() int {
	if s.ready {
		return 0
	}
	return s.period - len(s.seed)
}
