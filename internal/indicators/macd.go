package indicators

// MACDState is a streaming MACD. Two EMAs over price form the line once
// both are seeded; an EMA of the line (seeded the same way) forms the
// signal; histogram = line - signal once the signal exists.
type MACDState struct {
	fast    EMAState
	slow    EMAState
	signal  EMAState
	line    float64
	hasLine bool
}

// NewMACD creates an empty MACD state for the given periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) (MACDState, error) {
	fast, err := NewEMA(fastPeriod)
	if err != nil {
		return MACDState{}, err
	}
	slow, err := NewEMA(slowPeriod)
	if err != nil {
		return MACDState{}, err
	}
	signal, err := NewEMA(signalPeriod)
	if err != nil {
		return MACDState{}, err
	}
	return MACDState{fast: fast, slow: slow, signal: signal}, nil
}

// Update consumes one close and returns the next state.
func (s MACDState) Update(close float64) MACDState {
	next := MACDState{
		fast:   s.fast.Update(close),
		slow:   s.slow.Update(close),
		signal: s.signal,
	}

	fastV, fastOK := next.fast.Value()
	slowV, slowOK := next.slow.Value()
	if fastOK && slowOK {
		next.line = fastV - slowV
		next.hasLine = true
		next.signal = s.signal.Update(next.line)
	}
	return next
}

// Line returns the MACD line and whether it exists yet.
func (s MACDState) Line() (float64, bool) {
	return s.line, s.hasLine
}

// Signal returns the signal line and whether it exists yet.
func (s MACDState) Signal() (float64, bool) {
	return s.signal.Value()
}

// Histogram returns line minus signal and whether both exist yet.
func (s MACDState) Histogram() (float64, bool) {
	sig, ok := s.signal.Value()
	if !ok || !s.hasLine {
		return 0, false
	}
	return s.line - sig, true
}

// SeedLength returns the bar count at which the histogram first exists.
// The line appears on the bar that seeds the slow EMA and feeds the
// signal seed the same bar, so the total is slow + signal - 1.
func (s MACDState) SeedLength() int {
	return s.slow.Period() + s.signal.Period() - 1
}
