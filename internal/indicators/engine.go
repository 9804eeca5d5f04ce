package indicators

import (
	"mt5-trader/internal/models"
)

// Config holds the indicator periods the engine runs with.
type Config struct {
	EMAPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	ATRPeriod       int
	HistogramWindow int
}

// DefaultConfig returns the standard EMA(200), MACD(12,26,9), ATR(14)
// setup with a 4-bar histogram window.
func DefaultConfig() Config {
	return Config{
		EMAPeriod:       200,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ATRPeriod:       14,
		HistogramWindow: 4,
	}
}

// Snapshot is the immutable indicator readout for one closed candle.
// Has* flags report presence; absent values hold zero and must not be
// read. LastHistograms carries the most recent histogram values (oldest
// first, newest last), capped at the configured window.
type Snapshot struct {
	EMA          float64
	HasEMA       bool
	MACD         float64
	HasMACD      bool
	Signal       float64
	HasSignal    bool
	Histogram    float64
	HasHistogram bool
	ATR          float64
	HasATR       bool

	BarsUntilEMA       int
	BarsUntilHistogram int

	LastHistograms []float64
}

// Ready reports whether both detector prerequisites, the long EMA and the
// MACD histogram, are present.
func (s Snapshot) Ready() bool {
	return s.HasEMA && s.HasHistogram
}

// Engine consumes closed candles in chronological order and produces one
// snapshot per candle. The engine itself has a single owner; the
// contained indicator states are immutable values.
type Engine struct {
	cfg      Config
	ema      EMAState
	macd     MACDState
	atr      ATRState
	bars     int
	lastHist []float64
}

// NewEngine creates an engine for the given configuration.
func NewEngine(cfg Config) (*Engine, error) {
	ema, err := NewEMA(cfg.EMAPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	if err != nil {
		return nil, err
	}
	atr, err := NewATR(cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	window := cfg.HistogramWindow
	if window < 1 {
		window = 1
	}
	cfg.HistogramWindow = window
	return &Engine{
		cfg:      cfg,
		ema:      ema,
		macd:     macd,
		atr:      atr,
		lastHist: make([]float64, 0, window),
	}, nil
}

// Consume feeds one closed candle and returns the aligned snapshot.
func (e *Engine) Consume(candle models.Candle) Snapshot {
	e.bars++
	e.ema = e.ema.Update(candle.Close)
	e.macd = e.macd.Update(candle.Close)
	e.atr = e.atr.Update(candle)

	snap := Snapshot{
		BarsUntilEMA:       maxInt(0, e.cfg.EMAPeriod-e.bars),
		BarsUntilHistogram: maxInt(0, e.macd.SeedLength()-e.bars),
	}
	snap.EMA, snap.HasEMA = e.ema.Value()
	snap.MACD, snap.HasMACD = e.macd.Line()
	snap.Signal, snap.HasSignal = e.macd.Signal()
	snap.Histogram, snap.HasHistogram = e.macd.Histogram()
	snap.ATR, snap.HasATR = e.atr.Value()

	if snap.HasHistogram {
		if len(e.lastHist) == e.cfg.HistogramWindow {
			copy(e.lastHist, e.lastHist[1:])
			e.lastHist = e.lastHist[:len(e.lastHist)-1]
		}
		e.lastHist = append(e.lastHist, snap.Histogram)
	}
	snap.LastHistograms = append([]float64(nil), e.lastHist...)

	return snap
}

// Warmup feeds a historical candle sequence, oldest to newest, and
// returns the snapshot aligned with the final candle. Returns a zero
// snapshot when the sequence is empty.
func (e *Engine) Warmup(candles []models.Candle) Snapshot {
	var snap Snapshot
	for _, candle := range candles {
		snap = e.Consume(candle)
	}
	return snap
}

// BarsSeen returns how many closed candles the engine has consumed.
func (e *Engine) BarsSeen() int {
	return e.bars
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
