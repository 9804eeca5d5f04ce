package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/models"
)

// flatCandle builds a candle whose prices all sit at the same level.
func flatCandle(epoch int64, price float64) models.Candle {
	return models.NewCandle(epoch, price, price, price, price, 100)
}

func Test_EMARecurrence(t *testing.T) {
	ema, err := NewEMA(3)
	require.NoError(t, err)

	for _, c := range []float64{1, 2, 3} {
		ema = ema.Update(c)
	}
	value, ok := ema.Value()
	require.True(t, ok, "EMA should seed after three inputs")
	assert.InDelta(t, 2.0, value, 1e-9, "seed value should be the simple average")

	// alpha = 2/(3+1) = 0.5
	ema = ema.Update(4)
	value, _ = ema.Value()
	assert.InDelta(t, 3.0, value, 1e-9)

	ema = ema.Update(5)
	value, _ = ema.Value()
	assert.InDelta(t, 4.0, value, 1e-9)
}

func Test_EMARejectsInvalidPeriod(t *testing.T) {
	for _, period := range []int{0, -1, -14} {
		_, err := NewEMA(period)
		assert.Error(t, err, "period %d should be rejected", period)
	}
}

func Test_MACDHandComputed(t *testing.T) {
	macd, err := NewMACD(2, 3, 2)
	require.NoError(t, err)

	closes := []float64{2, 4, 6, 8, 10}
	type expectation struct {
		hasLine   bool
		line      float64
		hasHist   bool
		histogram float64
	}
	expected := []expectation{
		{hasLine: false},
		{hasLine: false},
		{hasLine: true, line: 1.0, hasHist: false},
		{hasLine: true, line: 1.0, hasHist: true, histogram: 0.0},
		{hasLine: true, line: 1.0, hasHist: true, histogram: 0.0},
	}

	for i, c := range closes {
		macd = macd.Update(c)

		line, ok := macd.Line()
		assert.Equal(t, expected[i].hasLine, ok, "line presence at bar %d", i+1)
		if expected[i].hasLine {
			assert.InDelta(t, expected[i].line, line, 1e-9, "line value at bar %d", i+1)
		}

		hist, ok := macd.Histogram()
		assert.Equal(t, expected[i].hasHist, ok, "histogram presence at bar %d", i+1)
		if expected[i].hasHist {
			assert.InDelta(t, expected[i].histogram, hist, 1e-9, "histogram value at bar %d", i+1)
		}
	}

	assert.Equal(t, 4, macd.SeedLength(), "histogram appears on bar slow+signal-1")
}

func Test_ATRWilderRecurrence(t *testing.T) {
	atr, err := NewATR(2)
	require.NoError(t, err)

	// First bar has no previous close, so its true range is high-low.
	atr = atr.Update(models.NewCandle(1000, 9, 10, 8, 9, 100))
	_, ok := atr.Value()
	assert.False(t, ok, "one true range is not enough for ATR(2)")

	atr = atr.Update(models.NewCandle(1300, 9, 11, 9, 10, 100))
	value, ok := atr.Value()
	require.True(t, ok)
	assert.InDelta(t, 2.0, value, 1e-9, "seed ATR is the mean of the first two true ranges")

	// TR = max(13-10, |13-10|, |10-10|) = 3, ATR = (2*1 + 3)/2
	atr = atr.Update(models.NewCandle(1600, 11, 13, 10, 12, 100))
	value, _ = atr.Value()
	assert.InDelta(t, 2.5, value, 1e-9)
}

func Test_ATRUsesPreviousCloseInTrueRange(t *testing.T) {
	atr, err := NewATR(1)
	require.NoError(t, err)

	atr = atr.Update(models.NewCandle(1000, 100, 100, 100, 100, 100))
	value, ok := atr.Value()
	require.True(t, ok)
	assert.InDelta(t, 0.0, value, 1e-9)

	// Gap up: high-low is 1 but the jump from the previous close is 10.
	atr = atr.Update(models.NewCandle(1300, 110, 110, 109, 110, 100))
	value, _ = atr.Value()
	assert.InDelta(t, 10.0, value, 1e-9)
}

func Test_EngineReadinessThresholds(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	var snap Snapshot
	for i := 0; i < 33; i++ {
		snap = engine.Consume(flatCandle(int64(1000+i*300), 100))
	}
	assert.False(t, snap.HasHistogram, "histogram needs 34 bars with MACD(12,26,9)")
	assert.Equal(t, 1, snap.BarsUntilHistogram)

	snap = engine.Consume(flatCandle(11000, 100))
	assert.True(t, snap.HasHistogram)
	assert.Equal(t, 0, snap.BarsUntilHistogram, "countdown reaches zero on the first histogram bar")

	snap = engine.Consume(flatCandle(11300, 100))
	assert.Equal(t, 0, snap.BarsUntilHistogram)

	for engine.BarsSeen() < 199 {
		snap = engine.Consume(flatCandle(int64(1000+engine.BarsSeen()*300), 100))
	}
	assert.False(t, snap.HasEMA, "long EMA needs 200 bars")
	assert.Equal(t, 1, snap.BarsUntilEMA)
	assert.False(t, snap.Ready())

	snap = engine.Consume(flatCandle(61000, 100))
	assert.True(t, snap.HasEMA)
	assert.Equal(t, 0, snap.BarsUntilEMA)
	assert.InDelta(t, 100.0, snap.EMA, 1e-9, "flat input seeds the EMA at the input level")
	assert.True(t, snap.Ready())
	assert.True(t, snap.HasATR)
	assert.InDelta(t, 0.0, snap.ATR, 1e-9)
}

func Test_EngineWarmupMatchesSequentialConsume(t *testing.T) {
	cfg := Config{
		EMAPeriod:       4,
		MACDFast:        2,
		MACDSlow:        3,
		MACDSignal:      2,
		ATRPeriod:       3,
		HistogramWindow: 4,
	}

	candles := make([]models.Candle, 0, 12)
	for i := 0; i < 12; i++ {
		price := 100.0 + float64(i%5)
		candles = append(candles, models.NewCandle(int64(1000+i*300), price, price+1, price-1, price+0.5, 100))
	}

	bulk, err := NewEngine(cfg)
	require.NoError(t, err)
	bulkSnap := bulk.Warmup(candles)

	sequential, err := NewEngine(cfg)
	require.NoError(t, err)
	var seqSnap Snapshot
	for _, candle := range candles {
		seqSnap = sequential.Consume(candle)
	}

	assert.Equal(t, seqSnap, bulkSnap)
	assert.Equal(t, len(candles), bulk.BarsSeen())
}

func Test_EngineHistogramWindow(t *testing.T) {
	cfg := Config{
		EMAPeriod:       3,
		MACDFast:        2,
		MACDSlow:        3,
		MACDSignal:      2,
		ATRPeriod:       2,
		HistogramWindow: 4,
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	var snap Snapshot
	for i := 0; i < 10; i++ {
		snap = engine.Consume(flatCandle(int64(1000+i*300), 50))
	}

	require.True(t, snap.HasHistogram)
	require.Len(t, snap.LastHistograms, 4)
	for _, h := range snap.LastHistograms {
		assert.InDelta(t, 0.0, h, 1e-9)
	}

	// Mutating the returned window must not leak into the engine.
	snap.LastHistograms[0] = 42
	next := engine.Consume(flatCandle(5000, 50))
	assert.InDelta(t, 0.0, next.LastHistograms[0], 1e-9)
}

func Test_EngineRejectsInvalidPeriods(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero EMA period", cfg: Config{MACDFast: 12, MACDSlow: 26, MACDSignal: 9, ATRPeriod: 14}},
		{name: "zero MACD fast", cfg: Config{EMAPeriod: 200, MACDSlow: 26, MACDSignal: 9, ATRPeriod: 14}},
		{name: "zero ATR period", cfg: Config{EMAPeriod: 200, MACDFast: 12, MACDSlow: 26, MACDSignal: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg)
			assert.Error(t, err)
		})
	}
}
