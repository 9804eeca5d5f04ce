package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/indicators"
	"mt5-trader/internal/models"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/strategy"
	"mt5-trader/internal/trading"
)

// recordingJournal captures journal writes and can be wounded to fail.
type recordingJournal struct {
	signals   []models.Signal
	orders    []models.OrderResult
	signalErr error
	orderErr  error
}

func (j *recordingJournal) RecordSignal(_ context.Context, sig *models.Signal) error {
	j.signals = append(j.signals, *sig)
	return j.signalErr
}

func (j *recordingJournal) RecordOrder(_ context.Context, result *models.OrderResult) error {
	j.orders = append(j.orders, *result)
	return j.orderErr
}

type pipeFixture struct {
	gw       *pipeGateway
	engine   *indicators.Engine
	detector *strategy.Detector
	guard    *trading.Guard
	pipe     *Pipeline
}

// newPipeFixture builds a full bar path over the scripted gateway. The
// indicator periods are shrunk so readiness arrives within a handful of
// bars; the pattern rules themselves are unchanged.
func newPipeFixture(t *testing.T, journal Journal) *pipeFixture {
	t.Helper()

	gw := &pipeGateway{
		meta: models.SymbolMeta{
			Name: "EURUSD", Digits: 5,
			TickSize: 0.00001, TickValue: 1.0,
			LotStep: 0.01, MinLot: 0.01,
			StopsLevel: 10,
		},
		quote:   models.Quote{Symbol: "EURUSD", Bid: 1.0080, Ask: 1.0081, Time: time.Now().UTC()},
		balance: 10000,
	}

	engine, err := indicators.NewEngine(indicators.Config{
		EMAPeriod: 3, MACDFast: 2, MACDSlow: 3, MACDSignal: 2,
		ATRPeriod: 3, HistogramWindow: 4,
	})
	require.NoError(t, err)

	detector := strategy.NewDetector("EURUSD", models.TimeframeM5, 0.1, zerolog.Nop())
	riskEngine := risk.NewEngine(0.01, zerolog.Nop())
	guard := trading.NewGuard(gw, riskEngine, "EURUSD", models.TimeframeM5,
		trading.GuardConfig{FreezeDuration: 24 * time.Hour}, zerolog.Nop())
	planner := trading.NewPlanner(1.5, 0, zerolog.Nop())
	exec := trading.NewExecution(gw, riskEngine, trading.ExecutionConfig{
		NudgePolicy: trading.NudgeFlexible, NudgeFactor: 2.0,
		Deviation: 10, Magic: 777, Comment: "mt5-trader",
	}, zerolog.Nop())

	return &pipeFixture{
		gw:       gw,
		engine:   engine,
		detector: detector,
		guard:    guard,
		pipe:     NewPipeline(gw, engine, detector, guard, planner, exec, journal, "EURUSD", zerolog.Nop()),
	}
}

// patternBars stages seven bars whose last four complete the bullish
// reversal under the shrunk periods: three flat seed bars, one bearish
// bar, then three bullish bars with strictly rising closes and a rising
// histogram, the final close above the short EMA.
func patternBars(first int64) []models.Candle {
	closes := []float64{1.0000, 1.0000, 1.0000, 0.9990, 1.0010, 1.0040, 1.0080}
	open := 1.0000
	bars := make([]models.Candle, 0, len(closes))
	for i, c := range closes {
		hi := math.Max(open, c) + 0.0002
		lo := math.Min(open, c) - 0.0002
		bars = append(bars, models.NewCandle(first+int64(i)*tfSec, open, hi, lo, c, 50))
		open = c
	}
	return bars
}

func feedBars(t *testing.T, f *pipeFixture, bars []models.Candle, lastIsLive bool) {
	t.Helper()
	for i, bar := range bars {
		require.NoError(t, f.pipe.HandleBar(context.Background(), bar, lastIsLive && i == len(bars)-1))
	}
}

func Test_HandleBarPlacesOrderOnLiveSignal(t *testing.T) {
	journal := &recordingJournal{}
	f := newPipeFixture(t, journal)
	bars := patternBars(e0)

	feedBars(t, f, bars[:6], false)
	assert.Empty(t, f.gw.orders, "no order before the pattern completes")

	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[6], true))

	require.Len(t, f.gw.orders, 1, "the completed live pattern must reach the broker")
	req := f.gw.orders[0]
	assert.Equal(t, models.OrderSideBuy, req.Side)
	assert.InDelta(t, 0.10, req.Volume, 1e-9, "one percent of 10000 over a 93-pip stop")
	assert.InDelta(t, 0.9988, req.StopLoss, 1e-9, "stop under the lowest low of the window")
	assert.InDelta(t, 1.02205, req.TakeProfit, 1e-9, "take-profit preserves 1.5R from the ask")
	assert.Equal(t, 10, req.Deviation)
	assert.Equal(t, int64(777), req.Magic)

	require.Len(t, journal.signals, 1)
	assert.True(t, journal.signals[0].IsLive)
	assert.Equal(t, models.OrderSideBuy, journal.signals[0].Side)
	assert.Equal(t, bars[6].Epoch, journal.signals[0].Epoch)

	require.Len(t, journal.orders, 1)
	assert.Equal(t, models.OrderStatusFilled, journal.orders[0].Status)
	assert.Equal(t, int64(5001), journal.orders[0].Ticket)
}

func Test_HandleBarStaleSignalUpdatesStateOnly(t *testing.T) {
	journal := &recordingJournal{}
	f := newPipeFixture(t, journal)

	feedBars(t, f, patternBars(e0), false)

	require.Len(t, journal.signals, 1, "the stale pattern is still detected and journaled")
	assert.False(t, journal.signals[0].IsLive)
	assert.Empty(t, f.gw.orders, "stale signals must never open positions")
	assert.Empty(t, journal.orders)
}

func Test_HandleBarNilJournalStillTrades(t *testing.T) {
	f := newPipeFixture(t, nil)
	bars := patternBars(e0)

	feedBars(t, f, bars[:6], false)
	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[6], true))

	assert.Len(t, f.gw.orders, 1, "a missing journal must not block trading")
}

func Test_HandleBarJournalFailureDoesNotBlockOrder(t *testing.T) {
	journal := &recordingJournal{signalErr: errors.New("disk full")}
	f := newPipeFixture(t, journal)
	bars := patternBars(e0)

	feedBars(t, f, bars[:6], false)
	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[6], true))

	assert.Len(t, f.gw.orders, 1, "journal write failures are logged, not fatal")
}

func Test_HandleBarOpenPositionBlocksNewOrder(t *testing.T) {
	journal := &recordingJournal{}
	f := newPipeFixture(t, journal)
	f.gw.positions = []models.Position{{
		Ticket: 7001, Symbol: "EURUSD", Side: models.OrderSideBuy,
		Lot: 0.10, EntryPrice: 1.0000,
		OpenTime: time.Unix(e0, 0).UTC(),
	}}
	bars := patternBars(e0)

	feedBars(t, f, bars[:6], false)
	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[6], true))

	assert.Empty(t, f.gw.orders, "one position per instrument")
	assert.Len(t, journal.signals, 1, "the signal itself is still journaled")
	assert.Equal(t, trading.GuardTracking, f.guard.State(), "the open position stays tracked")
}

func Test_HandleBarFreezeBlocksNewOrder(t *testing.T) {
	journal := &recordingJournal{}
	f := newPipeFixture(t, journal)
	f.gw.positions = []models.Position{{
		Ticket: 7002, Symbol: "EURUSD", Side: models.OrderSideBuy,
		Lot: 0.10, EntryPrice: 1.0000,
	}}

	// Anchor the bars near the wall clock so the freeze window, which is
	// measured against real time, is still open when the signal fires.
	base := time.Now().UTC().Add(-time.Hour).Truncate(5 * time.Minute).Unix()
	bars := patternBars(base)

	feedBars(t, f, bars[:5], false)
	require.Equal(t, trading.GuardTracking, f.guard.State())

	// The position disappears before the sixth bar: the guard marks the
	// trade closed and starts the freeze timer.
	f.gw.positions = nil
	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[5], false))
	require.Equal(t, trading.GuardIdle, f.guard.State())
	require.True(t, f.guard.FreezeUntil().After(time.Now()), "freeze window must still be open")

	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[6], true))

	assert.Empty(t, f.gw.orders, "no re-entry during the freeze window")
	assert.Len(t, journal.signals, 1, "detection keeps running during the freeze")
}

func Test_HandleBarGuardErrorKeepsStreamsAligned(t *testing.T) {
	f := newPipeFixture(t, nil)
	f.gw.positionsErr = errors.New("terminal gone")

	err := f.pipe.HandleBar(context.Background(), flatBar(e0), true)

	require.Error(t, err)
	assert.ErrorIs(t, err, f.gw.positionsErr)
	assert.Equal(t, 1, f.engine.BarsSeen(), "indicators consumed the bar before the failure")
	assert.Equal(t, 1, f.detector.WindowLen(), "the detector window rolled before the failure")
}

func Test_WarmHydratesWithoutTrading(t *testing.T) {
	journal := &recordingJournal{}
	f := newPipeFixture(t, journal)
	bars := patternBars(e0)

	f.pipe.Warm(context.Background(), bars[:6])

	assert.Equal(t, 6, f.engine.BarsSeen())
	assert.Equal(t, 4, f.detector.WindowLen())
	assert.Empty(t, f.gw.orders, "warmup never reaches the order path")
	assert.Empty(t, journal.signals, "warmup signals are discarded")
	assert.Equal(t, trading.GuardIdle, f.guard.State(), "warmup never touches the guard")

	// A single live bar on top of the warmed state completes the pattern.
	require.NoError(t, f.pipe.HandleBar(context.Background(), bars[6], true))
	assert.Len(t, f.gw.orders, 1)
}
