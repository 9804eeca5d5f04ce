package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// e0 is a 5-minute-aligned epoch the monitor tests anchor on.
const e0 int64 = 1700000400

const tfSec = 300

// recordingSink captures everything the monitor hands downstream.
// failOn, when non-zero, makes HandleBar fail on that epoch after
// recording it.
type recordingSink struct {
	warmed []models.Candle
	bars   []models.Candle
	live   []bool
	failOn int64
}

func (s *recordingSink) HandleBar(_ context.Context, candle models.Candle, isLive bool) error {
	s.bars = append(s.bars, candle)
	s.live = append(s.live, isLive)
	if s.failOn != 0 && candle.Epoch == s.failOn {
		return errors.New("downstream failure")
	}
	return nil
}

func (s *recordingSink) Warm(_ context.Context, candles []models.Candle) {
	s.warmed = append(s.warmed, candles...)
}

func flatBar(epoch int64) models.Candle {
	return models.NewCandle(epoch, 1.1000, 1.1010, 1.0990, 1.1005, 25)
}

func flatSeries(first int64, count int) []models.Candle {
	out := make([]models.Candle, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, flatBar(first+int64(i)*tfSec))
	}
	return out
}

func newTestMonitor(gw *pipeGateway, sink Sink, cfg MonitorConfig) *Monitor {
	if cfg.HydrationRetries == 0 {
		cfg.HydrationRetries = 2
	}
	if cfg.HydrationDelay == 0 {
		cfg.HydrationDelay = time.Millisecond
	}
	return NewMonitor(gw, sink, "EURUSD", models.TimeframeM5, cfg, zerolog.Nop())
}

func epochsOf(bars []models.Candle) []int64 {
	out := make([]int64, 0, len(bars))
	for _, c := range bars {
		out = append(out, c.Epoch)
	}
	return out
}

func Test_FirstRunWithoutBootstrapPinsCursor(t *testing.T) {
	gw := &pipeGateway{latestSeq: []models.Candle{flatBar(e0)}}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	require.NoError(t, m.ProcessOnce(context.Background()))

	assert.Equal(t, e0, m.Cursor(), "cursor should land on the latest closed bar")
	assert.Empty(t, sink.bars, "no history should be processed")
	assert.Empty(t, sink.warmed, "no history should be warmed")
	assert.Empty(t, gw.backCalls, "priming history should not be fetched")
}

func Test_FirstRunBootstrapWarmsThenReplays(t *testing.T) {
	series := flatSeries(e0-5*tfSec, 6)
	gw := &pipeGateway{series: series, latestSeq: []models.Candle{flatBar(e0)}}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{Bootstrap: true, PrimingBars: 6, BootstrapBars: 2})

	require.NoError(t, m.ProcessOnce(context.Background()))

	assert.Equal(t, []int{6}, gw.backCalls, "priming depth should follow the config")
	assert.Equal(t, epochsOf(series[:4]), epochsOf(sink.warmed), "older bars hydrate state only")
	assert.Equal(t, epochsOf(series[4:]), epochsOf(sink.bars), "newest bars replay through the full path")
	assert.Equal(t, []bool{false, true}, sink.live, "only the latest replayed bar is live")
	assert.Equal(t, e0, m.Cursor())
}

func Test_ProcessOnceIsExactlyOnce(t *testing.T) {
	gw := &pipeGateway{latestSeq: []models.Candle{flatBar(e0)}}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	require.NoError(t, m.ProcessOnce(context.Background()))
	require.NoError(t, m.ProcessOnce(context.Background()))
	require.NoError(t, m.ProcessOnce(context.Background()))

	assert.Empty(t, sink.bars, "an unchanged latest bar must never be reprocessed")
	assert.Empty(t, gw.betweenRanges, "no backfill should be attempted")
	assert.Equal(t, e0, m.Cursor())
}

func Test_BackfillGapFeedsMissedBarsAscending(t *testing.T) {
	latest := flatBar(e0 + 3*tfSec)
	gw := &pipeGateway{
		series:    flatSeries(e0+tfSec, 3),
		latestSeq: []models.Candle{flatBar(e0), latest},
	}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	require.NoError(t, m.ProcessOnce(context.Background()), "first cycle pins the cursor")
	require.NoError(t, m.ProcessOnce(context.Background()), "second cycle backfills the gap")

	assert.Equal(t, []int64{e0 + tfSec, e0 + 2*tfSec, e0 + 3*tfSec}, epochsOf(sink.bars),
		"all three missed bars feed in ascending order")
	assert.Equal(t, []bool{false, false, true}, sink.live, "only the freshest bar is live")
	assert.Equal(t, [][2]int64{{e0, e0 + 3*tfSec}}, gw.betweenRanges,
		"range is exclusive below the cursor and inclusive at the latest")
	assert.Equal(t, e0+3*tfSec, m.Cursor())
}

func Test_HydrationWaitFindsLateBar(t *testing.T) {
	fresh := flatBar(e0 + tfSec)
	gw := &pipeGateway{
		series:    []models.Candle{fresh},
		latestSeq: []models.Candle{flatBar(e0), flatBar(e0), flatBar(e0), fresh},
	}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{HydrationRetries: 3, HydrationDelay: time.Millisecond})

	require.NoError(t, m.ProcessOnce(context.Background()))
	require.NoError(t, m.ProcessOnce(context.Background()))

	assert.Equal(t, []int64{e0 + tfSec}, epochsOf(sink.bars), "the late bar is processed once found")
	assert.Equal(t, []bool{true}, sink.live)
	assert.Equal(t, e0+tfSec, m.Cursor())
}

func Test_HydrationExhaustionEndsCycleQuietly(t *testing.T) {
	gw := &pipeGateway{latestSeq: []models.Candle{flatBar(e0)}}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{HydrationRetries: 2, HydrationDelay: time.Millisecond})

	require.NoError(t, m.ProcessOnce(context.Background()))
	calls := gw.latestCalls

	require.NoError(t, m.ProcessOnce(context.Background()), "a bar that never hydrates is not an error")
	assert.Greater(t, gw.latestCalls, calls, "the monitor should have re-checked for a newer bar")
	assert.Empty(t, sink.bars)
	assert.Equal(t, e0, m.Cursor())
}

func Test_NoCandleEndsCycleQuietly(t *testing.T) {
	gw := &pipeGateway{latestErr: apperrors.ErrNoCandle}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	require.NoError(t, m.ProcessOnce(context.Background()))
	assert.Zero(t, m.Cursor(), "cursor must stay absent without data")
	assert.Empty(t, sink.bars)
}

func Test_TransportErrorSurfaces(t *testing.T) {
	errLink := errors.New("link down")
	gw := &pipeGateway{latestErr: errLink}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	err := m.ProcessOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errLink, "transport failures must stay inspectable")
	assert.Zero(t, m.Cursor())
	assert.Empty(t, sink.bars)
}

func Test_SinkFailureNeverRefeedsABar(t *testing.T) {
	latest := flatBar(e0 + 3*tfSec)
	gw := &pipeGateway{
		series:    flatSeries(e0+tfSec, 3),
		latestSeq: []models.Candle{flatBar(e0), latest},
	}
	sink := &recordingSink{failOn: e0 + 2*tfSec}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	require.NoError(t, m.ProcessOnce(context.Background()), "first cycle pins the cursor")

	err := m.ProcessOnce(context.Background())
	require.Error(t, err, "the failing bar aborts the cycle")
	assert.Equal(t, []int64{e0 + tfSec, e0 + 2*tfSec}, epochsOf(sink.bars),
		"bars up to and including the failure were handed down")
	assert.Equal(t, e0+2*tfSec, m.Cursor(),
		"the cursor covers the failed bar so it is never fed twice")

	sink.failOn = 0
	require.NoError(t, m.ProcessOnce(context.Background()), "next cycle resumes past the failure")
	assert.Equal(t, []int64{e0 + tfSec, e0 + 2*tfSec, e0 + 3*tfSec}, epochsOf(sink.bars),
		"every epoch appears exactly once across cycles")
	assert.Equal(t, []bool{false, false, true}, sink.live)
	assert.Equal(t, e0+3*tfSec, m.Cursor())
}

func Test_EmptyRangeFallsBackToLatest(t *testing.T) {
	latest := flatBar(e0 + tfSec)
	gw := &pipeGateway{latestSeq: []models.Candle{flatBar(e0), latest}}
	sink := &recordingSink{}
	m := newTestMonitor(gw, sink, MonitorConfig{})

	require.NoError(t, m.ProcessOnce(context.Background()))
	require.NoError(t, m.ProcessOnce(context.Background()))

	assert.Equal(t, []int64{e0 + tfSec}, epochsOf(sink.bars),
		"the latest bar is processed even when the range query comes back empty")
	assert.Equal(t, []bool{true}, sink.live)
	assert.Equal(t, e0+tfSec, m.Cursor())
}
