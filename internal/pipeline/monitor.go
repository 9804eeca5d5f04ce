package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/metrics"
	"mt5-trader/internal/models"
	"mt5-trader/pkg/utils"
)

// errBarNotHydrated marks a hydration re-check that found no epoch newer
// than the cursor.
var errBarNotHydrated = errors.New("newest bar not yet hydrated")

// Sink receives closed candles from the monitor. HandleBar is called at
// most once per epoch, oldest first; Warm hydrates state without running
// the order path.
type Sink interface {
	HandleBar(ctx context.Context, candle models.Candle, isLive bool) error
	Warm(ctx context.Context, candles []models.Candle)
}

// MonitorConfig tunes the candle monitor.
type MonitorConfig struct {
	// Bootstrap replays recent history on the first run instead of just
	// setting the cursor at the latest bar.
	Bootstrap bool
	// BootstrapBars is how many of the most recent bars go through the
	// full bar path during bootstrap.
	BootstrapBars int
	// PrimingBars is how much history hydrates the indicators before the
	// bootstrap replay. Must cover the slowest indicator's seed length.
	PrimingBars int
	// HydrationRetries and HydrationDelay bound the wait for the gateway
	// to expose a bar that has closed but is not yet visible.
	HydrationRetries int
	HydrationDelay   time.Duration
}

// Monitor tracks the last processed closed bar per instrument and feeds
// every newly closed bar to the sink exactly once, oldest first. It keeps
// no durable state: a restart re-primes from gateway history. Not safe
// for concurrent use; the scheduler is its only caller.
type Monitor struct {
	gw        gateway.Gateway
	sink      Sink
	symbol    string
	timeframe models.Timeframe
	cfg       MonitorConfig
	logger    zerolog.Logger

	// cursor is the epoch of the last bar handed to the sink, zero before
	// the first run.
	cursor int64
}

// NewMonitor creates a monitor for one instrument.
func NewMonitor(gw gateway.Gateway, sink Sink, symbol string, timeframe models.Timeframe, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	if cfg.BootstrapBars < 1 {
		cfg.BootstrapBars = 1
	}
	if cfg.PrimingBars < cfg.BootstrapBars {
		cfg.PrimingBars = cfg.BootstrapBars
	}
	if cfg.HydrationRetries < 1 {
		cfg.HydrationRetries = 1
	}
	return &Monitor{
		gw:        gw,
		sink:      sink,
		symbol:    symbol,
		timeframe: timeframe,
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "monitor").With().Str("symbol", symbol).Logger(),
	}
}

// Cursor returns the epoch of the last bar handed to the sink, zero
// before any bar was processed.
func (m *Monitor) Cursor() int64 {
	return m.cursor
}

// ProcessOnce runs one wake-up cycle: find what closed since the last
// cycle and feed it downstream. The cursor advances for every bar handed
// to the sink, even when the sink errors, so no epoch is ever fed twice;
// bars beyond a failed one are picked up by the next cycle's backfill.
func (m *Monitor) ProcessOnce(ctx context.Context) error {
	latest, err := m.gw.LastClosedCandle(ctx, m.symbol, m.timeframe)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoCandle) {
			m.logger.Warn().Msg("no closed candle available")
			return nil
		}
		metrics.IncGatewayError("last_closed_candle")
		return apperrors.Wrapf(err, "latest closed candle for %s", m.symbol)
	}

	if m.cursor == 0 {
		return m.firstRun(ctx, latest)
	}

	if latest.Epoch <= m.cursor {
		// The terminal may not have hydrated the bar that just closed.
		// Re-check a bounded number of times before giving up the cycle.
		fresh, werr := m.awaitNewerBar(ctx)
		if werr != nil {
			if apperrors.Is(werr, errBarNotHydrated) || apperrors.Is(werr, apperrors.ErrNoCandle) {
				m.logger.Debug().Int64("cursor", m.cursor).Msg("no newer bar after hydration wait")
				return nil
			}
			metrics.IncGatewayError("last_closed_candle")
			return apperrors.Wrapf(werr, "hydration wait for %s", m.symbol)
		}
		latest = fresh
	}

	return m.backfill(ctx, latest)
}

// firstRun establishes the cursor. With bootstrap enabled it hydrates
// indicators from priming history and replays the most recent bars
// through the full bar path; otherwise it only pins the cursor.
func (m *Monitor) firstRun(ctx context.Context, latest models.Candle) error {
	if !m.cfg.Bootstrap {
		m.cursor = latest.Epoch
		m.logger.Info().Int64("cursor", m.cursor).Msg("cursor initialized, history skipped")
		return nil
	}

	history, err := m.gw.CandlesBack(ctx, m.symbol, m.timeframe, m.cfg.PrimingBars)
	if err != nil {
		metrics.IncGatewayError("candles_back")
		return apperrors.Wrapf(err, "priming history for %s", m.symbol)
	}
	if len(history) == 0 {
		m.cursor = latest.Epoch
		m.logger.Warn().Int64("cursor", m.cursor).Msg("no priming history, cursor initialized bare")
		return nil
	}

	sortCandles(history)
	m.checkSpacing(history)

	replayFrom := len(history) - m.cfg.BootstrapBars
	if replayFrom < 0 {
		replayFrom = 0
	}
	m.sink.Warm(ctx, history[:replayFrom])
	m.logger.Info().
		Int("warmed", replayFrom).
		Int("replaying", len(history)-replayFrom).
		Msg("bootstrap window ready")

	return m.feedBatch(ctx, history[replayFrom:], latest.Epoch)
}

// awaitNewerBar polls the gateway for an epoch past the cursor with a
// fixed delay between attempts.
func (m *Monitor) awaitNewerBar(ctx context.Context) (models.Candle, error) {
	cfg := utils.FixedRetryConfig(m.cfg.HydrationRetries, m.cfg.HydrationDelay)
	return utils.RetryWithResult(ctx, cfg, func() (models.Candle, error) {
		fresh, err := m.gw.LastClosedCandle(ctx, m.symbol, m.timeframe)
		if err != nil {
			return models.Candle{}, err
		}
		if fresh.Epoch <= m.cursor {
			return models.Candle{}, errBarNotHydrated
		}
		return fresh, nil
	})
}

// backfill fetches everything in (cursor, latest] and feeds it in order.
func (m *Monitor) backfill(ctx context.Context, latest models.Candle) error {
	batch, err := m.gw.CandlesBetween(ctx, m.symbol, m.timeframe, m.cursor, latest.Epoch)
	if err != nil {
		metrics.IncGatewayError("candles_between")
		return apperrors.Wrapf(err, "backfill (%d, %d] for %s", m.cursor, latest.Epoch, m.symbol)
	}
	if len(batch) == 0 {
		// The gateway answered the point query but not the range query;
		// process the latest bar at minimum.
		batch = []models.Candle{latest}
	}

	sortCandles(batch)
	m.checkSpacing(batch)
	if n := len(batch); n > 1 {
		m.logger.Info().
			Int("bars", n).
			Int64("from", batch[0].Epoch).
			Int64("to", batch[n-1].Epoch).
			Msg("backfilling missed bars")
	}

	return m.feedBatch(ctx, batch, latest.Epoch)
}

// feedBatch hands bars to the sink oldest first, advancing the cursor
// after each one. Only the bar matching the freshest known epoch is
// marked live.
func (m *Monitor) feedBatch(ctx context.Context, batch []models.Candle, freshest int64) error {
	if len(batch) == 0 {
		return nil
	}
	if last := batch[len(batch)-1].Epoch; last > freshest {
		freshest = last
	}

	for _, candle := range batch {
		// Never refeed an epoch at or below the cursor.
		if candle.Epoch <= m.cursor {
			continue
		}
		err := m.sink.HandleBar(ctx, candle, candle.Epoch == freshest)
		m.cursor = candle.Epoch
		metrics.IncCandleProcessed(m.symbol)
		if candle.Epoch != freshest {
			metrics.AddBackfillBars(m.symbol, 1)
		}
		if err != nil {
			return apperrors.Wrapf(err, "bar %d for %s", candle.Epoch, m.symbol)
		}
	}
	return nil
}

// checkSpacing logs when consecutive bars are not exactly one timeframe
// apart. Bad spacing is a data-quality signal, not a processing error.
func (m *Monitor) checkSpacing(batch []models.Candle) {
	step := m.timeframe.Seconds()
	for i := 1; i < len(batch); i++ {
		if gap := batch[i].Epoch - batch[i-1].Epoch; gap != step {
			m.logger.Warn().
				Int64("prev_epoch", batch[i-1].Epoch).
				Int64("next_epoch", batch[i].Epoch).
				Int64("expected_sec", step).
				Msg("irregular bar spacing")
		}
	}
}

func sortCandles(batch []models.Candle) {
	sort.Slice(batch, func(i, j int) bool { return batch[i].Epoch < batch[j].Epoch })
}
