package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
	"mt5-trader/internal/trading"
	"mt5-trader/pkg/utils"
)

// Scheduler is the single control loop. Outside the session window it
// sleeps until the next session start; inside it wakes just after each
// timeframe-aligned close and invokes the callback. Callback errors are
// logged and the loop continues; only context cancellation stops it.
type Scheduler struct {
	window    trading.SessionWindow
	timeframe models.Timeframe
	buffer    time.Duration
	onClose   func(ctx context.Context) error
	logger    zerolog.Logger
}

// NewScheduler creates a session-aware scheduler. buffer is added after
// each aligned close so the gateway has a moment to expose the bar.
func NewScheduler(window trading.SessionWindow, timeframe models.Timeframe, buffer time.Duration, onClose func(ctx context.Context) error, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		window:    window,
		timeframe: timeframe,
		buffer:    buffer,
		onClose:   onClose,
		logger:    logging.WithComponent(logger, "scheduler"),
	}
}

// Run blocks until ctx ends. Returns the context's error so callers can
// distinguish a clean shutdown from anything else.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Int("start_hour", s.window.StartHour).
		Int("end_hour", s.window.EndHour).
		Str("timezone", s.window.Location.String()).
		Str("timeframe", s.timeframe.Human()).
		Msg("scheduler started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := time.Now().In(s.window.Location)
		if !s.window.InSession(now) {
			start := s.window.NextSessionStart(now)
			s.logger.Info().Time("session_start", start).Msg("out of session, sleeping until next session start")
			if !utils.Sleep(ctx, time.Until(start)) {
				return ctx.Err()
			}
			s.logger.Info().Time("session_start", start).Msg("session opened")
			continue
		}

		wakeAt := trading.NextAlignedClose(now, s.timeframe).Add(s.buffer)
		s.logger.Debug().
			Str("timeframe", s.timeframe.Human()).
			Time("wake_at", wakeAt).
			Msg("sleeping until next candle close")
		if !utils.Sleep(ctx, time.Until(wakeAt)) {
			return ctx.Err()
		}

		if err := s.onClose(ctx); err != nil {
			s.logger.Error().Err(err).Msg("candle close cycle failed")
		}
	}
}
