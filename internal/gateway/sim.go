package gateway

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/logging"
	"mt5-trader/internal/models"
)

const simTicketBase = 100000

// SimConfig configures the simulated gateway.
type SimConfig struct {
	Symbol    string
	Timeframe models.Timeframe
	// StartBalance is the opening account balance. Defaults to 10000.
	StartBalance float64
	// StartPrice anchors the synthetic walk. Defaults to 1.1000.
	StartPrice float64
	// Spread is the full bid/ask distance. Defaults to 0.0001.
	Spread float64
	// HistoryBars is how much history the walk fabricates before the
	// present. Defaults to 1600.
	HistoryBars int
	// Synthesize keeps fabricating one bar per elapsed timeframe
	// interval. When false the gateway serves seeded candles only.
	Synthesize bool
	// Seed fixes the walk; 0 seeds from the clock.
	Seed int64
	// Meta overrides the default five-digit FX specs when non-zero.
	Meta models.SymbolMeta
}

// Sim is an in-memory Gateway for paper trading. Candles come from a
// seeded series or a deterministic random walk, orders fill at the
// simulated quote, and protective stops are settled against each new
// bar's range.
type Sim struct {
	symbol     string
	timeframe  models.Timeframe
	spread     float64
	meta       models.SymbolMeta
	synthesize bool
	history    int
	startPrice float64
	logger     zerolog.Logger

	mu        sync.Mutex
	connected bool
	candles   []models.Candle
	balance   float64
	positions map[int64]*models.Position
	tickets   int64
	rng       *rand.Rand
}

// NewSim creates a simulated gateway.
func NewSim(cfg SimConfig, logger zerolog.Logger) *Sim {
	symbol := cfg.Symbol
	if symbol == "" {
		symbol = "EURUSD"
	}
	timeframe := cfg.Timeframe
	if timeframe <= 0 {
		timeframe = models.TimeframeM5
	}
	balance := cfg.StartBalance
	if balance <= 0 {
		balance = 10000
	}
	startPrice := cfg.StartPrice
	if startPrice <= 0 {
		startPrice = 1.1000
	}
	spread := cfg.Spread
	if spread <= 0 {
		spread = 0.0001
	}
	history := cfg.HistoryBars
	if history <= 0 {
		history = 1600
	}
	meta := cfg.Meta
	if meta.TickSize == 0 {
		meta = models.SymbolMeta{
			Name:        symbol,
			Digits:      5,
			TickSize:    0.00001,
			TickValue:   1.0,
			LotStep:     0.01,
			MinLot:      0.01,
			StopsLevel:  10,
			FreezeLevel: 0,
		}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Sim{
		symbol:     symbol,
		timeframe:  timeframe,
		spread:     spread,
		meta:       meta,
		synthesize: cfg.Synthesize,
		history:    history,
		startPrice: startPrice,
		logger:     logging.WithComponent(logger, "sim"),
		balance:    balance,
		positions:  make(map[int64]*models.Position),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// SeedCandles replaces the candle series. Bars are stored ascending.
func (s *Sim) SeedCandles(candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candles = append([]models.Candle(nil), candles...)
	sort.Slice(s.candles, func(i, j int) bool { return s.candles[i].Epoch < s.candles[j].Epoch })
}

// Reset restores the starting balance and clears positions and tickets.
// The candle series is kept.
func (s *Sim) Reset(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balance = balance
	s.positions = make(map[int64]*models.Position)
	s.tickets = 0
}

// Connect marks the gateway ready.
func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.logger.Info().
		Str("symbol", s.symbol).
		Str("timeframe", s.timeframe.String()).
		Bool("synthesize", s.synthesize).
		Msg("simulated gateway ready")
	return nil
}

// Close marks the gateway disconnected. Safe to call more than once.
func (s *Sim) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

// Name identifies the venue for logs.
func (s *Sim) Name() string { return "sim" }

// LastClosedCandle returns the newest bar, fabricating the walk up to
// the present first.
func (s *Sim) LastClosedCandle(ctx context.Context, symbol string, timeframe models.Timeframe) (models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fill(time.Now())
	if len(s.candles) == 0 {
		return models.Candle{}, apperrors.ErrNoCandle
	}
	return s.candles[len(s.candles)-1], nil
}

// CandlesBetween returns bars with sinceExclusive < epoch <=
// untilInclusive, ascending.
func (s *Sim) CandlesBetween(ctx context.Context, symbol string, timeframe models.Timeframe, sinceExclusive, untilInclusive int64) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fill(time.Now())
	var out []models.Candle
	for _, c := range s.candles {
		if c.Epoch > sinceExclusive && c.Epoch <= untilInclusive {
			out = append(out, c)
		}
	}
	return out, nil
}

// CandlesBack returns the last count bars ascending.
func (s *Sim) CandlesBack(ctx context.Context, symbol string, timeframe models.Timeframe, count int) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fill(time.Now())
	if count <= 0 || len(s.candles) == 0 {
		return nil, nil
	}
	if count > len(s.candles) {
		count = len(s.candles)
	}
	out := make([]models.Candle, count)
	copy(out, s.candles[len(s.candles)-count:])
	return out, nil
}

// SymbolMeta returns the configured instrument specs.
func (s *Sim) SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error) {
	return s.meta, nil
}

// Quote derives bid and ask from the newest close and the configured
// spread.
func (s *Sim) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fill(time.Now())
	if len(s.candles) == 0 {
		return models.Quote{}, apperrors.ErrNoQuote
	}

	mid := s.candles[len(s.candles)-1].Close
	return models.Quote{
		Symbol: s.symbol,
		Bid:    mid - s.spread/2,
		Ask:    mid + s.spread/2,
		Time:   time.Now().UTC(),
	}, nil
}

// AccountBalance returns the simulated cash balance.
func (s *Sim) AccountBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// OpenPositions returns copies of the simulated open positions.
func (s *Sim) OpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

// PlaceMarketOrder fills the order at the simulated quote and opens a
// position. Volumes at or below zero are rejected inside the result.
func (s *Sim) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fill(time.Now())
	now := time.Now().UTC()

	if req.Volume <= 0 {
		return &models.OrderResult{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Lot:      req.Volume,
			FillTime: now,
			Status:   models.OrderStatusRejected,
			Reason:   "invalid volume",
		}, nil
	}
	if len(s.candles) == 0 {
		return &models.OrderResult{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Lot:      req.Volume,
			FillTime: now,
			Status:   models.OrderStatusRejected,
			Reason:   "no market price",
		}, nil
	}

	mid := s.candles[len(s.candles)-1].Close
	entry := mid + req.Side.Sign()*s.spread/2

	s.tickets++
	ticket := simTicketBase + s.tickets
	s.positions[ticket] = &models.Position{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        req.Volume,
		EntryPrice: entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   now,
	}

	s.logger.Info().
		Int64("ticket", ticket).
		Str("side", string(req.Side)).
		Float64("lot", req.Volume).
		Float64("entry", entry).
		Msg("paper order filled")

	return &models.OrderResult{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        req.Volume,
		Entry:      entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Ticket:     ticket,
		FillTime:   now,
		Status:     models.OrderStatusFilled,
	}, nil
}

// ModifyStops rewrites the protective levels of an open position.
func (s *Sim) ModifyStops(ctx context.Context, symbol string, ticket int64, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[ticket]
	if !ok {
		return apperrors.NewOrderError(ticket, symbol, "modify", "position gone", apperrors.ErrPositionNotFound)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return nil
}

// ServerTimeOffset is always zero for the simulation.
func (s *Sim) ServerTimeOffset(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

// fill fabricates walk bars for every timeframe interval that has fully
// closed since the last known bar, settling stops bar by bar. Callers
// hold the mutex.
func (s *Sim) fill(now time.Time) {
	if !s.synthesize {
		return
	}

	step := s.timeframe.Seconds()
	latestOpen := ((now.Unix() - step) / step) * step

	next := latestOpen - int64(s.history-1)*step
	if n := len(s.candles); n > 0 {
		next = s.candles[n-1].Epoch + step
	}

	for epoch := next; epoch <= latestOpen; epoch += step {
		bar := s.walkBar(epoch)
		s.candles = append(s.candles, bar)
		s.settle(bar)
	}
}

// walkBar fabricates one bar continuing the walk from the last close.
func (s *Sim) walkBar(epoch int64) models.Candle {
	open := s.startPrice
	if n := len(s.candles); n > 0 {
		open = s.candles[n-1].Close
	}

	closep := open + (s.rng.Float64()-0.5)*0.0012
	high := math.Max(open, closep) + s.rng.Float64()*0.0003
	low := math.Min(open, closep) - s.rng.Float64()*0.0003
	volume := int64(40 + s.rng.Intn(80))

	return models.NewCandle(epoch, open, high, low, closep, volume)
}

// settle closes positions whose stop or target the bar's range touched,
// realizing the result into the balance. Stops win ties, matching how a
// broker fills the level reached first on an adverse excursion.
func (s *Sim) settle(bar models.Candle) {
	for ticket, pos := range s.positions {
		exit, reason := 0.0, ""

		if pos.Side == models.OrderSideBuy {
			switch {
			case pos.StopLoss > 0 && bar.Low <= pos.StopLoss:
				exit, reason = pos.StopLoss, "stop-loss"
			case pos.TakeProfit > 0 && bar.High >= pos.TakeProfit:
				exit, reason = pos.TakeProfit, "take-profit"
			}
		} else {
			switch {
			case pos.StopLoss > 0 && bar.High >= pos.StopLoss:
				exit, reason = pos.StopLoss, "stop-loss"
			case pos.TakeProfit > 0 && bar.Low <= pos.TakeProfit:
				exit, reason = pos.TakeProfit, "take-profit"
			}
		}
		if reason == "" {
			continue
		}

		pnl := (exit - pos.EntryPrice) * pos.Side.Sign() / s.meta.TickSize * s.meta.TickValue * pos.Lot
		s.balance += pnl
		delete(s.positions, ticket)

		s.logger.Info().
			Int64("ticket", ticket).
			Str("reason", reason).
			Float64("exit", exit).
			Float64("pnl", pnl).
			Float64("balance", s.balance).
			Msg("paper position closed")
	}
}

var (
	_ Gateway = (*Bridge)(nil)
	_ Gateway = (*Sim)(nil)
)
