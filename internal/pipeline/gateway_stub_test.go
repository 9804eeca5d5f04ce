package pipeline

import (
	"context"
	"time"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// pipeGateway scripts candle history for monitor and pipeline tests and
// records what the order path sends. series is the full candle universe;
// range and depth queries filter it. latestSeq holds successive
// LastClosedCandle answers, repeating the final entry once exhausted.
type pipeGateway struct {
	series    []models.Candle
	latestSeq []models.Candle
	latestErr error

	latestCalls   int
	betweenRanges [][2]int64
	backCalls     []int
	betweenErr    error
	backErr       error

	meta         models.SymbolMeta
	metaErr      error
	quote        models.Quote
	quoteErr     error
	balance      float64
	balanceErr   error
	positions    []models.Position
	positionsErr error
	orderResult  *models.OrderResult
	orderErr     error

	orders   []models.OrderRequest
	modifies []models.StopModification
}

func (g *pipeGateway) Connect(ctx context.Context) error { return nil }
func (g *pipeGateway) Close() error                      { return nil }
func (g *pipeGateway) Name() string                      { return "scripted" }

func (g *pipeGateway) LastClosedCandle(ctx context.Context, symbol string, timeframe models.Timeframe) (models.Candle, error) {
	if g.latestErr != nil {
		return models.Candle{}, g.latestErr
	}
	if len(g.latestSeq) == 0 {
		return models.Candle{}, apperrors.ErrNoCandle
	}
	idx := g.latestCalls
	if idx >= len(g.latestSeq) {
		idx = len(g.latestSeq) - 1
	}
	g.latestCalls++
	return g.latestSeq[idx], nil
}

func (g *pipeGateway) CandlesBetween(ctx context.Context, symbol string, timeframe models.Timeframe, sinceExclusive, untilInclusive int64) ([]models.Candle, error) {
	g.betweenRanges = append(g.betweenRanges, [2]int64{sinceExclusive, untilInclusive})
	if g.betweenErr != nil {
		return nil, g.betweenErr
	}
	var out []models.Candle
	for _, c := range g.series {
		if c.Epoch > sinceExclusive && c.Epoch <= untilInclusive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (g *pipeGateway) CandlesBack(ctx context.Context, symbol string, timeframe models.Timeframe, count int) ([]models.Candle, error) {
	g.backCalls = append(g.backCalls, count)
	if g.backErr != nil {
		return nil, g.backErr
	}
	if count >= len(g.series) {
		return append([]models.Candle(nil), g.series...), nil
	}
	return append([]models.Candle(nil), g.series[len(g.series)-count:]...), nil
}

func (g *pipeGateway) SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error) {
	if g.metaErr != nil {
		return models.SymbolMeta{}, g.metaErr
	}
	return g.meta, nil
}

func (g *pipeGateway) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if g.quoteErr != nil {
		return models.Quote{}, g.quoteErr
	}
	return g.quote, nil
}

func (g *pipeGateway) AccountBalance(ctx context.Context) (float64, error) {
	if g.balanceErr != nil {
		return 0, g.balanceErr
	}
	return g.balance, nil
}

func (g *pipeGateway) OpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	if g.positionsErr != nil {
		return nil, g.positionsErr
	}
	return g.positions, nil
}

func (g *pipeGateway) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	g.orders = append(g.orders, req)
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	if g.orderResult != nil {
		return g.orderResult, nil
	}
	return &models.OrderResult{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        req.Volume,
		Entry:      g.quote.EntryPrice(req.Side),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Ticket:     5001,
		FillTime:   time.Now().UTC(),
		Status:     models.OrderStatusFilled,
	}, nil
}

func (g *pipeGateway) ModifyStops(ctx context.Context, symbol string, ticket int64, stopLoss, takeProfit float64) error {
	g.modifies = append(g.modifies, models.StopModification{
		Ticket:     ticket,
		Symbol:     symbol,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		At:         time.Now().UTC(),
	})
	return nil
}

func (g *pipeGateway) ServerTimeOffset(ctx context.Context) (time.Duration, error) {
	return 0, nil
}
