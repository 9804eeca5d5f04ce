package trading

import (
	"context"
	"time"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// stubGateway scripts gateway responses for execution and guard tests
// and records what was sent to the broker.
type stubGateway struct {
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
	modifyErr    error

	orders   []models.OrderRequest
	modifies []models.StopModification
}

func (s *stubGateway) Connect(ctx context.Context) error { return nil }
func (s *stubGateway) Close() error                      { return nil }
func (s *stubGateway) Name() string                      { return "stub" }

func (s *stubGateway) LastClosedCandle(ctx context.Context, symbol string, timeframe models.Timeframe) (models.Candle, error) {
	return models.Candle{}, apperrors.ErrNoCandle
}

func (s *stubGateway) CandlesBetween(ctx context.Context, symbol string, timeframe models.Timeframe, sinceExclusive, untilInclusive int64) ([]models.Candle, error) {
	return nil, nil
}

func (s *stubGateway) CandlesBack(ctx context.Context, symbol string, timeframe models.Timeframe, count int) ([]models.Candle, error) {
	return nil, nil
}

func (s *stubGateway) SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error) {
	if s.metaErr != nil {
		return models.SymbolMeta{}, s.metaErr
	}
	return s.meta, nil
}

func (s *stubGateway) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if s.quoteErr != nil {
		return models.Quote{}, s.quoteErr
	}
	return s.quote, nil
}

func (s *stubGateway) AccountBalance(ctx context.Context) (float64, error) {
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balance, nil
}

func (s *stubGateway) OpenPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	if s.positionsErr != nil {
		return nil, s.positionsErr
	}
	return s.positions, nil
}

func (s *stubGateway) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	s.orders = append(s.orders, req)
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	if s.orderResult != nil {
		return s.orderResult, nil
	}
	return &models.OrderResult{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Lot:        req.Volume,
		Entry:      s.quote.EntryPrice(req.Side),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Ticket:     1001,
		FillTime:   time.Unix(1700000000, 0).UTC(),
		Status:     models.OrderStatusFilled,
	}, nil
}

func (s *stubGateway) ModifyStops(ctx context.Context, symbol string, ticket int64, stopLoss, takeProfit float64) error {
	if s.modifyErr != nil {
		return s.modifyErr
	}
	s.modifies = append(s.modifies, models.StopModification{
		Ticket:     ticket,
		Symbol:     symbol,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	for i := range s.positions {
		if s.positions[i].Ticket == ticket {
			s.positions[i].StopLoss = stopLoss
			s.positions[i].TakeProfit = takeProfit
		}
	}
	return nil
}

func (s *stubGateway) ServerTimeOffset(ctx context.Context) (time.Duration, error) {
	return 0, nil
}
