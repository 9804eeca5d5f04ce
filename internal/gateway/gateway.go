// Package gateway abstracts the market venue behind a synchronous
// interface: candle history, quotes, account state, and order routing.
package gateway

import (
	"context"
	"time"

	"mt5-trader/internal/models"
)

// Gateway is the market venue seen by the trading core. All calls are
// synchronous; implementations return wrapped errors on connectivity
// failure. Absence of data is signaled with the errors.ErrNoCandle and
// errors.ErrNoQuote sentinels rather than zero values.
type Gateway interface {
	// Connect establishes the venue connection. It must be called once
	// before any data or trading call.
	Connect(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Name identifies the venue for logs.
	Name() string

	// LastClosedCandle returns the most recent fully closed bar.
	LastClosedCandle(ctx context.Context, symbol string, timeframe models.Timeframe) (models.Candle, error)

	// CandlesBetween returns closed bars with sinceExclusive < epoch <=
	// untilInclusive, ascending by time. An invalid range yields an
	// empty slice, not an error.
	CandlesBetween(ctx context.Context, symbol string, timeframe models.Timeframe, sinceExclusive, untilInclusive int64) ([]models.Candle, error)

	// CandlesBack returns the last count closed bars ascending by time.
	CandlesBack(ctx context.Context, symbol string, timeframe models.Timeframe, count int) ([]models.Candle, error)

	// SymbolMeta returns broker specs for the instrument.
	SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error)

	// Quote returns the current bid and ask.
	Quote(ctx context.Context, symbol string) (models.Quote, error)

	// AccountBalance returns the account balance in deposit currency.
	AccountBalance(ctx context.Context) (float64, error)

	// OpenPositions returns the open positions for the instrument.
	OpenPositions(ctx context.Context, symbol string) ([]models.Position, error)

	// PlaceMarketOrder submits a market order and reports the venue's
	// verdict. A rejection is returned inside the result, not as an
	// error; errors mean the request itself failed.
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)

	// ModifyStops rewrites the stop-loss and take-profit of an open
	// position.
	ModifyStops(ctx context.Context, symbol string, ticket int64, stopLoss, takeProfit float64) error

	// ServerTimeOffset returns venue server time minus local UTC,
	// measured at the transport level.
	ServerTimeOffset(ctx context.Context) (time.Duration, error)
}
