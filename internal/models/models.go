// Package models provides domain models for the trading application.
package models

import (
	"fmt"
	"strconv"
	"time"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Bias represents the directional lean of the market on the signal bar.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

// Side maps a bias onto the order side that trades it.
func (b Bias) Side() OrderSide {
	if b == BiasBearish {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Timeframe is a bar duration in minutes.
type Timeframe int

const (
	TimeframeM1  Timeframe = 1
	TimeframeM5  Timeframe = 5
	TimeframeM15 Timeframe = 15
	TimeframeM30 Timeframe = 30
	TimeframeH1  Timeframe = 60
	TimeframeH4  Timeframe = 240
)

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Minute
}

// Seconds returns the timeframe length in whole seconds.
func (tf Timeframe) Seconds() int64 {
	return int64(tf) * 60
}

// String renders the timeframe in terminal notation (M5, H1, ...).
func (tf Timeframe) String() string {
	if tf >= 60 && tf%60 == 0 {
		return fmt.Sprintf("H%d", int(tf)/60)
	}
	return fmt.Sprintf("M%d", int(tf))
}

// Human renders the timeframe the way log lines read it, e.g.
// "5-minute", "1-hour", "2-day".
func (tf Timeframe) Human() string {
	minutes := int(tf)
	if minutes <= 0 {
		return "invalid-duration"
	}
	switch {
	case minutes%1440 == 0:
		return fmt.Sprintf("%d-day", minutes/1440)
	case minutes%60 == 0:
		return fmt.Sprintf("%d-hour", minutes/60)
	default:
		return fmt.Sprintf("%d-minute", minutes)
	}
}

// ParseTimeframe parses terminal notation (M5, H1, ...) back into a
// Timeframe. Returns 0 for unrecognized text.
func ParseTimeframe(s string) Timeframe {
	if len(s) < 2 {
		return 0
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n <= 0 {
		return 0
	}
	switch s[0] {
	case 'M':
		return Timeframe(n)
	case 'H':
		return Timeframe(n * 60)
	}
	return 0
}

// Candle represents OHLCV data for one closed bar.
// Epoch is the bar open time in unix seconds and is the identity and
// ordering key; Time must always equal time.Unix(Epoch, 0).UTC().
type Candle struct {
	Time   time.Time
	Epoch  int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// NewCandle builds a candle keyed by its open epoch.
func NewCandle(epoch int64, open, high, low, closep float64, volume int64) Candle {
	return Candle{
		Time:   time.Unix(epoch, 0).UTC(),
		Epoch:  epoch,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closep,
		Volume: volume,
	}
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// Body returns the absolute open-to-close distance.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-to-low distance, floored at zero.
func (c Candle) Range() float64 {
	r := c.High - c.Low
	if r < 0 {
		return 0
	}
	return r
}

// Quote represents a bid/ask snapshot, fetched immediately before use.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// EntryPrice returns the price a market order on the given side fills at.
func (q Quote) EntryPrice(side OrderSide) float64 {
	if side == OrderSideSell {
		return q.Bid
	}
	return q.Ask
}

// SymbolMeta is the broker's immutable description of an instrument.
// StopsLevel and FreezeLevel are distances expressed in ticks.
type SymbolMeta struct {
	Name        string
	Digits      int
	TickSize    float64
	TickValue   float64
	LotStep     float64
	MinLot      float64
	StopsLevel  int
	FreezeLevel int
}

// MinStopDistance returns the broker minimum stop distance in price units.
func (m SymbolMeta) MinStopDistance() float64 {
	return float64(m.StopsLevel) * m.TickSize
}
