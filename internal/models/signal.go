package models

import "time"

// Signal is an actionable pattern detection on one closed bar. IsLive is
// false when the bar was seen while catching up through backfilled
// history; such signals update state but never open positions.
type Signal struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Bias      Bias
	Timeframe Timeframe
	Epoch     int64
	Time      time.Time
	IsLive    bool
}
