package models

import "time"

// OrderStatus represents the terminal outcome of an order submission.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusError    OrderStatus = "ERROR"
)

// OrderPlan is the planner's provisional intent: stop-loss is final from
// the planner's point of view, take-profit stays zero until execution
// recomputes it against the live entry price. Single use.
type OrderPlan struct {
	Symbol     string
	Side       OrderSide
	RiskReward float64
	StopLoss   float64
	TakeProfit float64
	SignalTime time.Time
}

// OrderRequest is what actually goes to the gateway.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Deviation  int
	Magic      int64
	Comment    string
	ClientID   string
}

// OrderResult records the outcome of one submission attempt.
type OrderResult struct {
	Symbol     string
	Side       OrderSide
	Lot        float64
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Ticket     int64
	FillTime   time.Time
	Status     OrderStatus
	Reason     string
}

// Filled reports whether the order actually opened a position.
func (r *OrderResult) Filled() bool {
	return r != nil && r.Status == OrderStatusFilled
}

// Position is one open position as reported by the gateway.
type Position struct {
	Ticket     int64
	Symbol     string
	Side       OrderSide
	Lot        float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	OpenTime   time.Time
}

// StopModification records a protective stop move on an open position.
type StopModification struct {
	Ticket     int64
	Symbol     string
	StopLoss   float64
	TakeProfit float64
	Reason     string
	At         time.Time
}
