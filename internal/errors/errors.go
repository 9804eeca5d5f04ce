// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotConnected     = errors.New("gateway not connected")
	ErrMarketClosed     = errors.New("market is closed")
	ErrNoCandle         = errors.New("no closed candle available")
	ErrNoQuote          = errors.New("no quote available")
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrOrderRejected    = errors.New("order rejected")
	ErrPositionNotFound = errors.New("position not found")
	ErrStopTooClose     = errors.New("stop distance below broker minimum")
	ErrLotTooSmall      = errors.New("computed lot below tradable size")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNotReady         = errors.New("indicator not ready")
	ErrTimeout          = errors.New("operation timed out")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrFrozen           = errors.New("instrument is in freeze window")
)

// GatewayError represents an error from the market gateway.
type GatewayError struct {
	Op      string
	Symbol  string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway error [%s] %s: %s: %v", e.Op, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway error [%s] %s: %s", e.Op, e.Symbol, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError.
func NewGatewayError(op, symbol, message string, err error) *GatewayError {
	return &GatewayError{
		Op:      op,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	Ticket int64
	Symbol string
	Action string
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%d] %s %s: %s: %v", e.Ticket, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%d] %s %s: %s", e.Ticket, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(ticket int64, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		Ticket: ticket,
		Symbol: symbol,
		Action: action,
		Reason: reason,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a market-data quality error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// RiskError represents a risk sizing rule violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.5f, limit: %.5f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
