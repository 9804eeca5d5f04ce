// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "mt5-trader", "logs", "trader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		// Ensure log directory exists
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	// Create multi-writer
	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	// Set log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Create logger
	logger := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// SetInfoLevel sets the global log level to info.
func SetInfoLevel() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
	// SymbolKey is the context key for symbol.
	SymbolKey ContextKey = "symbol"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithTicket adds a position ticket to the logger context.
func WithTicket(logger zerolog.Logger, ticket int64) zerolog.Logger {
	return logger.With().Int64("ticket", ticket).Logger()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogSignal logs a pattern detection.
func LogSignal(logger zerolog.Logger, symbol, side string, epoch int64, live bool) {
	logger.Info().
		Str("event", "signal").
		Str("symbol", symbol).
		Str("side", side).
		Int64("epoch", epoch).
		Bool("live", live).
		Msg("Signal detected")
}

// LogOrder logs an order submission outcome.
func LogOrder(logger zerolog.Logger, symbol, side, status string, lot, entry, sl, tp float64) {
	logger.Info().
		Str("event", "order").
		Str("symbol", symbol).
		Str("side", side).
		Str("status", status).
		Float64("lot", lot).
		Float64("entry", entry).
		Float64("sl", sl).
		Float64("tp", tp).
		Msg("Order update")
}

// LogStopMove logs a protective stop modification.
func LogStopMove(logger zerolog.Logger, symbol string, ticket int64, oldSL, newSL float64, reason string) {
	logger.Info().
		Str("event", "stop_move").
		Str("symbol", symbol).
		Int64("ticket", ticket).
		Float64("old_sl", oldSL).
		Float64("new_sl", newSL).
		Str("reason", reason).
		Msg("Stop modified")
}

// LogGuardTransition logs a position guard state change.
func LogGuardTransition(logger zerolog.Logger, symbol, from, to string, ticket int64) {
	logger.Info().
		Str("event", "guard").
		Str("symbol", symbol).
		Str("from", from).
		Str("to", to).
		Int64("ticket", ticket).
		Msg("Guard transition")
}

// LogGatewayCall logs one gateway round trip at debug level.
func LogGatewayCall(logger zerolog.Logger, op string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "gateway_call").
		Str("op", op).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Gateway call failed")
	} else {
		event.Msg("Gateway call completed")
	}
}
