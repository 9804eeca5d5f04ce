package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/indicators"
)

func newHistoryCmd(app *App) *cobra.Command {
	var bars int
	var paperMode bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Fetch recent candles and print the indicator readout",
		Long: `Fetches closed candles from the gateway, runs them through the
indicator engine and prints the most recent bars together with the
final EMA, MACD and ATR values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireConfig(); err != nil {
				return err
			}
			return showHistory(cmd, app, bars, paperMode)
		},
	}

	cmd.Flags().IntVar(&bars, "bars", 20, "number of bars to display")
	cmd.Flags().BoolVar(&paperMode, "paper", false, "use the simulated gateway")
	return cmd
}

func showHistory(cmd *cobra.Command, app *App, bars int, paperMode bool) error {
	ctx := cmd.Context()
	output := NewOutput(cmd)
	cfg := app.Config
	symbol := cfg.Strategy.Symbol
	timeframe := cfg.Timeframe()

	if bars < 1 {
		bars = 1
	}

	gw := buildGateway(cfg, paperMode, app.Logger)
	if err := gw.Connect(ctx); err != nil {
		return apperrors.Wrap(err, "gateway connect")
	}
	defer gw.Close()

	// Pull enough history to seed the slowest indicator, not just the
	// bars on display.
	fetch := cfg.Monitor.PrimingBars
	if bars > fetch {
		fetch = bars
	}
	candles, err := gw.CandlesBack(ctx, symbol, timeframe, fetch)
	if err != nil {
		return apperrors.Wrapf(err, "history for %s", symbol)
	}
	if len(candles) == 0 {
		output.Warning("No closed candles available for %s %s", symbol, timeframe)
		return nil
	}

	engine, err := indicators.NewEngine(indicators.Config{
		EMAPeriod:       cfg.Strategy.EMAPeriod,
		MACDFast:        cfg.Strategy.MACDFast,
		MACDSlow:        cfg.Strategy.MACDSlow,
		MACDSignal:      cfg.Strategy.MACDSignal,
		ATRPeriod:       cfg.Strategy.ATRPeriod,
		HistogramWindow: cfg.Strategy.HistogramWindow,
	})
	if err != nil {
		return apperrors.Wrap(err, "indicator engine")
	}
	snap := engine.Warmup(candles)

	digits := 5
	if meta, metaErr := gw.SymbolMeta(ctx, symbol); metaErr == nil && meta.Digits > 0 {
		digits = meta.Digits
	}

	if bars > len(candles) {
		bars = len(candles)
	}
	shown := candles[len(candles)-bars:]

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe.String(),
			"candles":   shown,
			"snapshot":  snapshotJSON(snap),
		})
	}

	output.Bold("%s %s, last %d of %d bars", symbol, timeframe, len(shown), len(candles))
	table := NewTable(output, "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
	for _, c := range shown {
		table.AddRow(
			c.Time.Format(time.DateTime),
			formatPrice(c.Open, digits),
			formatPrice(c.High, digits),
			formatPrice(c.Low, digits),
			formatPrice(c.Close, digits),
			strconv.FormatInt(c.Volume, 10),
		)
	}
	table.Render()
	output.Println()

	printSnapshot(output, snap, engine.BarsSeen(), digits)
	return nil
}

func printSnapshot(output *Output, snap indicators.Snapshot, seen, digits int) {
	output.Bold("Indicators after %d bars", seen)

	if snap.HasEMA {
		output.Printf("  EMA:        %s\n", formatPrice(snap.EMA, digits))
	} else {
		output.Printf("  EMA:        warming, %d bars to go\n", snap.BarsUntilEMA)
	}
	if snap.HasMACD && snap.HasSignal {
		output.Printf("  MACD:       %s  signal %s  histogram %s\n",
			formatPrice(snap.MACD, digits+1),
			formatPrice(snap.Signal, digits+1),
			formatPrice(snap.Histogram, digits+1))
	} else {
		output.Printf("  MACD:       warming\n")
	}
	if snap.HasATR {
		output.Printf("  ATR:        %s\n", formatPrice(snap.ATR, digits))
	} else {
		output.Printf("  ATR:        warming\n")
	}
	if snap.Ready() {
		output.Success("  Ready:      yes")
	} else {
		output.Warning("  Ready:      no, %d histogram bars to go", snap.BarsUntilHistogram)
	}
}

func snapshotJSON(snap indicators.Snapshot) map[string]interface{} {
	out := map[string]interface{}{
		"ready":                snap.Ready(),
		"bars_until_ema":       snap.BarsUntilEMA,
		"bars_until_histogram": snap.BarsUntilHistogram,
	}
	if snap.HasEMA {
		out["ema"] = snap.EMA
	}
	if snap.HasMACD {
		out["macd"] = snap.MACD
	}
	if snap.HasSignal {
		out["signal"] = snap.Signal
	}
	if snap.HasHistogram {
		out["histogram"] = snap.Histogram
	}
	if snap.HasATR {
		out["atr"] = snap.ATR
	}
	return out
}

func formatPrice(v float64, digits int) string {
	return strconv.FormatFloat(v, 'f', digits, 64)
}
