package trading

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5-trader/internal/indicators"
	"mt5-trader/internal/models"
)

func plannerWindow() []models.Candle {
	return []models.Candle{
		models.NewCandle(1000, 1.1010, 1.1015, 1.0995, 1.1000, 10),
		models.NewCandle(1300, 1.1000, 1.1025, 1.0998, 1.1020, 10),
		models.NewCandle(1600, 1.1020, 1.1045, 1.1012, 1.1040, 10),
		models.NewCandle(1900, 1.1040, 1.1065, 1.1030, 1.1060, 10),
	}
}

func fxPlannerMeta() models.SymbolMeta {
	return models.SymbolMeta{
		Name:      "EURUSD",
		Digits:    5,
		TickSize:  0.00001,
		TickValue: 1.0,
		LotStep:   0.01,
		MinLot:    0.01,
	}
}

func Test_BuildPlanUsesWindowExtremes(t *testing.T) {
	planner := NewPlanner(1.5, 0, zerolog.Nop())
	signalTime := time.Unix(1900, 0).UTC()

	plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, plannerWindow(), fxPlannerMeta(), signalTime, indicators.Snapshot{}, 0)
	require.NotNil(t, plan)
	assert.Equal(t, "EURUSD", plan.Symbol)
	assert.Equal(t, models.OrderSideBuy, plan.Side)
	assert.InDelta(t, 1.0995, plan.StopLoss, 1e-9, "buy stop sits at the lowest low")
	assert.InDelta(t, 1.5, plan.RiskReward, 1e-9)
	assert.Zero(t, plan.TakeProfit, "take-profit is computed at execution time")
	assert.Equal(t, signalTime, plan.SignalTime)

	plan = planner.BuildPlan("EURUSD", models.OrderSideSell, plannerWindow(), fxPlannerMeta(), signalTime, indicators.Snapshot{}, 0)
	require.NotNil(t, plan)
	assert.InDelta(t, 1.1065, plan.StopLoss, 1e-9, "sell stop sits at the highest high")
}

func Test_BuildPlanRequiresFourCandles(t *testing.T) {
	planner := NewPlanner(1.5, 0, zerolog.Nop())
	plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, plannerWindow()[:3], fxPlannerMeta(), time.Now(), indicators.Snapshot{}, 0)
	assert.Nil(t, plan)
}

func Test_BuildPlanUsesLastFourOfLongerWindow(t *testing.T) {
	candles := append([]models.Candle{
		models.NewCandle(700, 1.0900, 1.0910, 1.0890, 1.0905, 10),
	}, plannerWindow()...)

	planner := NewPlanner(1.5, 0, zerolog.Nop())
	plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, candles, fxPlannerMeta(), time.Now(), indicators.Snapshot{}, 0)
	require.NotNil(t, plan)
	assert.InDelta(t, 1.0995, plan.StopLoss, 1e-9, "only the newest four candles count")
}

func Test_BuildPlanWidensStopByATR(t *testing.T) {
	snap := indicators.Snapshot{ATR: 0.0100, HasATR: true}
	planner := NewPlanner(1.5, 1.0, zerolog.Nop())

	// Base distance from last close 1.1060 to the pattern stop 1.0995
	// is 0.0065, narrower than 1.0 x ATR = 0.0100.
	plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, plannerWindow(), fxPlannerMeta(), time.Now(), snap, 0)
	require.NotNil(t, plan)
	assert.InDelta(t, 1.0960, plan.StopLoss, 1e-9, "stop widened to close minus ATR")

	plan = planner.BuildPlan("EURUSD", models.OrderSideSell, plannerWindow(), fxPlannerMeta(), time.Now(), snap, 0)
	require.NotNil(t, plan)
	assert.InDelta(t, 1.1160, plan.StopLoss, 1e-9, "stop widened to close plus ATR")
}

func Test_BuildPlanKeepsStopWideEnoughForATR(t *testing.T) {
	snap := indicators.Snapshot{ATR: 0.0030, HasATR: true}
	planner := NewPlanner(1.5, 1.0, zerolog.Nop())

	// Pattern distance 0.0065 already exceeds 1.0 x ATR = 0.0030.
	plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, plannerWindow(), fxPlannerMeta(), time.Now(), snap, 0)
	require.NotNil(t, plan)
	assert.InDelta(t, 1.0995, plan.StopLoss, 1e-9, "pattern stop kept when already wide enough")
}

func Test_BuildPlanIgnoresATRWithoutValueOrMultiplier(t *testing.T) {
	tests := []struct {
		name       string
		multiplier float64
		snap       indicators.Snapshot
	}{
		{"multiplier disabled", 0, indicators.Snapshot{ATR: 0.0100, HasATR: true}},
		{"atr not ready", 1.0, indicators.Snapshot{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			planner := NewPlanner(1.5, tc.multiplier, zerolog.Nop())
			plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, plannerWindow(), fxPlannerMeta(), time.Now(), tc.snap, 0)
			require.NotNil(t, plan)
			assert.InDelta(t, 1.0995, plan.StopLoss, 1e-9)
		})
	}
}

func Test_BuildPlanUsesExplicitPriceReference(t *testing.T) {
	snap := indicators.Snapshot{ATR: 0.0200, HasATR: true}
	planner := NewPlanner(1.5, 1.0, zerolog.Nop())

	// Distances are measured from the supplied reference 1.1100, not
	// from the last close, so the stop widens to 1.1100 - 0.0200.
	plan := planner.BuildPlan("EURUSD", models.OrderSideBuy, plannerWindow(), fxPlannerMeta(), time.Now(), snap, 1.1100)
	require.NotNil(t, plan)
	assert.InDelta(t, 1.0900, plan.StopLoss, 1e-9)
}
