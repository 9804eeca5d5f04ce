package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const tradingTemplate = `# Trading strategy configuration.

[strategy]
symbol = "EURUSD"
timeframe = "M5"          # terminal notation: M1, M5, M15, M30, H1, H4, D1
ema_period = 200
macd_fast = 12
macd_slow = 26
macd_signal = 9
atr_period = 14
histogram_window = 4
doji_ratio = 0.1          # body/range below this counts as indecision

[risk]
risk_per_trade = 0.01     # fraction of balance risked per position
risk_reward = 1.5
atr_stop_multiplier = 1.5 # ATR padding added beyond the pattern extreme

[execution]
nudge_policy = "flexible" # off, conservative, flexible
nudge_factor = 2.0        # broker-minimum multiples a nudged stop may reach
deviation_points = 10
magic = 861001
comment = "mt5-trader"

[guard]
break_even = true
break_even_trigger = "close"  # close: bar must close past R; extreme: a wick is enough
take_profit_mode = "hybrid"   # fixed: target only; trail: stop follows ATR; hybrid: both
trail_multiplier = 1.0
commission_per_lot = 3.0      # per side, account currency
commission_round_trip = true  # double the commission when arming break even
freeze_duration = "24h"       # pause after a stop-loss exit

[session]
start_hour = 7
end_hour = 3              # end before start wraps past midnight
timezone = "Asia/Jakarta"

[monitor]
bootstrap = true
bootstrap_bars = 10       # closed bars replayed through the full pipeline on start
priming_bars = 1500       # history used to warm the indicators
hydration_retries = 5
hydration_delay = "2s"
wake_buffer = "1s"        # slack after the bar close before polling
`

const gatewayTemplate = `# Terminal gateway configuration.
# The bridge token can also come from the MT5_BRIDGE_TOKEN environment
# variable, which takes precedence over this file.

[bridge]
base_url = "http://127.0.0.1:8787"
token = ""
timeout = "15s"

[sim]
start_balance = 10000.0
start_price = 1.1
spread = 0.0001           # full bid/ask distance
synthesize = true         # fabricate a random walk when no candles are seeded
seed = 0                  # 0 seeds from the clock
history_bars = 1600
`

const appTemplate = `# Application configuration.

[logging]
level = "info"            # debug, info, warn, error
console = true
file = true
max_size_mb = 100
max_backups = 7
max_age_days = 30

[journal]
enabled = true

[metrics]
enabled = false
addr = ":9100"
`

// WriteTemplates writes a commented template for every config file
// missing from configDir and returns the paths it created. Existing
// files are never touched.
func WriteTemplates(configDir string) ([]string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}

	files := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{"trading.toml", tradingTemplate, 0o644},
		{"gateway.toml", gatewayTemplate, 0o600}, // may hold the bridge token
		{"app.toml", appTemplate, 0o644},
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(configDir, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking %s: %w", path, err)
		}
		if err := os.WriteFile(path, []byte(f.content), f.mode); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		created = append(created, path)
	}
	return created, nil
}
