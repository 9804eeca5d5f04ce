package cli

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mt5-trader/internal/config"
	"mt5-trader/internal/gateway"
	"mt5-trader/internal/journal"
	"mt5-trader/internal/logging"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies. Config and Logger are set at
// startup; Gateway, Journal and Metrics are populated by the command
// that needs them.
type App struct {
	Config    *config.Config
	ConfigDir string
	ConfigErr error
	Logger    zerolog.Logger

	Gateway gateway.Gateway
	Journal *journal.Journal
	Metrics *http.Server
}

// requireConfig gates commands that cannot run without a loaded,
// validated configuration.
func (a *App) requireConfig() error {
	if a.Config == nil {
		return a.ConfigErr
	}
	return nil
}

// ConfigDirFromArgs extracts the --config flag value without running
// the full flag parse, so configuration can load before cobra does.
func ConfigDirFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// NewRootCmd creates the root command for the CLI. cfg may be nil when
// loading failed; cfgErr then carries the reason and commands that need
// configuration refuse to run.
func NewRootCmd(cfg *config.Config, configDir string, cfgErr error, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		ConfigErr: cfgErr,
		Logger:    logger,
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Candle-driven trading bot for MetaTrader 5",
		Long: `trader runs a candle-close driven trading loop against a MetaTrader 5
terminal through its HTTP bridge, or against a built-in paper gateway.

Each closed candle flows through streaming indicators, a four-bar
pattern detector, risk-based position sizing and a position guard that
moves stops to break-even and trails them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/mt5-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newPaperCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newJournalCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("trader v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireConfig(); err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir := app.ConfigDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.requireConfig(); err != nil {
				output.Error("Configuration not loaded: %v", err)
				return err
			}
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write template configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir := app.ConfigDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			created, err := config.WriteTemplates(dir)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				if created == nil {
					created = []string{}
				}
				return output.JSON(map[string]interface{}{"created": created})
			}
			if len(created) == 0 {
				output.Info("All configuration files already present in %s", dir)
				return nil
			}
			for _, path := range created {
				output.Success("Created %s", path)
			}
			output.Println("Review the templates before running the bot.")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, app *App) {
	cfg := app.Config

	output.Bold("Strategy")
	output.Printf("  Symbol:           %s\n", cfg.Strategy.Symbol)
	output.Printf("  Timeframe:        %s\n", cfg.Strategy.Timeframe)
	output.Printf("  EMA:              %d\n", cfg.Strategy.EMAPeriod)
	output.Printf("  MACD:             %d/%d/%d\n", cfg.Strategy.MACDFast, cfg.Strategy.MACDSlow, cfg.Strategy.MACDSignal)
	output.Printf("  ATR:              %d\n", cfg.Strategy.ATRPeriod)
	output.Printf("  Doji Ratio:       %.2f\n", cfg.Strategy.DojiRatio)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk/Trade:       %.1f%%\n", cfg.Risk.RiskPerTrade*100)
	output.Printf("  Risk/Reward:      %s\n", FormatRiskReward(cfg.Risk.RiskReward))
	output.Printf("  ATR Stop Mult:    %.1f\n", cfg.Risk.ATRStopMultiplier)
	output.Println()

	output.Bold("Execution")
	output.Printf("  Nudge Policy:     %s\n", cfg.Execution.NudgePolicy)
	output.Printf("  Deviation:        %d points\n", cfg.Execution.DeviationPoints)
	output.Printf("  Magic:            %d\n", cfg.Execution.Magic)
	output.Println()

	output.Bold("Guard")
	output.Printf("  Break Even:       %v (%s)\n", cfg.Guard.BreakEven, cfg.Guard.BreakEvenTrigger)
	output.Printf("  Take Profit:      %s\n", cfg.Guard.TakeProfitMode)
	output.Printf("  Trail Mult:       %.1f\n", cfg.Guard.TrailMultiplier)
	output.Printf("  Commission/Lot:   %.2f (round trip: %v)\n", cfg.Guard.CommissionPerLot, cfg.Guard.CommissionRoundTrip)
	output.Printf("  Freeze:           %s\n", FormatDuration(cfg.Guard.FreezeDuration))
	output.Println()

	output.Bold("Session")
	output.Printf("  Window:           %02d:00 to %02d:00 %s\n", cfg.Session.StartHour, cfg.Session.EndHour, cfg.Session.Timezone)
	output.Println()

	output.Bold("Gateway")
	output.Printf("  Bridge URL:       %s\n", cfg.Bridge.BaseURL)
	token := "unset"
	if cfg.Bridge.Token != "" {
		token = "set"
	}
	output.Printf("  Bridge Token:     %s\n", token)
	output.Printf("  Timeout:          %s\n", cfg.Bridge.Timeout)
	output.Println()

	output.Bold("Journal")
	output.Printf("  Enabled:          %v\n", cfg.Journal.Enabled)
	if cfg.Journal.Enabled {
		output.Printf("  Path:             %s\n", cfg.Journal.Path)
	}
	output.Println()

	output.Bold("Metrics")
	output.Printf("  Enabled:          %v\n", cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		output.Printf("  Address:          %s\n", cfg.Metrics.Addr)
	}
}
