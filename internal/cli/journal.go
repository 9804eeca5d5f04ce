package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/journal"
)

func newJournalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the trade journal",
		Long:  "Query recorded signals, order outcomes and stop modifications.",
	}

	cmd.AddCommand(newJournalSignalsCmd(app))
	cmd.AddCommand(newJournalOrdersCmd(app))
	cmd.AddCommand(newJournalStopsCmd(app))
	cmd.AddCommand(newJournalGuardCmd(app))
	return cmd
}

// openJournal opens the configured journal database for reading.
func openJournal(app *App) (*journal.Journal, error) {
	if err := app.requireConfig(); err != nil {
		return nil, err
	}
	if !app.Config.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled in app.toml")
	}
	j, err := journal.Open(app.Config.Journal.Path)
	if err != nil {
		return nil, apperrors.Wrap(err, "journal open")
	}
	return j, nil
}

func newJournalSignalsCmd(app *App) *cobra.Command {
	var symbol string
	var since time.Duration
	var onlyLive bool
	var limit int

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Show recorded pattern detections",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			j, err := openJournal(app)
			if err != nil {
				return err
			}
			defer j.Close()

			filter := journal.SignalFilter{Symbol: symbol, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().UTC().Add(-since)
			}
			if onlyLive {
				filter.OnlyLive = &onlyLive
			}

			signals, err := j.Signals(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(signals)
			}
			if len(signals) == 0 {
				output.Info("No signals recorded.")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "SIDE", "BIAS", "TF", "LIVE")
			for _, s := range signals {
				live := "no"
				if s.IsLive {
					live = "yes"
				}
				table.AddRow(
					s.Time.Format(time.DateTime),
					s.Symbol,
					output.SideString(string(s.Side)),
					string(s.Bias),
					s.Timeframe.String(),
					live,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().DurationVar(&since, "since", 0, "only signals newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&onlyLive, "live", false, "only live signals")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newJournalOrdersCmd(app *App) *cobra.Command {
	var symbol, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Show recorded order outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			j, err := openJournal(app)
			if err != nil {
				return err
			}
			defer j.Close()

			orders, err := j.Orders(cmd.Context(), journal.OrderFilter{
				Symbol: symbol,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No orders recorded.")
				return nil
			}

			table := NewTable(output, "FILLED", "TICKET", "SYMBOL", "SIDE", "LOT", "ENTRY", "SL", "TP", "STATUS", "REASON")
			for _, o := range orders {
				filled := "-"
				if !o.FillTime.IsZero() {
					filled = o.FillTime.Format(time.DateTime)
				}
				table.AddRow(
					filled,
					strconv.FormatInt(o.Ticket, 10),
					o.Symbol,
					output.SideString(string(o.Side)),
					fmt.Sprintf("%.2f", o.Lot),
					fmt.Sprintf("%.5f", o.Entry),
					fmt.Sprintf("%.5f", o.StopLoss),
					fmt.Sprintf("%.5f", o.TakeProfit),
					output.StatusString(string(o.Status)),
					TruncateString(o.Reason, 32),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (FILLED, REJECTED, ERROR)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newJournalStopsCmd(app *App) *cobra.Command {
	var symbol string
	var ticket int64
	var limit int

	cmd := &cobra.Command{
		Use:   "stops",
		Short: "Show recorded stop modifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			j, err := openJournal(app)
			if err != nil {
				return err
			}
			defer j.Close()

			moves, err := j.StopMoves(cmd.Context(), journal.StopMoveFilter{
				Symbol: symbol,
				Ticket: ticket,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(moves)
			}
			if len(moves) == 0 {
				output.Info("No stop modifications recorded.")
				return nil
			}

			table := NewTable(output, "TIME", "TICKET", "SYMBOL", "SL", "TP", "REASON")
			for _, m := range moves {
				table.AddRow(
					m.At.Format(time.DateTime),
					strconv.FormatInt(m.Ticket, 10),
					m.Symbol,
					fmt.Sprintf("%.5f", m.StopLoss),
					fmt.Sprintf("%.5f", m.TakeProfit),
					m.Reason,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().Int64Var(&ticket, "ticket", 0, "filter by position ticket")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newJournalGuardCmd(app *App) *cobra.Command {
	var symbol string
	var limit int

	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Show recorded guard transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			j, err := openJournal(app)
			if err != nil {
				return err
			}
			defer j.Close()

			events, err := j.GuardEvents(cmd.Context(), journal.GuardEventFilter{
				Symbol: symbol,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(events)
			}
			if len(events) == 0 {
				output.Info("No guard transitions recorded.")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "FROM", "TO", "TICKET")
			for _, e := range events {
				table.AddRow(
					e.At.Format(time.DateTime),
					e.Symbol,
					e.From,
					e.To,
					strconv.FormatInt(e.Ticket, 10),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
