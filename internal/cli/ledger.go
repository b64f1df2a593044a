package cli

import (
	"github.com/spf13/cobra"

	"alert-trader/internal/models"
	"alert-trader/pkg/utils"
)

func newLedgerCmd(app *App) *cobra.Command {
	var openOnly bool

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show the position ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			l, st, err := app.openLedger()
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []models.LedgerRow
			if openOnly {
				rows, err = l.OpenRows(cmd.Context())
			} else {
				rows, err = l.Rows(cmd.Context())
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			if len(rows) == 0 {
				output.Dim("No ledger rows")
				return nil
			}

			table := NewTable(output, "Date", "Symbol", "Side", "Entry", "SL", "Entry ID", "At", "SL ID", "Exit", "Status")
			for _, r := range rows {
				table.AddRow(
					r.Date,
					r.Symbol,
					r.Action,
					utils.FormatPrice(r.EntryPrice),
					utils.FormatPrice(r.StopLossPrice),
					r.EntryOrderID,
					r.EntryTimestamp,
					r.SLOrderID,
					utils.FormatPrice(r.ExitPrice),
					output.Status(r.Status),
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d rows", len(rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&openOnly, "open", false, "only rows that are not closed")
	return cmd
}

func newQueueCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect alerts queued after failed entries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			alerts, err := st.ListDeferred(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("Queue is empty")
				return nil
			}

			table := NewTable(output, "ID", "Queued", "Symbol", "Side", "Entry", "SL", "Reason")
			for _, a := range alerts {
				table.AddRow(
					shortID(a.ID),
					a.QueuedAt.In(utils.IndiaLocation).Format("2006-01-02 15:04"),
					a.Alert.Symbol,
					string(a.Alert.Action),
					models.FormatPrice(a.Alert.EntryPrice),
					models.FormatPrice(a.Alert.StopLossPrice),
					utils.Truncate(a.Reason, 60),
				)
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every queued alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.ClearDeferred(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"cleared": n})
			}
			output.Success("Cleared %d queued alerts", n)
			return nil
		},
	})

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
