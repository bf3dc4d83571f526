package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sectrade/sectrader/account"
	"github.com/sectrade/sectrader/store"
)

func newJournalCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the persisted order and trade journal",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "./sectrader.db", "path to SQLite journal")

	orders := &cobra.Command{
		Use:   "orders <account-code>",
		Short: "List persisted orders for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.ListOrders(args[0])
			if err != nil {
				return err
			}
			return printOrders(recs)
		},
	}

	trades := &cobra.Command{
		Use:   "trades <order-id>",
		Short: "List executions of one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.ListTrades(args[0])
			if err != nil {
				return err
			}
			return printTrades(recs)
		},
	}

	day := &cobra.Command{
		Use:   "day [YYYY-MM-DD]",
		Short: "List executions for a day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().Format("2006-01-02")
			if len(args) == 1 {
				date = args[0]
			}
			start, err := time.ParseInLocation("2006-01-02", date, time.Local)
			if err != nil {
				return fmt.Errorf("date: %w", err)
			}
			s, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.ListTradesBetween(start, start.AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			return printTrades(recs)
		},
	}

	cmd.AddCommand(orders, trades, day)
	return cmd
}

func printOrders(recs []store.OrderRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINSTRUMENT\tSIDE\tOPEN\tPRICE\tVOLUME\tSTATUS\tTIME")
	for _, r := range recs {
		side := "short"
		if r.IsLong {
			side = "long"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%g\t%g\t%s\t%s\n",
			r.ID, r.InstrumentID, side, r.IsOpen, r.Price, r.Volume,
			account.Status(r.Status), r.OrderTime.Format(time.RFC3339))
	}
	return w.Flush()
}

func printTrades(recs []store.TradeRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXEC\tORDER\tPRICE\tVOLUME\tCLOSED\tCOMMISSION\tPROFIT\tTIME")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%g\t%.2f\t%.2f\t%s\n",
			r.ExecID, r.OrderID, r.Price, r.Volume, r.ClosedVolume,
			r.Commission, r.Profit, r.TradeTime.Format(time.RFC3339))
	}
	return w.Flush()
}
