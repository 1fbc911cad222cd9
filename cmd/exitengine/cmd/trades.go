package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/exitengine/api"
	"github.com/rustyeddy/exitengine/journal"
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Query closed trades in the journal",
	Long: `List closed trades from a SQLite journal as Org-mode blocks, or show one
trade with its exit legs.

Examples:
  exitengine trades --from 2024-01-01 --symbol BTCUSDT
  exitengine trades today
  exitengine trades show <position-id>`,
	RunE: runTradesList,
}

var tradesShowCmd = &cobra.Command{
	Use:   "show <position-id>",
	Short: "Show one trade and its exit legs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradesShow,
}

var tradesTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runTradesToday,
}

var (
	tradesDBPath  string
	tradesFrom    string
	tradesTo      string
	tradesSymbol  string
	tradesLimit   int
	tradesSummary bool
)

func init() {
	rootCmd.AddCommand(tradesCmd)
	tradesCmd.AddCommand(tradesShowCmd)
	tradesCmd.AddCommand(tradesTodayCmd)

	tradesCmd.PersistentFlags().StringVarP(&tradesDBPath, "db", "d", "", "SQLite journal (default: journal.db_path)")
	tradesCmd.Flags().StringVar(&tradesFrom, "from", "", "first close day (YYYY-MM-DD)")
	tradesCmd.Flags().StringVar(&tradesTo, "to", "", "close day to stop before (YYYY-MM-DD)")
	tradesCmd.Flags().StringVar(&tradesSymbol, "symbol", "", "only this symbol")
	tradesCmd.Flags().IntVar(&tradesLimit, "limit", 0, "only the most recent n trades")
	tradesCmd.Flags().BoolVar(&tradesSummary, "summary", false, "print performance metrics after the list")
}

func openTradesDB() (*journal.SQLite, error) {
	path := firstNonEmpty(tradesDBPath, cfg.Journal.DBPath)
	if path == "" {
		return nil, fmt.Errorf("no journal db configured")
	}
	db, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func runTradesList(cmd *cobra.Command, args []string) error {
	db, err := openTradesDB()
	if err != nil {
		return err
	}
	defer db.Close()

	f := journal.TradeFilter{Symbol: tradesSymbol, Limit: tradesLimit}
	if tradesFrom != "" {
		if f.From, err = time.ParseInLocation("2006-01-02", tradesFrom, time.UTC); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if tradesTo != "" {
		if f.To, err = time.ParseInLocation("2006-01-02", tradesTo, time.UTC); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}
	return printTrades(cmd, db, f)
}

func runTradesToday(cmd *cobra.Command, args []string) error {
	db, err := openTradesDB()
	if err != nil {
		return err
	}
	defer db.Close()

	loc := time.Local
	now := time.Now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return printTrades(cmd, db, journal.TradeFilter{From: start, To: start.AddDate(0, 0, 1)})
}

func runTradesShow(cmd *cobra.Command, args []string) error {
	db, err := openTradesDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	t, err := db.GetTrade(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	exits, err := db.ListExits(ctx, t.PositionID)
	if err != nil {
		return fmt.Errorf("get exits: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(t, exits))
	return nil
}

func printTrades(cmd *cobra.Command, db *journal.SQLite, f journal.TradeFilter) error {
	ctx := cmd.Context()
	trades, err := db.ListTrades(ctx, f)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(trades) == 0 {
		fmt.Fprintln(out, "No trades.")
		return nil
	}
	for _, t := range trades {
		exits, err := db.ListExits(ctx, t.PositionID)
		if err != nil {
			return fmt.Errorf("get exits for %s: %w", t.PositionID, err)
		}
		fmt.Fprintln(out, journal.FormatTradeOrg(t, exits))
	}

	if tradesSummary {
		s := api.Summarize(trades)
		fmt.Fprintf(out, "\nTrades: %d  Win rate: %.1f%%  Net P/L: %.2f  Max DD: %.2f (%.2f%%)\n",
			s.Trades, s.WinRate*100, s.NetPL, s.MaxDrawdown, s.MaxDrawdownPct*100)
	}
	return nil
}
