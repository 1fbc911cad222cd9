package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/exitengine/backtest"
	"github.com/rustyeddy/exitengine/config"
	"github.com/rustyeddy/exitengine/feed"
	"github.com/rustyeddy/exitengine/internal/id"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/strategy"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay a bar file through a strategy and the exit engine",
	Long: `Backtest walks a bar file oldest first, opens at most one position at a
time from the strategy's plans and manages it with the selected exit
profile. Files may be plain CSV or xz/lzma compressed.

Examples:
  exitengine backtest --bars data/BTCUSDT_4h.csv.xz --symbol BTCUSDT
  exitengine backtest --bars eth.csv --strategy momentum --exit-mode trend_trail --org eth.org`,
	RunE: runBacktest,
}

var (
	btBarsPath    string
	btSymbol      string
	btInterval    string
	btStrategy    string
	btExitMode    string
	btRisk        float64
	btSlippageBps float64
	btEquity      float64
	btWarmup      int
	btFrom        string
	btTo          string
	btDBPath      string
	btOrgPath     string
	btJSON        bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btBarsPath, "bars", "b", "", "path to bar CSV (time,open,high,low,close[,volume]) (required)")
	backtestCmd.Flags().StringVarP(&btSymbol, "symbol", "s", "", "symbol (default: from the file name)")
	backtestCmd.Flags().StringVarP(&btInterval, "interval", "i", "", "bar interval recorded with the run")
	backtestCmd.Flags().StringVar(&btStrategy, "strategy", "", "strategy name ("+strings.Join(strategy.Names(), ", ")+")")
	backtestCmd.Flags().StringVar(&btExitMode, "exit-mode", "", "exit mode: auto, map or a profile name")
	backtestCmd.Flags().Float64Var(&btRisk, "risk", 0, "risk fraction per trade (0.01 = 1%)")
	backtestCmd.Flags().Float64Var(&btSlippageBps, "slippage-bps", -1, "slippage in basis points")
	backtestCmd.Flags().Float64Var(&btEquity, "equity", 0, "starting equity")
	backtestCmd.Flags().IntVar(&btWarmup, "warmup", 0, "bars before the first signal")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "first bar time to include")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "first bar time to exclude")
	backtestCmd.Flags().StringVarP(&btDBPath, "db", "d", "", "SQLite journal to record the run and its trades in")
	backtestCmd.Flags().StringVar(&btOrgPath, "org", "", "write an Org-mode report to this path")
	backtestCmd.Flags().BoolVar(&btJSON, "json", false, "print the result as JSON instead of a table")

	_ = backtestCmd.MarkFlagRequired("bars")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	applyBacktestFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rng, err := parseRange(btFrom, btTo)
	if err != nil {
		return err
	}
	bars, err := feed.LoadFile(btBarsPath, rng)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	symbol := strings.ToUpper(btSymbol)
	if symbol == "" {
		symbol = symbolFromPath(btBarsPath)
	}

	strat, err := strategy.ByName(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return err
	}
	sel, err := cfg.Selector()
	if err != nil {
		return err
	}

	var db *journal.SQLite
	if btDBPath != "" {
		db, err = journal.NewSQLite(btDBPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
	}

	bc := backtest.Config{
		Symbol:       symbol,
		Instrument:   market.Lookup(symbol),
		StartEquity:  cfg.Account.Equity,
		RiskFraction: cfg.Engine.RiskFraction,
		SlippageBps:  cfg.Engine.SlippageBps,
		Warmup:       cfg.Engine.Warmup,
		Params:       cfg.Exits.Params,
		Selector:     sel,
		Policy:       cfg.Engine.Policy,
		Logger:       logger,
	}
	if db != nil {
		bc.Sink = db
	}

	logger.Info("backtest starting",
		zap.String("symbol", symbol),
		zap.String("strategy", strat.Name()),
		zap.String("exit_mode", cfg.Exits.Mode),
		zap.Int("bars", len(bars)),
	)
	res, err := backtest.Run(cmd.Context(), bars, strat, bc)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	out := cmd.OutOrStdout()
	if btJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		backtest.PrintResult(out, res)
	}

	if db == nil && btOrgPath == "" {
		return nil
	}

	run := res.Run(backtest.RunMeta{
		RunID:        id.New(),
		Created:      time.Now().UTC(),
		Interval:     cfg.Engine.Interval,
		Dataset:      filepath.Base(btBarsPath),
		ExitMode:     cfg.Exits.Mode,
		RiskFraction: cfg.Engine.RiskFraction,
		SlippageBps:  cfg.Engine.SlippageBps,
		Config:       runConfig(cfg),
	})
	if db != nil {
		if err := db.RecordBacktest(cmd.Context(), run); err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		logger.Info("backtest recorded", zap.String("run_id", run.RunID), zap.String("db", btDBPath))
	}
	if btOrgPath != "" {
		if err := run.WriteOrg(btOrgPath); err != nil {
			return fmt.Errorf("write org: %w", err)
		}
		fmt.Fprintf(out, "\nOrg report: %s\n", btOrgPath)
	}
	return nil
}

func applyBacktestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("interval") {
		cfg.Engine.Interval = btInterval
	}
	if f.Changed("strategy") {
		cfg.Strategy.Name = btStrategy
	}
	if f.Changed("exit-mode") {
		cfg.Exits.Mode = btExitMode
	}
	if f.Changed("risk") {
		cfg.Engine.RiskFraction = btRisk
	}
	if f.Changed("slippage-bps") {
		cfg.Engine.SlippageBps = btSlippageBps
	}
	if f.Changed("equity") {
		cfg.Account.Equity = btEquity
	}
	if f.Changed("warmup") {
		cfg.Engine.Warmup = btWarmup
	}
}

// runConfig is the part of the configuration that shapes a run's trades.
func runConfig(c *config.Config) []byte {
	b, err := yaml.Marshal(struct {
		Engine   config.EngineConfig   `yaml:"engine"`
		Exits    config.ExitsConfig    `yaml:"exits"`
		Strategy config.StrategyConfig `yaml:"strategy"`
	}{c.Engine, c.Exits, c.Strategy})
	if err != nil {
		return nil
	}
	return b
}

func parseRange(from, to string) (feed.Range, error) {
	var rng feed.Range
	var err error
	if from != "" {
		if rng.From, err = feed.ParseTime(from); err != nil {
			return rng, fmt.Errorf("--from: %w", err)
		}
	}
	if to != "" {
		if rng.To, err = feed.ParseTime(to); err != nil {
			return rng, fmt.Errorf("--to: %w", err)
		}
	}
	return rng, nil
}

// symbolFromPath takes the symbol from a SYMBOL_interval.csv style name.
func symbolFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexAny(base, "_."); i > 0 {
		base = base[:i]
	}
	return strings.ToUpper(base)
}
