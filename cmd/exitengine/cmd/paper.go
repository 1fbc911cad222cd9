package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/exitengine/api"
	"github.com/rustyeddy/exitengine/broker"
	"github.com/rustyeddy/exitengine/exchange"
	"github.com/rustyeddy/exitengine/feed"
	"github.com/rustyeddy/exitengine/market"
	"github.com/rustyeddy/exitengine/scheduler"
	"github.com/rustyeddy/exitengine/sim"
	"github.com/rustyeddy/exitengine/strategy"
)

// settleDelay gives the exchange time to publish a bar after it closes.
const settleDelay = 3 * time.Second

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Run the strategy on every closed bar",
	Long: `Paper fetches recent bars for each configured symbol after every bar
close, evaluates open positions against the last closed bar and asks the
strategy for a new plan. Positions are simulated unless trading is enabled,
in which case plans are sent to the exchange as bracket orders.

With --watch, open positions are also checked against the latest price
between bar closes. With --serve, the journal API runs alongside.

Examples:
  exitengine paper --once --bars-dir ./data
  exitengine paper --symbols BTCUSDT,ETHUSDT --watch --serve`,
	RunE: runPaper,
}

var (
	paperOnce    bool
	paperBarsDir string
	paperSymbols []string
	paperWatch   bool
	paperServe   bool
)

func init() {
	rootCmd.AddCommand(paperCmd)

	paperCmd.Flags().BoolVar(&paperOnce, "once", false, "run a single cycle and exit")
	paperCmd.Flags().StringVar(&paperBarsDir, "bars-dir", "", "read bars from SYMBOL_interval.csv files instead of Binance")
	paperCmd.Flags().StringSliceVar(&paperSymbols, "symbols", nil, "symbols to trade (default: scheduler.symbols)")
	paperCmd.Flags().BoolVar(&paperWatch, "watch", false, "watch open positions against the latest price")
	paperCmd.Flags().BoolVar(&paperServe, "serve", false, "serve the journal API while running")
}

func runPaper(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("bars-dir") {
		cfg.Scheduler.BarsDir = paperBarsDir
	}
	if len(paperSymbols) > 0 {
		cfg.Scheduler.Symbols = scheduler.Symbols(paperSymbols)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := cmd.Context()
	sink, db, err := openJournal(cfg.Journal)
	if err != nil {
		return err
	}
	if db != nil {
		// Paper equity carries over from the journal's realized curve.
		last, ok, err := db.LastEquity(ctx)
		if err != nil {
			return fmt.Errorf("read equity: %w", err)
		}
		if ok {
			cfg.Account.Equity = last.Equity
		}
	}
	eng, l, err := newEngine(sink)
	if err != nil {
		return err
	}
	defer l.Close()

	strat, err := strategy.ByName(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return err
	}

	var (
		src market.PriceSource
		bn  *exchange.Binance
	)
	if cfg.Scheduler.BarsDir != "" {
		src = feed.NewDir(cfg.Scheduler.BarsDir)
	} else {
		bn = exchange.NewBinance(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet, logger)
		bn.SetQuoteAsset(cfg.Account.Currency)
		src = bn
	}

	runner, err := scheduler.NewRunner(scheduler.Config{
		Symbols:      cfg.Scheduler.Symbols,
		Interval:     cfg.Engine.Interval,
		BarsLimit:    cfg.Scheduler.BarsLimit,
		Concurrency:  cfg.Scheduler.Concurrency,
		Retries:      cfg.Scheduler.Retries,
		RiskFraction: cfg.Engine.RiskFraction,
		SlippageBps:  cfg.Engine.SlippageBps,
		Policy:       cfg.Engine.Policy,
		TradeEnabled: cfg.Scheduler.TradeEnabled,
	}, eng, src, strat, logger)
	if err != nil {
		return err
	}
	if bn != nil {
		runner.SetInstruments(bn)
	}
	if cfg.Scheduler.TradeEnabled {
		switch {
		case bn != nil && cfg.Exchange.APIKey != "":
			runner.SetBroker(bn)
		default:
			logger.Warn("trading enabled without exchange credentials, using the paper broker")
			runner.SetBroker(broker.NewPaper(cfg.Account.Equity))
		}
	}

	if db != nil {
		runner.SetStateStore(db)
		n, err := runner.Restore(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("open positions restored", zap.Int("count", n))
		}
	}

	logger.Info("paper run starting",
		zap.Strings("symbols", cfg.Scheduler.Symbols),
		zap.String("interval", cfg.Engine.Interval),
		zap.String("strategy", strat.Name()),
		zap.String("exit_mode", cfg.Exits.Mode),
		zap.Bool("trade_enabled", cfg.Scheduler.TradeEnabled),
		zap.Float64("equity", l.Equity()),
	)

	if paperOnce {
		out, err := runner.RunCycle(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	var watcher *scheduler.Watcher
	if paperWatch {
		mode, err := scheduler.ParseWatchMode(cfg.Scheduler.WatchMode)
		if err != nil {
			return err
		}
		watcher, err = scheduler.NewWatcher(scheduler.WatchConfig{
			Mode:         mode,
			Symbols:      cfg.Scheduler.Watch,
			PollInterval: cfg.PollInterval(),
			FetchTimeout: time.Duration(cfg.Scheduler.FetchTimeoutMS) * time.Millisecond,
			RatePerSec:   cfg.Scheduler.RatePerSec,
			Concurrency:  cfg.Scheduler.Concurrency,
		}, eng, src, logger)
		if err != nil {
			return err
		}
	}

	var srv *api.Server
	if paperServe {
		if db == nil {
			return fmt.Errorf("--serve needs a sqlite journal")
		}
		srv = api.New(db, eng, logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx, settleDelay, reportOutcomes("cycle"))
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(ctx, reportOutcomes("watch"))
		})
	}
	if srv != nil {
		g.Go(func() error {
			return srv.ListenAndServe(ctx, cfg.API.Addr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("paper run stopped", zap.Float64("equity", l.Equity()))
	return nil
}

// reportOutcomes logs every outcome that changed something and a one line
// tally per cycle.
func reportOutcomes(source string) func([]sim.Outcome) {
	return func(out []sim.Outcome) {
		for _, o := range out {
			if o.Kind == sim.OutcomeHeld || (o.Kind == sim.OutcomeSkipped && o.Err == nil) {
				continue
			}
			fields := []zap.Field{
				zap.String("source", source),
				zap.String("symbol", o.Symbol),
				zap.String("kind", string(o.Kind)),
			}
			if o.Reason != "" {
				fields = append(fields, zap.String("reason", o.Reason))
			}
			for _, x := range o.Exits {
				fields = append(fields, zap.String("exit", fmt.Sprintf("%s %.4g@%.8g pnl=%.2f", x.Label, x.Qty, x.ExecPrice, x.PnL)))
			}
			if o.Err != nil {
				logger.Warn("outcome", append(fields, zap.Error(o.Err))...)
				continue
			}
			logger.Info("outcome", fields...)
		}

		counts := scheduler.Counts(out)
		logger.Debug(source+" done",
			zap.Int("opened", counts[sim.OutcomeOpened]),
			zap.Int("exited", counts[sim.OutcomeExited]),
			zap.Int("placed", counts[sim.OutcomePlaced]),
			zap.Int("held", counts[sim.OutcomeHeld]),
			zap.Int("skipped", counts[sim.OutcomeSkipped]),
		)
	}
}
