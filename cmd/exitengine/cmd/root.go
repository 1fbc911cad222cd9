package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/exitengine/config"
	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/ledger"
	"github.com/rustyeddy/exitengine/sim"
)

var rootCmd = &cobra.Command{
	Use:   "exitengine",
	Short: "Position lifecycle and exit simulation engine",
	Long: `Exitengine sizes, opens and manages positions from strategy signals and
simulates their exits bar by bar or tick by tick.

It provides tools for:
  - Backtesting a strategy and exit profile over historical bars
  - Paper trading on closed bars from Binance or a bar directory
  - Watching open positions against the latest price
  - Serving the trade journal over a small JSON API`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	cfgFile  string
	envFiles []string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

// Execute adds all child commands to the root command and runs it until
// it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if logger != nil {
		_ = logger.Sync()
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// setup loads the configuration, applies the environment on top and builds
// the logger. Flags applied by each command win over both.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	cfg.RegisterInstruments()

	logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	return nil
}

// openJournal builds the configured sink. The SQLite handle is returned as
// well when the sink is backed by one.
func openJournal(jc config.JournalConfig) (journal.Journal, *journal.SQLite, error) {
	switch jc.Type {
	case "sqlite":
		db, err := journal.NewSQLite(jc.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal db: %w", err)
		}
		return db, db, nil
	case "csv":
		j, err := journal.NewCSV(jc.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open csv journal: %w", err)
		}
		return j, nil, nil
	default:
		return nil, nil, nil
	}
}

// newEngine wires a ledger over sink and an engine configured from cfg.
func newEngine(sink journal.Journal) (*sim.Engine, *ledger.Ledger, error) {
	sel, err := cfg.Selector()
	if err != nil {
		return nil, nil, err
	}
	l := ledger.New(ledger.Account{
		ID:       cfg.Account.ID,
		Currency: cfg.Account.Currency,
		Equity:   cfg.Account.Equity,
	}, sink, logger)

	eng := sim.NewEngine(l, sim.Options{
		Params:   cfg.Exits.Params,
		Selector: sel,
		Policy:   cfg.Engine.Policy,
		Logger:   logger,
	})
	return eng, l, nil
}
