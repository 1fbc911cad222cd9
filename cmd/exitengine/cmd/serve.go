package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/exitengine/api"
	"github.com/rustyeddy/exitengine/journal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trade journal as JSON",
	Long: `Serve exposes a SQLite journal over HTTP: trades and their exit legs,
entries, the equity curve and a performance summary.

Example:
  exitengine serve --db ./exitengine.db --addr :8080`,
	RunE: runServe,
}

var (
	serveDBPath string
	serveAddr   string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveDBPath, "db", "d", "", "SQLite journal (default: journal.db_path)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: api.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	path := firstNonEmpty(serveDBPath, cfg.Journal.DBPath)
	if path == "" {
		return fmt.Errorf("no journal db configured")
	}
	db, err := journal.NewSQLite(path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	err = api.New(db, nil, logger).ListenAndServe(cmd.Context(), firstNonEmpty(serveAddr, cfg.API.Addr))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
