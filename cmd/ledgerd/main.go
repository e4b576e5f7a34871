/*
ledgerd - Supplier ledger server and maintenance CLI

COMMANDS:
  serve                      Run the HTTP API (and the periodic reconciler)
  reconcile <supplier-id>    Recalculate one supplier from its ledger
  reconcile --all            Recalculate every supplier
  migrate                    Create the schema and exit
  seed <scenario>            Load a demo scenario

CONFIGURATION:
  Environment variables (see config/config.go), overridden by the
  persistent flags below when given.

EXAMPLES:
  # Local server on SQLite
  ledgerd serve --sqlite-path ./data/ledger.db

  # PostgreSQL with Redis supplier locks
  STORE_DRIVER=postgres PG_DSN=postgres://... REDIS_ADDR=redis:6379 ledgerd serve

  # Nightly repair from cron
  ledgerd reconcile --all --log-format json
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/supplier-ledger/config"
	"github.com/warp/supplier-ledger/logging"
)

var version = "dev"

func main() {
	opts := &rootOptions{}
	err := rootCmd(opts).Execute()
	opts.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions is shared by every subcommand once PersistentPreRunE ran.
type rootOptions struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer

	storeDriver string
	sqlitePath  string
	pgDSN       string
	redisAddr   string
	logLevel    string
	logFormat   string
}

func rootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerd",
		Short: "Supplier ledger consistency engine",
		Long: `ledgerd keeps supplier outstanding balances, procurement records and the
supplier ledger consistent across creates, edits, transfers, deletions and
payments. It serves a JSON API and runs balance repairs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.storeDriver, "store", "", "Store driver: sqlite, postgres or memory (env STORE_DRIVER)")
	f.StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database path, \":memory:\" allowed (env SQLITE_PATH)")
	f.StringVar(&opts.pgDSN, "pg-dsn", "", "PostgreSQL DSN (env PG_DSN)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address for supplier locks (env REDIS_ADDR)")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json (env LOG_FORMAT)")

	cmd.AddCommand(
		serveCmd(opts),
		reconcileCmd(opts),
		migrateCmd(opts),
		seedCmd(opts),
	)
	return cmd
}

// load reads the environment, applies flag overrides and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, val string) {
		if flags.Changed(name) {
			*dst = val
		}
	}
	override("store", &cfg.StoreDriver, o.storeDriver)
	override("sqlite-path", &cfg.SQLitePath, o.sqlitePath)
	override("pg-dsn", &cfg.PGDSN, o.pgDSN)
	override("redis-addr", &cfg.RedisAddr, o.redisAddr)
	override("log-level", &cfg.LogLevel, o.logLevel)
	override("log-format", &cfg.LogFormat, o.logFormat)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	_, closer, err := logging.Setup(cfg.Logging())
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logCloser = closer
	o.log = logging.WithComponent("ledgerd")
	return nil
}

// close releases the log output opened by load.
func (o *rootOptions) close() {
	if o.logCloser == nil {
		return
	}
	if err := o.logCloser.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log output: %v\n", err)
	}
	o.logCloser = nil
}
