// Package main implements the entry point for the Parley server, which
// routes conversation jobs to per-session actors and serves synchronous
// chat requests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/parley/internal/config"
	"github.com/phrazzld/parley/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The --config flag overrides PARLEY_CONFIG.
func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Session-routed conversation job dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $"+config.ConfigPathEnv+" or ./config.yaml)")

	loadConfig := func() (*config.Config, error) {
		if cfgFile != "" {
			return config.LoadFile(cfgFile)
		}
		return config.Load()
	}

	root.AddCommand(newServeCmd(loadConfig), newMigrateCmd(loadConfig), newDeadLettersCmd(loadConfig))
	return root
}

type configLoader func() (*config.Config, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and queue consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.serve(cmd.Context())
		},
	}
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations for the Postgres queue",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("%w: database.url is required for migrations", config.ErrInvalidConfig)
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return err
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := db.Close(); cerr != nil {
					logger.Error("failed to close database", "error", cerr)
				}
			}()

			return postgres.Migrate(cmd.Context(), db, logger, args[0])
		},
	}
}

func newDeadLettersCmd(load configLoader) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List jobs that exhausted their delivery attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Queue.Backend != config.BackendPostgres {
				return fmt.Errorf("%w: dead letters are only persisted by the %s backend",
					config.ErrInvalidConfig, config.BackendPostgres)
			}
			logger, err := setupLogger(cfg)
			if err != nil {
				return err
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := db.Close(); cerr != nil {
					logger.Error("failed to close database", "error", cerr)
				}
			}()

			letters, err := postgres.NewQueue(db, cfg.Queue, logger).DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeDeadLetters(cmd.OutOrStdout(), letters)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to print (0 for all)")
	return cmd
}
