package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/app"
	"github.com/sznuper/sqlwatch/internal/database"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without running probes",
	Long: "Loads the config, resolves and pins every probe query, compiles predicates and schedules, " +
		"and builds every sink. With --connect it also pings the database.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		connect, _ := cmd.Flags().GetBool("connect")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg.Options)
		if err != nil {
			return err
		}

		reg, err := app.BuildRegistry(cfg)
		if err != nil {
			return err
		}
		var errs []error
		for p := range reg.List() {
			if perr := p.PredicateErr(); perr != nil {
				errs = append(errs, fmt.Errorf("probe %q: predicate: %w", p.Name, perr))
			}
		}

		d, err := app.BuildDispatcher(cfg, logger)
		if err != nil {
			errs = append(errs, err)
		} else {
			_ = d.Close()
		}

		if connect {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			db, err := database.Open(ctx, database.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, MaxConns: 1})
			if err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			} else {
				_ = db.Close()
			}
		}

		if err := errors.Join(errs...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d probes, %d sinks OK\n", cfg.Path, reg.Len(), len(cfg.Sinks))
		return nil
	},
}

func init() {
	validateCmd.Flags().Bool("connect", false, "also connect to the database")
	rootCmd.AddCommand(validateCmd)
}
