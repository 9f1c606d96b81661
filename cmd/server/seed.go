package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/outlet-reservation/internal/repository"
	"github.com/iliyamo/outlet-reservation/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load outlets, opening hours and tables from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outlets, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d outlets are valid\n", len(outlets))
				return nil
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := seed.Apply(ctx, repository.NewStore(db, cfg.Store.Timeout), outlets, logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d outlets\n", len(outlets))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}
