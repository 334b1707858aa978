package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"archsync/internal/config"
	"archsync/internal/store"
)

func migrateCmd(root *rootOptions) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down, roll back) the sync ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("%w: DATABASE_URL is required", config.ErrConfiguration)
			}

			ctx := cmd.Context()
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				if err := store.RollbackMigrations(ctx, db, store.Migrations()); err != nil {
					return err
				}
				log.Info("ledger migrations rolled back")
				return nil
			}
			if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
				return err
			}
			log.Info("ledger migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration")
	return cmd
}
