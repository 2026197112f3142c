package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the audit database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			gormDB, err := db.Connect(cfg.DB)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Audit schema up to date (%s)\n", cfg.DB.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "conductor.yaml", "path to Conductor config file")
	return cmd
}
