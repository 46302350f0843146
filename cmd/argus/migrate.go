package main

import (
	"github.com/Ramsey-B/argus/config"
	"github.com/Ramsey-B/argus/pkg/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var version, force int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to a fresh database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("version") {
				cfg.DatabaseMigrationVersion = version
			}
			if cmd.Flags().Changed("force") {
				cfg.DatabaseMigrationForce = force
			}
			logger, flush, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer flush()

			db, err := database.Open(cmd.Context(), databaseConfig(cfg), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrationService(cfg, logger).MigrateDB(db)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "target version, 0 for latest")
	cmd.Flags().IntVar(&force, "force", 0, "force this version before migrating, 0 to skip")
	return cmd
}
