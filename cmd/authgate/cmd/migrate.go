package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	gormstore "github.com/panyam/authgate/stores/gorm"
	"github.com/panyam/authgate/stores/migrations"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		direction := args[0]

		if cfg.Database.Driver != "postgres" {
			if direction != "up" {
				return fmt.Errorf("migrate down is only supported for postgres")
			}
			db, err := openDatabase(cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			return gormstore.AutoMigrate(db)
		}

		if err := migrations.Run(cfg.Database.DSN, direction); err != nil {
			return err
		}
		slog.Info("migrations applied", "direction", direction)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
